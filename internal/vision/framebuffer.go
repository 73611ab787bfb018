package vision

import (
	"image"
	"sync"
	"time"
)

// FrameBuffer holds the most recent camera frame. The capture goroutine
// publishes at the camera's native rate; the fusion loop and the video
// feed read whatever is newest and never wait for the next frame. The
// lock is held only for the pointer swap, never across decode or I/O.
type FrameBuffer struct {
	mu    sync.Mutex
	frame Frame
	set   bool
	seq   uint64
}

// Publish stores a new latest frame. Callers hand over img and jpeg and
// must not mutate them afterwards.
func (b *FrameBuffer) Publish(img image.Image, jpegData []byte, ts time.Time) {
	if img == nil {
		return
	}
	bounds := img.Bounds()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.frame = Frame{
		Image:     img,
		JPEG:      jpegData,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Seq:       b.seq,
		Timestamp: ts,
	}
	b.set = true
}

// Latest returns the newest published frame. The second return is false
// before the first Publish. Published frames are treated as immutable, so
// the shared Image and JPEG bytes are safe to hand out.
func (b *FrameBuffer) Latest() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame, b.set
}

// Seq reports the sequence number of the newest frame, zero before the
// first Publish. Cheap staleness probe for callers that skip work when
// no new frame arrived.
func (b *FrameBuffer) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
