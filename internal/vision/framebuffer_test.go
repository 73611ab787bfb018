package vision

import (
	"testing"
	"time"
)

func TestFrameBufferLatestWins(t *testing.T) {
	t.Parallel()

	var buf FrameBuffer
	if _, ok := buf.Latest(); ok {
		t.Fatal("Latest reported a frame before any Publish")
	}
	if buf.Seq() != 0 {
		t.Fatalf("Seq = %d before any Publish, want 0", buf.Seq())
	}

	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	buf.Publish(solidGray(8, 6, 10), []byte("first"), t0)
	buf.Publish(solidGray(16, 12, 20), []byte("second"), t0.Add(100*time.Millisecond))

	f, ok := buf.Latest()
	if !ok {
		t.Fatal("Latest reported no frame after Publish")
	}
	if f.Seq != 2 {
		t.Errorf("Seq = %d, want 2", f.Seq)
	}
	if f.Width != 16 || f.Height != 12 {
		t.Errorf("dims = %dx%d, want 16x12 from the newest frame", f.Width, f.Height)
	}
	if string(f.JPEG) != "second" {
		t.Errorf("JPEG = %q, want the newest payload", f.JPEG)
	}
	if !f.Timestamp.Equal(t0.Add(100 * time.Millisecond)) {
		t.Errorf("Timestamp = %v, want the newest", f.Timestamp)
	}
	if buf.Seq() != 2 {
		t.Errorf("Seq = %d, want 2", buf.Seq())
	}
}

func TestFrameBufferIgnoresNilImage(t *testing.T) {
	t.Parallel()

	var buf FrameBuffer
	buf.Publish(nil, []byte("x"), time.Now())
	if _, ok := buf.Latest(); ok {
		t.Error("nil image was published")
	}
	if buf.Seq() != 0 {
		t.Errorf("Seq = %d after nil publish, want 0", buf.Seq())
	}
}
