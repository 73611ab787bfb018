package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strconv"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Overlay palette.
var (
	ColorWhite  = color.RGBA{255, 255, 255, 255}
	ColorGreen  = color.RGBA{40, 200, 40, 255}
	ColorYellow = color.RGBA{230, 200, 0, 255}
	ColorOrange = color.RGBA{255, 140, 0, 255}
	ColorRed    = color.RGBA{220, 30, 30, 255}
)

// EncodeJPEG renders the image as JPEG at streaming quality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BoxLabel is one rectangle plus its caption on the overlay.
type BoxLabel struct {
	Box   Rect
	Label string
	Color color.RGBA
}

// AnnotationState is what the overlay should show right now: the boxes
// from the last fusion pass and a one-line status.
type AnnotationState struct {
	Boxes       []BoxLabel
	Status      string
	StatusColor color.RGBA
	Timestamp   time.Time
}

// AnnotationBoard hands the latest overlay state from the fusion loop
// to the video stream. Same latest-wins contract as FrameBuffer: the
// stream draws whatever state was most recently published, and frames
// keep flowing while fusion is between passes.
type AnnotationBoard struct {
	mu  sync.Mutex
	st  AnnotationState
	set bool
}

// Publish replaces the overlay state.
func (b *AnnotationBoard) Publish(st AnnotationState) {
	st.Boxes = append([]BoxLabel(nil), st.Boxes...)
	b.mu.Lock()
	b.st = st
	b.set = true
	b.mu.Unlock()
}

// Current returns the last published state, if any.
func (b *AnnotationBoard) Current() (AnnotationState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st, b.set
}

// DrawAnnotations composes the overlay onto a copy of base: frame
// counter top left, one outlined box per defect with its caption above,
// and the status line. The input image is not modified.
func DrawAnnotations(base image.Image, st AnnotationState, seq uint64) *image.RGBA {
	bounds := base.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, base, bounds.Min, draw.Src)

	drawText(out, bounds.Min.X+10, bounds.Min.Y+30, "Frame "+strconv.FormatUint(seq, 10), ColorWhite)

	for _, bl := range st.Boxes {
		r := bl.Box.Bounds().Add(bounds.Min)
		drawRectOutline(out, r, bl.Color, 2)
		if bl.Label != "" {
			drawText(out, r.Min.X, r.Min.Y-4, bl.Label, bl.Color)
		}
	}

	if st.Status != "" {
		drawText(out, bounds.Min.X+10, bounds.Min.Y+70, st.Status, st.StatusColor)
	}
	return out
}

// drawRectOutline draws a hollow rectangle px pixels thick. Set clips
// at the image edge on its own.
func drawRectOutline(dst *image.RGBA, r image.Rectangle, col color.RGBA, px int) {
	for i := 0; i < px; i++ {
		edge := r.Inset(i)
		if edge.Empty() {
			return
		}
		for x := edge.Min.X; x < edge.Max.X; x++ {
			dst.Set(x, edge.Min.Y, col)
			dst.Set(x, edge.Max.Y-1, col)
		}
		for y := edge.Min.Y; y < edge.Max.Y; y++ {
			dst.Set(edge.Min.X, y, col)
			dst.Set(edge.Max.X-1, y, col)
		}
	}
}

// drawText writes s with the baseline at (x, y).
func drawText(dst *image.RGBA, x, y int, s string, col color.RGBA) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(s)
}
