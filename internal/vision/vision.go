// Package vision holds the camera side of the survey pipeline: frame
// acquisition, defect detection, bearing resolution against the range
// sensor, and the geometric and texture analysis run once per confirmed
// defect.
package vision

import (
	"image"
	"math"
	"time"
)

// Rect is an axis-aligned box in pixel coordinates. Coordinates are
// float64 so bbox smoothing stays exact.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// NewRect builds a Rect from corner coordinates.
func NewRect(x1, y1, x2, y2 float64) Rect {
	return Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Width reports the box width in pixels, zero for a malformed box.
func (r Rect) Width() float64 {
	if r.X2 < r.X1 {
		return 0
	}
	return r.X2 - r.X1
}

// Height reports the box height in pixels, zero for a malformed box.
func (r Rect) Height() float64 {
	if r.Y2 < r.Y1 {
		return 0
	}
	return r.Y2 - r.Y1
}

// Area reports the box area in square pixels.
func (r Rect) Area() float64 {
	return r.Width() * r.Height()
}

// CenterX reports the horizontal center of the box.
func (r Rect) CenterX() float64 {
	return (r.X1 + r.X2) / 2
}

// CenterY reports the vertical center of the box.
func (r Rect) CenterY() float64 {
	return (r.Y1 + r.Y2) / 2
}

// Valid reports whether the box is well formed (x2 >= x1, y2 >= y1).
func (r Rect) Valid() bool {
	return r.X2 >= r.X1 && r.Y2 >= r.Y1
}

// Bounds converts the box to an image.Rectangle, rounding outward so the
// region always covers the full box.
func (r Rect) Bounds() image.Rectangle {
	return image.Rect(int(r.X1), int(r.Y1), int(r.X2+0.5), int(r.Y2+0.5))
}

// IoU reports intersection over union of two boxes. Disjoint or zero-area
// boxes give 0; identical non-degenerate boxes give 1. Symmetric.
func IoU(a, b Rect) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is a single defect candidate reported by a detector, in the
// pixel space of the frame it was detected on.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// ResolvedDetection is a Detection annotated with the bearing derived from
// its position in the frame and, when the range sensor had a reading in
// that direction, the measured distance and estimated physical width.
// Absence of range data is carried in the flags; the detection itself is
// never dropped for it.
type ResolvedDetection struct {
	Detection
	AngleDeg    float64
	HasAngle    bool
	DistanceM   float64
	HasDistance bool
	WidthM      float64
	HasWidth    bool
}

// Frame is one captured camera frame. JPEG holds the original encoded
// bytes when the source produced them, so re-encoding can be skipped.
type Frame struct {
	Image     image.Image
	JPEG      []byte
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
}
