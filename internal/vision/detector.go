package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/wyvern-data/surface.report/internal/httputil"
)

// Detector finds defect candidates in a frame.
type Detector interface {
	Detect(ctx context.Context, f Frame) ([]Detection, error)
}

// HTTPDetector posts the frame JPEG to an inference sidecar and decodes
// the boxes it returns. The sidecar speaks a single endpoint:
//
//	POST <URL>  body: image/jpeg
//	200 {"detections":[{"class":"pothole","confidence":0.87,"bbox":[x1,y1,x2,y2]}]}
//
// Boxes come back in the pixel space of the posted image.
type HTTPDetector struct {
	URL    string
	Client httputil.Doer

	// Timeout bounds one inference call (default 2s). The fusion cycle
	// must never hang on the sidecar.
	Timeout time.Duration

	// MinConfidence drops weaker boxes at the client (default 0, keep all).
	MinConfidence float64
}

type wireDetection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

type wireDetections struct {
	Detections []wireDetection `json:"detections"`
}

// Detect runs one inference round trip.
func (d *HTTPDetector) Detect(ctx context.Context, f Frame) ([]Detection, error) {
	client := d.Client
	if client == nil {
		client = httputil.NewClient(d.timeout())
	}

	payload := f.JPEG
	if payload == nil {
		var err error
		payload, err = EncodeJPEG(f.Image)
		if err != nil {
			return nil, fmt.Errorf("encode frame: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var wire wireDetections
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFramePayload)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("detector response: %w", err)
	}

	dets := make([]Detection, 0, len(wire.Detections))
	for _, w := range wire.Detections {
		if w.Confidence < d.MinConfidence {
			continue
		}
		box := NewRect(w.BBox[0], w.BBox[1], w.BBox[2], w.BBox[3])
		if !box.Valid() {
			continue
		}
		class := w.Class
		if class == "" {
			class = "defect"
		}
		dets = append(dets, Detection{Class: class, Confidence: w.Confidence, Box: box})
	}
	return dets, nil
}

func (d *HTTPDetector) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return 2 * time.Second
}

// LuminanceDetector finds connected dark regions in the frame. It is the
// development fallback when no inference sidecar is running: surface
// defects read darker than intact pavement, so dark blobs are a usable
// stand-in for real detections.
type LuminanceDetector struct {
	// Threshold is the luminance cutoff (0..255); pixels below it are
	// candidates. Zero derives a cutoff from the frame statistics
	// (mean minus one standard deviation).
	Threshold float64

	// MinArea is the smallest component worth reporting, in pixels
	// (default 100).
	MinArea int

	// MaxBoxes caps the number of reported regions, largest first
	// (default 8).
	MaxBoxes int
}

type darkRegion struct {
	box    Rect
	pixels int
}

// Detect scans the frame for connected dark components and returns their
// bounding boxes. Confidence is the component's fill ratio inside its
// box, so compact blobs score higher than straggly noise.
func (d *LuminanceDetector) Detect(ctx context.Context, f Frame) ([]Detection, error) {
	if f.Image == nil {
		return nil, fmt.Errorf("nil frame image")
	}
	gray := grayscale(f.Image)
	w := gray.Bounds().Dx()
	h := gray.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, nil
	}

	threshold := d.Threshold
	if threshold <= 0 {
		mean, stddev := grayStats(gray)
		threshold = mean - stddev
	}
	minArea := d.MinArea
	if minArea <= 0 {
		minArea = 100
	}
	maxBoxes := d.MaxBoxes
	if maxBoxes <= 0 {
		maxBoxes = 8
	}

	dark := func(x, y int) bool {
		return float64(gray.GrayAt(gray.Bounds().Min.X+x, gray.Bounds().Min.Y+y).Y) < threshold
	}

	seen := make([]bool, w*h)
	var regions []darkRegion
	var queue []point2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if seen[idx] {
				continue
			}
			seen[idx] = true
			if !dark(x, y) {
				continue
			}

			// Flood the component, tracking its bounding box.
			queue = append(queue[:0], point2{x, y})
			x0, y0, x1, y1 := x, y, x, y
			count := 0
			for len(queue) > 0 {
				p := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				count++
				if p.x < x0 {
					x0 = p.x
				}
				if p.x > x1 {
					x1 = p.x
				}
				if p.y < y0 {
					y0 = p.y
				}
				if p.y > y1 {
					y1 = p.y
				}
				for _, n := range [4]point2{{p.x, p.y - 1}, {p.x, p.y + 1}, {p.x - 1, p.y}, {p.x + 1, p.y}} {
					if n.x < 0 || n.y < 0 || n.x >= w || n.y >= h {
						continue
					}
					nIdx := n.y*w + n.x
					if seen[nIdx] {
						continue
					}
					seen[nIdx] = true
					if dark(n.x, n.y) {
						queue = append(queue, n)
					}
				}
			}
			if count < minArea {
				continue
			}
			regions = append(regions, darkRegion{
				box:    NewRect(float64(x0), float64(y0), float64(x1+1), float64(y1+1)),
				pixels: count,
			})
		}
	}

	sort.Slice(regions, func(i, j int) bool {
		if regions[i].pixels != regions[j].pixels {
			return regions[i].pixels > regions[j].pixels
		}
		if regions[i].box.Y1 != regions[j].box.Y1 {
			return regions[i].box.Y1 < regions[j].box.Y1
		}
		return regions[i].box.X1 < regions[j].box.X1
	})
	if len(regions) > maxBoxes {
		regions = regions[:maxBoxes]
	}

	dets := make([]Detection, 0, len(regions))
	for _, r := range regions {
		conf := float64(r.pixels) / r.box.Area()
		if conf > 1 {
			conf = 1
		}
		dets = append(dets, Detection{Class: "dark-region", Confidence: conf, Box: r.box})
	}
	return dets, nil
}

type point2 struct{ x, y int }
