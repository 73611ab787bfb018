package vision

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"
)

// grayscale converts an image to 8-bit gray via the standard luminance
// weights. The result is read-only shared storage when the input already
// is gray.
func grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	draw.Draw(g, b, img, b.Min, draw.Src)
	return g
}

// grayROI copies the part of img covered by box into a fresh gray image
// anchored at (0,0). The box is clamped to the image bounds; false means
// nothing of it lies inside the frame.
func grayROI(img image.Image, box Rect) (*image.Gray, bool) {
	b := img.Bounds()
	r := box.Bounds().Add(b.Min).Intersect(b)
	if r.Empty() {
		return nil, false
	}
	g := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(g, g.Bounds(), img, r.Min, draw.Src)
	return g, true
}

func grayStats(g *image.Gray) (mean, stddev float64) {
	b := g.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := float64(g.GrayAt(x, y).Y)
			sum += v
			sumSq += v * v
		}
	}
	mean = sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

var blurKernel5 = [5]float64{1, 4, 6, 4, 1}

// gaussianBlur5 applies a separable 5x5 binomial blur with edge
// replication, smoothing sensor noise before thresholding.
func gaussianBlur5(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -2; k <= 2; k++ {
				xx := clampInt(x+k, 0, w-1)
				sum += blurKernel5[k+2] * float64(src.GrayAt(b.Min.X+xx, b.Min.Y+y).Y)
			}
			tmp[y*w+x] = sum / 16
		}
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k := -2; k <= 2; k++ {
				yy := clampInt(y+k, 0, h-1)
				sum += blurKernel5[k+2] * tmp[yy*w+x]
			}
			out.SetGray(x, y, color.Gray{Y: uint8(sum/16 + 0.5)})
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// adaptiveThreshold marks pixels darker than their local neighbourhood,
// which holds up under the uneven lighting road footage has. A pixel is
// foreground when its value is at most the block mean minus offset.
func adaptiveThreshold(src *image.Gray, block int, offset float64) []bool {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	if block < 3 {
		block = 3
	}
	radius := block / 2

	// Integral image, one row and column of zero padding.
	integral := make([]float64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var rowSum float64
		for x := 0; x < w; x++ {
			rowSum += float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + rowSum
		}
	}

	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		y0 := clampInt(y-radius, 0, h-1)
		y1 := clampInt(y+radius, 0, h-1)
		for x := 0; x < w; x++ {
			x0 := clampInt(x-radius, 0, w-1)
			x1 := clampInt(x+radius, 0, w-1)
			area := float64((x1 - x0 + 1) * (y1 - y0 + 1))
			sum := integral[(y1+1)*(w+1)+x1+1] - integral[y0*(w+1)+x1+1] -
				integral[(y1+1)*(w+1)+x0] + integral[y0*(w+1)+x0]
			v := float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			mask[y*w+x] = v <= sum/area-offset
		}
	}
	return mask
}

// Region is the dominant connected component of a binarized ROI, the
// shape the geometric descriptors are measured on.
type Region struct {
	W, H        int
	Mask        []bool // row-major, true inside the component
	AreaPx      int
	Contour     []image.Point // ordered outer boundary
	PerimeterPx float64
}

// ExtractRegion binarizes the ROI and returns its largest connected
// component. False when no component reaches minAreaPx; callers fall
// back to bbox-derived geometry in that case.
func ExtractRegion(roi *image.Gray, minAreaPx int) (*Region, bool) {
	b := roi.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, false
	}

	mask := adaptiveThreshold(gaussianBlur5(roi), 11, 2)
	comp, area := largestComponent(mask, w, h)
	if comp == nil || area < minAreaPx {
		return nil, false
	}

	contour := traceBoundary(comp, w, h)
	return &Region{
		W:           w,
		H:           h,
		Mask:        comp,
		AreaPx:      area,
		Contour:     contour,
		PerimeterPx: contourPerimeter(contour),
	}, true
}

// largestComponent flood-fills the mask with 4-connectivity and returns
// the biggest component as its own mask plus its pixel count.
func largestComponent(mask []bool, w, h int) ([]bool, int) {
	seen := make([]bool, w*h)
	var best []int
	var queue []int

	for start := 0; start < w*h; start++ {
		if seen[start] || !mask[start] {
			seen[start] = true
			continue
		}
		seen[start] = true
		queue = append(queue[:0], start)
		var comp []int
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			comp = append(comp, idx)

			x, y := idx%w, idx/w
			for _, d := range [4]image.Point{{0, -1}, {0, 1}, {-1, 0}, {1, 0}} {
				nx, ny := x+d.X, y+d.Y
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				n := ny*w + nx
				if seen[n] {
					continue
				}
				seen[n] = true
				if mask[n] {
					queue = append(queue, n)
				}
			}
		}
		if len(comp) > len(best) {
			best = comp
		}
	}

	if len(best) == 0 {
		return nil, 0
	}
	out := make([]bool, w*h)
	for _, idx := range best {
		out[idx] = true
	}
	return out, len(best)
}

// mooreOffsets walks the 8-neighbourhood clockwise starting north.
var mooreOffsets = [8]image.Point{
	{0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1},
}

// traceBoundary walks the outer boundary of the component clockwise
// (Moore neighbourhood tracing) and returns the ordered boundary pixels.
func traceBoundary(comp []bool, w, h int) []image.Point {
	inside := func(p image.Point) bool {
		return p.X >= 0 && p.Y >= 0 && p.X < w && p.Y < h && comp[p.Y*w+p.X]
	}

	var start image.Point
	found := false
	for idx := 0; idx < w*h && !found; idx++ {
		if comp[idx] {
			start = image.Point{X: idx % w, Y: idx / w}
			found = true
		}
	}
	if !found {
		return nil
	}

	contour := []image.Point{start}
	// Entered the start pixel scanning from the west.
	backtrack := 6
	cur := start
	limit := 4 * (w*h + 1)

	for steps := 0; steps < limit; steps++ {
		next := -1
		for i := 1; i <= 8; i++ {
			dir := (backtrack + i) % 8
			if inside(cur.Add(mooreOffsets[dir])) {
				next = dir
				break
			}
		}
		if next < 0 {
			// Isolated pixel.
			break
		}
		cur = cur.Add(mooreOffsets[next])
		// Next scan resumes from the neighbour before the one we moved to.
		backtrack = (next + 5) % 8
		if cur == start && len(contour) > 1 {
			break
		}
		contour = append(contour, cur)
	}
	return contour
}

// contourPerimeter sums the closed path length over the boundary,
// counting diagonal steps as sqrt(2).
func contourPerimeter(contour []image.Point) float64 {
	if len(contour) < 2 {
		return 0
	}
	var sum float64
	for i := range contour {
		a := contour[i]
		b := contour[(i+1)%len(contour)]
		dx := float64(b.X - a.X)
		dy := float64(b.Y - a.Y)
		sum += math.Hypot(dx, dy)
	}
	return sum
}

// ConvexHull returns the hull of the boundary, counterclockwise in image
// coordinates, via the monotone chain construction.
func (r *Region) ConvexHull() []image.Point {
	pts := make([]image.Point, len(r.Contour))
	copy(pts, r.Contour)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})
	// Dedupe; tracing may visit a pixel twice on thin necks.
	uniq := pts[:0]
	for i, p := range pts {
		if i == 0 || p != pts[i-1] {
			uniq = append(uniq, p)
		}
	}
	pts = uniq
	if len(pts) < 3 {
		return pts
	}

	cross := func(o, a, b image.Point) int64 {
		return int64(a.X-o.X)*int64(b.Y-o.Y) - int64(a.Y-o.Y)*int64(b.X-o.X)
	}

	hull := make([]image.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// polygonArea is the shoelace area of a closed polygon.
func polygonArea(pts []image.Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var sum float64
	for i := range pts {
		a := pts[i]
		b := pts[(i+1)%len(pts)]
		sum += float64(a.X)*float64(b.Y) - float64(b.X)*float64(a.Y)
	}
	return math.Abs(sum) / 2
}

// FitEllipse fits an ellipse to the component via its second central
// moments. Axes are full lengths in pixels; the orientation is the major
// axis angle in degrees, in [0, 180), measured toward image-down.
// False when the component is too small to carry a stable fit.
func (r *Region) FitEllipse() (orientationDeg, majorPx, minorPx float64, ok bool) {
	if r.AreaPx < 5 {
		return 0, 0, 0, false
	}
	cx, cy := r.centroid()

	var mu20, mu02, mu11 float64
	for y := 0; y < r.H; y++ {
		for x := 0; x < r.W; x++ {
			if !r.Mask[y*r.W+x] {
				continue
			}
			dx := float64(x) - cx
			dy := float64(y) - cy
			mu20 += dx * dx
			mu02 += dy * dy
			mu11 += dx * dy
		}
	}
	n := float64(r.AreaPx)
	mu20 /= n
	mu02 /= n
	mu11 /= n

	common := math.Sqrt((mu20-mu02)*(mu20-mu02) + 4*mu11*mu11)
	l1 := (mu20 + mu02 + common) / 2
	l2 := (mu20 + mu02 - common) / 2
	if l2 < 0 {
		l2 = 0
	}
	if l1 <= 0 {
		return 0, 0, 0, false
	}

	orientationDeg = math.Atan2(2*mu11, mu20-mu02) / 2 * 180 / math.Pi
	if orientationDeg < 0 {
		orientationDeg += 180
	}
	return orientationDeg, 4 * math.Sqrt(l1), 4 * math.Sqrt(l2), true
}

func (r *Region) centroid() (float64, float64) {
	var sx, sy float64
	for y := 0; y < r.H; y++ {
		for x := 0; x < r.W; x++ {
			if r.Mask[y*r.W+x] {
				sx += float64(x)
				sy += float64(y)
			}
		}
	}
	n := float64(r.AreaPx)
	return sx / n, sy / n
}
