package vision

import (
	"image"
	"math"

	"github.com/wyvern-data/surface.report/internal/units"
)

// GeometricDescriptor captures the measured shape of one defect, computed
// exactly once when its track is confirmed. Metric fields carry meaning
// only when HasMetric is set (a range reading existed); the
// contour-derived fields (circularity, convexity, ellipse) only when
// HasContour is set. Either flag being false degrades the record, it
// never suppresses it.
type GeometricDescriptor struct {
	WidthPx     float64 `json:"width_px"`
	HeightPx       float64 `json:"height_px"`
	AreaPx         float64 `json:"area_px"`
	PerimeterPx    float64 `json:"perimeter_px"`
	EllipseMajorPx float64 `json:"ellipse_major_px"`
	EllipseMinorPx float64 `json:"ellipse_minor_px"`

	WidthM     float64 `json:"width_m"`
	HeightM    float64 `json:"height_m"`
	AreaM2     float64 `json:"area_m2"`
	PerimeterM float64 `json:"perimeter_m"`

	AspectRatio    float64 `json:"aspect_ratio"`
	Circularity    float64 `json:"circularity"`
	Convexity      float64 `json:"convexity"`
	OrientationDeg float64 `json:"orientation_deg"`
	EllipseMajorM  float64 `json:"ellipse_major_m"`
	EllipseMinorM  float64 `json:"ellipse_minor_m"`

	HasContour bool `json:"has_contour"`
	HasMetric  bool `json:"has_metric"`
}

// Analysis is the full one-time measurement bundle for a confirmed
// defect.
type Analysis struct {
	Geometry GeometricDescriptor
	Texture  TextureDescriptor
	Depth    DepthEstimate
	Damage   DamageReport
}

// Analyzer turns a confirmed detection's image region into descriptors.
// It holds only calibration, no mutable state, so one instance serves
// the whole pipeline.
type Analyzer struct {
	// FOVDeg is the camera's horizontal field of view (default 70).
	FOVDeg float64

	// MinContourAreaPx is the smallest connected component treated as a
	// real contour (default 100). Below it the analyzer reports
	// bbox-derived geometry instead of fabricating shape metrics.
	MinContourAreaPx int
}

// MetersPerPixel converts a range reading into the ground scale of the
// frame: the width the field of view spans at that distance, divided by
// the frame width. False for unusable input.
func MetersPerPixel(distanceM, fovDeg float64, frameWidth int) (float64, bool) {
	if distanceM <= 0 || fovDeg <= 0 || frameWidth <= 0 {
		return 0, false
	}
	realWidth := 2 * distanceM * math.Tan(units.Radians(fovDeg)/2)
	return realWidth / float64(frameWidth), true
}

// Analyze measures the defect inside box. Bad input degrades to a
// bbox-derived descriptor; it never panics and never returns nothing.
func (a *Analyzer) Analyze(img image.Image, box Rect, distanceM float64, hasDistance bool) Analysis {
	fov := a.FOVDeg
	if fov <= 0 {
		fov = 70
	}
	minArea := a.MinContourAreaPx
	if minArea <= 0 {
		minArea = 100
	}

	var out Analysis
	if img == nil || !box.Valid() {
		out.Geometry = bboxGeometry(box, 0, false)
		out.Texture = AnalyzeTexture(nil, nil)
		out.Depth = EstimateDepth(nil, nil, distanceM, hasDistance)
		out.Damage = ClassifyDamage(out.Geometry, out.Texture)
		return out
	}

	frameWidth := img.Bounds().Dx()
	mpp, hasMetric := 0.0, false
	if hasDistance {
		mpp, hasMetric = MetersPerPixel(distanceM, fov, frameWidth)
	}

	roi, ok := grayROI(img, box)
	if !ok {
		out.Geometry = bboxGeometry(box, mpp, hasMetric)
		out.Texture = AnalyzeTexture(nil, nil)
		out.Depth = EstimateDepth(nil, nil, distanceM, hasDistance)
		out.Damage = ClassifyDamage(out.Geometry, out.Texture)
		return out
	}

	region, found := ExtractRegion(roi, minArea)
	var mask []bool
	if found {
		mask = region.Mask
	}

	if found {
		out.Geometry = contourGeometry(region, box, mpp, hasMetric)
	} else {
		out.Geometry = bboxGeometry(box, mpp, hasMetric)
	}
	out.Texture = AnalyzeTexture(roi, mask)
	out.Depth = EstimateDepth(roi, mask, distanceM, hasDistance)
	out.Damage = ClassifyDamage(out.Geometry, out.Texture)
	return out
}

// bboxGeometry is the degenerate fallback: area and aspect from the box
// itself, contour metrics marked unavailable rather than invented.
func bboxGeometry(box Rect, mpp float64, hasMetric bool) GeometricDescriptor {
	g := GeometricDescriptor{
		WidthPx:     box.Width(),
		HeightPx:    box.Height(),
		AreaPx:      box.Area(),
		PerimeterPx: 2 * (box.Width() + box.Height()),
		AspectRatio: aspectRatio(box),
	}
	applyScale(&g, mpp, hasMetric, box.Width(), box.Height())
	return g
}

func contourGeometry(region *Region, box Rect, mpp float64, hasMetric bool) GeometricDescriptor {
	areaPx := float64(region.AreaPx)
	perimeterPx := region.PerimeterPx
	if perimeterPx <= 0 {
		perimeterPx = 1
	}

	g := GeometricDescriptor{
		WidthPx:     box.Width(),
		HeightPx:    box.Height(),
		AreaPx:      areaPx,
		PerimeterPx: perimeterPx,
		AspectRatio: aspectRatio(box),
		Circularity: math.Min(1, 4*math.Pi*areaPx/(perimeterPx*perimeterPx)),
		HasContour:  true,
	}

	hullArea := polygonArea(region.ConvexHull())
	if hullArea < 1 {
		hullArea = 1
	}
	g.Convexity = math.Min(1, areaPx/hullArea)

	majorPx, minorPx := box.Width(), box.Height()
	if orientation, ma, mi, ok := region.FitEllipse(); ok {
		g.OrientationDeg = orientation
		majorPx, minorPx = ma, mi
	}
	applyScale(&g, mpp, hasMetric, majorPx, minorPx)
	return g
}

// applyScale fills the metric fields from the pixel ones. The ellipse
// axes ride along because they share the conversion.
func applyScale(g *GeometricDescriptor, mpp float64, hasMetric bool, majorPx, minorPx float64) {
	g.EllipseMajorPx = math.Max(majorPx, minorPx)
	g.EllipseMinorPx = math.Min(majorPx, minorPx)
	if !hasMetric {
		return
	}
	g.HasMetric = true
	g.WidthM = g.WidthPx * mpp
	g.HeightM = g.HeightPx * mpp
	g.AreaM2 = g.AreaPx * mpp * mpp
	g.PerimeterM = g.PerimeterPx * mpp
	g.EllipseMajorM = g.EllipseMajorPx * mpp
	g.EllipseMinorM = g.EllipseMinorPx * mpp
}

func aspectRatio(box Rect) float64 {
	h := box.Height()
	if h < 1 {
		h = 1
	}
	return box.Width() / h
}
