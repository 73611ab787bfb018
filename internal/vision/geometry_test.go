package vision

import (
	"math"
	"testing"
)

func TestMetersPerPixel(t *testing.T) {
	t.Parallel()

	// At 2.3 m a 70 degree FOV spans 2*2.3*tan(35 deg) of road.
	got, ok := MetersPerPixel(2.3, 70, 1280)
	if !ok {
		t.Fatal("MetersPerPixel rejected valid input")
	}
	want := 2 * 2.3 * math.Tan(35*math.Pi/180) / 1280
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("MetersPerPixel = %v, want %v", got, want)
	}

	for _, tt := range []struct {
		name       string
		dist, fov  float64
		frameWidth int
	}{
		{"zero distance", 0, 70, 1280},
		{"negative distance", -1, 70, 1280},
		{"zero fov", 2.3, 0, 1280},
		{"zero frame", 2.3, 70, 0},
	} {
		if _, ok := MetersPerPixel(tt.dist, tt.fov, tt.frameWidth); ok {
			t.Errorf("%s: MetersPerPixel accepted bad input", tt.name)
		}
	}
}

func TestAnalyzeNilImage(t *testing.T) {
	t.Parallel()

	a := &Analyzer{}
	got := a.Analyze(nil, NewRect(10, 10, 60, 40), 2.0, true)

	if got.Geometry.HasContour {
		t.Error("HasContour = true without an image")
	}
	if got.Geometry.HasMetric {
		t.Error("HasMetric = true without an image")
	}
	if got.Geometry.WidthPx != 50 || got.Geometry.HeightPx != 30 {
		t.Errorf("bbox dims = %vx%v, want 50x30", got.Geometry.WidthPx, got.Geometry.HeightPx)
	}
	if got.Texture.Label != TextureUnknown {
		t.Errorf("texture label = %q, want %q", got.Texture.Label, TextureUnknown)
	}
	if got.Depth.Class != DepthShallow {
		t.Errorf("depth class = %q, want %q", got.Depth.Class, DepthShallow)
	}
	if got.Damage.Kind == "" {
		t.Error("damage kind empty, want a ranked kind even on no data")
	}
}

func TestAnalyzeBoxOutsideFrame(t *testing.T) {
	t.Parallel()

	img := solidGray(64, 64, 128)
	a := &Analyzer{}
	got := a.Analyze(img, NewRect(200, 200, 260, 240), 2.0, true)

	if got.Geometry.HasContour {
		t.Error("HasContour = true for a box outside the frame")
	}
	// Metric scale still applies, the box just has no pixels.
	if !got.Geometry.HasMetric {
		t.Error("HasMetric = false, scale is frame-wide")
	}
	if got.Texture.Label != TextureUnknown {
		t.Errorf("texture label = %q, want %q", got.Texture.Label, TextureUnknown)
	}
}

func TestAnalyzeUniformROIFallsBackToBBox(t *testing.T) {
	t.Parallel()

	img := solidGray(64, 64, 128)
	a := &Analyzer{}
	got := a.Analyze(img, NewRect(8, 8, 48, 28), 0, false)

	g := got.Geometry
	if g.HasContour {
		t.Error("HasContour = true on a featureless ROI")
	}
	if g.WidthPx != 40 || g.HeightPx != 20 || g.AreaPx != 800 {
		t.Errorf("bbox geometry = %+v, want 40x20 area 800", g)
	}
	if g.AspectRatio != 2 {
		t.Errorf("AspectRatio = %v, want 2", g.AspectRatio)
	}
	if g.PerimeterPx != 120 {
		t.Errorf("PerimeterPx = %v, want 120", g.PerimeterPx)
	}
	if g.HasMetric || g.AreaM2 != 0 {
		t.Errorf("metric fields set without a distance: %+v", g)
	}
}

func TestAnalyzeDarkBlobGeometry(t *testing.T) {
	t.Parallel()

	// Dark 10x10 blob centered in a bright 80x80 frame, ROI around it.
	img := solidGray(80, 80, 210)
	fillGrayRect(img, 35, 35, 45, 45, 30)

	a := &Analyzer{MinContourAreaPx: 40}
	got := a.Analyze(img, NewRect(20, 20, 60, 60), 2.0, true)

	g := got.Geometry
	if !g.HasContour {
		t.Fatal("HasContour = false, expected the blob's contour")
	}
	if g.AreaPx < 80 || g.AreaPx > 230 {
		t.Errorf("AreaPx = %v, want near 100", g.AreaPx)
	}
	if g.Circularity <= 0.5 || g.Circularity > 1 {
		t.Errorf("Circularity = %v, want a squarish value in (0.5, 1]", g.Circularity)
	}
	if g.Convexity <= 0.5 || g.Convexity > 1 {
		t.Errorf("Convexity = %v, want a solid value in (0.5, 1]", g.Convexity)
	}
	if !g.HasMetric {
		t.Fatal("HasMetric = false with a distance supplied")
	}
	mpp, _ := MetersPerPixel(2.0, 70, 80)
	if math.Abs(g.AreaM2-float64(g.AreaPx)*mpp*mpp) > 1e-9 {
		t.Errorf("AreaM2 = %v, inconsistent with AreaPx %v at scale %v", g.AreaM2, g.AreaPx, mpp)
	}
	if g.EllipseMajorPx < g.EllipseMinorPx {
		t.Errorf("ellipse axes out of order: major %v < minor %v", g.EllipseMajorPx, g.EllipseMinorPx)
	}
}

func TestBBoxGeometryMetricScale(t *testing.T) {
	t.Parallel()

	g := bboxGeometry(NewRect(0, 0, 100, 50), 0.01, true)
	if !g.HasMetric {
		t.Fatal("HasMetric = false")
	}
	if g.WidthM != 1.0 || g.HeightM != 0.5 {
		t.Errorf("metric dims = %vx%v, want 1.0x0.5", g.WidthM, g.HeightM)
	}
	if math.Abs(g.AreaM2-0.5) > 1e-12 {
		t.Errorf("AreaM2 = %v, want 0.5", g.AreaM2)
	}
	if g.EllipseMajorM != 1.0 || g.EllipseMinorM != 0.5 {
		t.Errorf("ellipse = %vx%v, want 1.0x0.5", g.EllipseMajorM, g.EllipseMinorM)
	}
}

func TestAspectRatioClampsFlatBox(t *testing.T) {
	t.Parallel()

	if got := aspectRatio(NewRect(0, 0, 50, 0)); got != 50 {
		t.Errorf("aspect of a flat box = %v, want 50", got)
	}
}
