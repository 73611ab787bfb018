package main

import (
	"strings"
	"testing"
	"time"

	"github.com/wyvern-data/surface.report/internal/config"
	"github.com/wyvern-data/surface.report/internal/vision"
)

func TestBuildSessionNotes(t *testing.T) {
	tuning := config.DefaultTuningConfig()

	notes := buildSessionNotes("", tuning)
	if !strings.Contains(notes, `"sector_width_deg":5`) {
		t.Errorf("expected notes to carry the tuning snapshot, got %q", notes)
	}

	notes = buildSessionNotes("wet pavement, eastbound lane", tuning)
	if !strings.HasPrefix(notes, "wet pavement, eastbound lane\n") {
		t.Errorf("expected operator notes first, got %q", notes)
	}
	if !strings.Contains(notes, `"iou_threshold":0.3`) {
		t.Errorf("expected tuning snapshot after operator notes, got %q", notes)
	}
}

func TestNewFrameSource(t *testing.T) {
	src := newFrameSource("./testdata/frames", "http://cam.local/stream")
	dir, ok := src.(*vision.DirectorySource)
	if !ok {
		t.Fatalf("expected directory replay source, got %T", src)
	}
	if dir.Dir != "./testdata/frames" {
		t.Errorf("expected replay dir ./testdata/frames, got %q", dir.Dir)
	}

	src = newFrameSource("", "http://cam.local/stream")
	cam, ok := src.(*vision.MJPEGSource)
	if !ok {
		t.Fatalf("expected MJPEG camera source, got %T", src)
	}
	if cam.URL != "http://cam.local/stream" {
		t.Errorf("expected camera URL http://cam.local/stream, got %q", cam.URL)
	}
}

func TestNewDetector(t *testing.T) {
	tuning := config.DefaultTuningConfig()

	det := newDetector("http://sidecar.local/detect", tuning)
	httpDet, ok := det.(*vision.HTTPDetector)
	if !ok {
		t.Fatalf("expected HTTP detector, got %T", det)
	}
	if httpDet.Timeout != 2*time.Second {
		t.Errorf("expected 2s detector timeout, got %s", httpDet.Timeout)
	}
	if httpDet.MinConfidence != 0.25 {
		t.Errorf("expected 0.25 min confidence, got %v", httpDet.MinConfidence)
	}

	det = newDetector("", tuning)
	lum, ok := det.(*vision.LuminanceDetector)
	if !ok {
		t.Fatalf("expected luminance fallback detector, got %T", det)
	}
	if lum.MinArea != 100 {
		t.Errorf("expected min area 100, got %d", lum.MinArea)
	}
}
