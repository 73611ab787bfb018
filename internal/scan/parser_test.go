package scan

import (
	"math"
	"testing"
	"time"
)

func TestStreamParserRoundTrip(t *testing.T) {
	t.Parallel()

	p := NewStreamParser()

	stream := ScanDescriptor()
	stream = append(stream, EncodeNode(0.0, 1.5, 30, true)...)
	stream = append(stream, EncodeNode(12.0, 2.5, 28, false)...)
	stream = append(stream, EncodeNode(351.5, 0.8, 25, false)...)

	samples := p.Feed(stream)
	if len(samples) != 3 {
		t.Fatalf("decoded %d samples, want 3", len(samples))
	}

	tests := []struct {
		angle   float64
		dist    float64
		quality int
	}{
		{0.0, 1.5, 30},
		{12.0, 2.5, 28},
		{351.5, 0.8, 25},
	}
	for i, tt := range tests {
		if math.Abs(samples[i].AngleDeg-tt.angle) > 0.02 {
			t.Errorf("sample %d angle = %v, want %v", i, samples[i].AngleDeg, tt.angle)
		}
		if math.Abs(samples[i].DistanceM-tt.dist) > 0.001 {
			t.Errorf("sample %d distance = %v, want %v", i, samples[i].DistanceM, tt.dist)
		}
		if samples[i].Quality != tt.quality {
			t.Errorf("sample %d quality = %d, want %d", i, samples[i].Quality, tt.quality)
		}
	}

	if p.Revolutions() != 1 {
		t.Errorf("revolutions = %d, want 1", p.Revolutions())
	}
}

func TestStreamParserIncrementalFeed(t *testing.T) {
	t.Parallel()

	p := NewStreamParser()

	stream := ScanDescriptor()
	stream = append(stream, EncodeNode(45.0, 3.0, 20, false)...)
	stream = append(stream, EncodeNode(90.0, 4.0, 20, false)...)

	// Feed one byte at a time; samples appear only once nodes complete.
	var samples []Sample
	for _, b := range stream {
		samples = append(samples, p.Feed([]byte{b})...)
	}
	if len(samples) != 2 {
		t.Fatalf("decoded %d samples across byte-wise feed, want 2", len(samples))
	}
	if math.Abs(samples[1].AngleDeg-90.0) > 0.02 {
		t.Errorf("second angle = %v, want 90", samples[1].AngleDeg)
	}
}

func TestStreamParserResyncAfterCorruption(t *testing.T) {
	t.Parallel()

	p := NewStreamParser()

	stream := ScanDescriptor()
	stream = append(stream, EncodeNode(10.0, 1.0, 20, false)...)
	stream = append(stream, 0xFE, 0xFE) // torn bytes mid-stream
	stream = append(stream, EncodeNode(20.0, 2.0, 20, false)...)
	stream = append(stream, EncodeNode(30.0, 3.0, 20, false)...)

	samples := p.Feed(stream)

	// The parser must find the trailing nodes again after skipping the
	// corruption; the one-byte resync cannot recover the node that
	// straddles the garbage.
	if len(samples) < 2 {
		t.Fatalf("decoded %d samples, want at least 2", len(samples))
	}
	last := samples[len(samples)-1]
	if math.Abs(last.AngleDeg-30.0) > 0.02 {
		t.Errorf("last angle = %v, want 30", last.AngleDeg)
	}
}

func TestStreamParserSkipsLeadingGarbage(t *testing.T) {
	t.Parallel()

	p := NewStreamParser()

	stream := []byte{0x00, 0x13, 0xA5, 0x77} // noise before the descriptor
	stream = append(stream, ScanDescriptor()...)
	stream = append(stream, EncodeNode(5.0, 1.2, 15, false)...)

	samples := p.Feed(stream)
	if len(samples) != 1 {
		t.Fatalf("decoded %d samples, want 1", len(samples))
	}
	if math.Abs(samples[0].AngleDeg-5.0) > 0.02 {
		t.Errorf("angle = %v, want 5", samples[0].AngleDeg)
	}
}

func TestStreamParserDropsZeroDistance(t *testing.T) {
	t.Parallel()

	p := NewStreamParser()

	stream := ScanDescriptor()
	stream = append(stream, EncodeNode(10.0, 0.0, 0, false)...) // no return
	stream = append(stream, EncodeNode(20.0, 2.0, 20, false)...)

	samples := p.Feed(stream)
	if len(samples) != 1 {
		t.Fatalf("decoded %d samples, want 1", len(samples))
	}
	if math.Abs(samples[0].AngleDeg-20.0) > 0.02 {
		t.Errorf("angle = %v, want 20", samples[0].AngleDeg)
	}
}

func TestParseNodesPayload(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	payload := EncodeNode(100.0, 2.3, 31, false)
	payload = append(payload, EncodeNode(105.0, 2.4, 31, false)...)

	samples, err := ParseNodes(payload, ts)
	if err != nil {
		t.Fatalf("ParseNodes failed: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("decoded %d samples, want 2", len(samples))
	}
	if !samples[0].Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", samples[0].Timestamp, ts)
	}
}

func TestParseNodesRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := ParseNodes([]byte{0x01, 0x02}, time.Time{}); err == nil {
		t.Error("expected error for short payload")
	}

	junk := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if _, err := ParseNodes(junk, time.Time{}); err == nil {
		t.Error("expected error for payload with no valid nodes")
	}
}

func TestRequestBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"start", StartScanRequest(), []byte{0xA5, 0x20}},
		{"stop", StopRequest(), []byte{0xA5, 0x25}},
		{"reset", ResetRequest(), []byte{0xA5, 0x40}},
	}
	for _, tt := range tests {
		if len(tt.got) != 2 || tt.got[0] != tt.want[0] || tt.got[1] != tt.want[1] {
			t.Errorf("%s request = %#v, want %#v", tt.name, tt.got, tt.want)
		}
	}
}
