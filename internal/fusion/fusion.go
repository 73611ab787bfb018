// Package fusion runs the survey's central loop. Each cycle takes the
// newest camera frame and a snapshot of the range sector map, finds
// defect candidates, resolves their bearings to measured distances,
// feeds them through the tracker, measures and persists whatever is
// genuinely new, and publishes the overlay state for the video feed.
// One goroutine owns the whole cycle; the frame buffer, the sector
// snapshot and the annotation board are the only touch points with the
// rest of the process.
package fusion

import (
	"context"
	"fmt"
	"image/color"
	"time"

	"github.com/wyvern-data/surface.report/internal/monitoring"
	"github.com/wyvern-data/surface.report/internal/scan"
	"github.com/wyvern-data/surface.report/internal/timeutil"
	"github.com/wyvern-data/surface.report/internal/track"
	"github.com/wyvern-data/surface.report/internal/vision"
)

// persistTimeout bounds a single defect insert so a wedged database
// cannot stall the cycle.
const persistTimeout = 2 * time.Second

// Pipeline wires the fusion cycle together. Frames, Detector and
// Tracker are required; Sectors, Store, Board and Stats may be nil and
// the corresponding step degrades to a no-op. Not safe to share: Run
// (or direct Cycle calls) must come from a single goroutine.
type Pipeline struct {
	Frames   *vision.FrameBuffer
	Detector vision.Detector
	Tracker  *track.Tracker

	// Sectors supplies range data. Nil leaves every detection without
	// a distance, which the rest of the cycle tolerates.
	Sectors *scan.Aggregator

	// Analyzer measures new defects. Nil falls back to defaults.
	Analyzer *vision.Analyzer

	// Store persists one record per new defect.
	Store Recorder

	// Board receives the overlay state after every completed cycle.
	Board *vision.AnnotationBoard

	Stats *CycleStats

	// Clock defaults to the real clock. Tests inject a mock.
	Clock timeutil.Clock

	// FOVDeg is the camera's horizontal field of view (default 70).
	FOVDeg float64

	// Interval is the cycle period (default 100ms).
	Interval time.Duration

	// DisplayWindow keeps a missed track on the overlay for this long
	// after its last sighting (default 2s). Display only; track aging
	// is the tracker's business.
	DisplayWindow time.Duration

	// SessionID stamps every record with the survey session.
	SessionID string

	// Severity calibrates defect grading. The zero value means
	// defaults.
	Severity track.Thresholds
}

// Run executes cycles at the configured interval until the context is
// cancelled. Shutdown is cooperative: a cycle in flight finishes first.
func (p *Pipeline) Run(ctx context.Context) error {
	clock := p.clock()
	interval := p.interval()
	monitoring.Logf("Fusion pipeline started: interval=%s fov=%.0f deg", interval, p.fov())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Cycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(interval):
		}
	}
}

// Cycle runs one fusion pass. Missing inputs degrade the pass instead
// of aborting it: no range data still tracks and records defects, no
// store still tracks and annotates. Only two things end a pass early,
// an empty frame buffer and a detector error; neither advances track
// aging, because a missing frame or a dead sidecar says nothing about
// what is on the road.
func (p *Pipeline) Cycle(ctx context.Context) {
	frame, ok := p.Frames.Latest()
	if !ok {
		if p.Stats != nil {
			p.Stats.AddSkipped()
		}
		return
	}

	var ranges vision.RangeField
	sectors := 0
	if p.Sectors != nil {
		snap := p.Sectors.Snapshot()
		sectors = len(snap.Readings)
		ranges = snap
	}

	dets, err := p.Detector.Detect(ctx, frame)
	if err != nil {
		monitoring.Logf("Fusion: detector failed on frame %d: %v", frame.Seq, err)
		if p.Stats != nil {
			p.Stats.AddDetectError()
		}
		return
	}

	resolver := &vision.AngleResolver{Ranges: ranges, FOVDeg: p.fov()}
	resolved := resolver.Resolve(dets, frame.Width)

	now := p.clock().Now()
	newTracks, updated := p.Tracker.Update(resolved, now)

	for _, tr := range newTracks {
		analysis := p.analyzer().Analyze(frame.Image, tr.BBox, tr.DistanceM, tr.HasDistance)
		tr.Analysis = &analysis
		sev := p.severity().Classify(analysis.Geometry.AreaM2, analysis.Geometry.Circularity, analysis.Geometry.HasMetric)
		tr.Severity = &sev
		p.persist(ctx, tr, now)
	}

	if p.Stats != nil {
		p.Stats.AddCycle(len(newTracks), len(updated))
	}
	p.publish(frame, now, sectors)
}

// persist writes the one-time record for a new defect. A storage
// failure is logged and counted; the track lives on regardless.
func (p *Pipeline) persist(ctx context.Context, tr *track.Track, now time.Time) {
	if p.Store == nil {
		return
	}
	rec := NewDefectRecord(tr, p.SessionID, now)
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if _, err := p.Store.InsertDefect(ctx, rec); err != nil {
		monitoring.Logf("Fusion: persist of track %d failed: %v", tr.ID, err)
		if p.Stats != nil {
			p.Stats.AddPersistError()
		}
	}
}

// publish pushes the overlay state for the video feed: every track
// sighted within the display window, colored by severity, plus a range
// sensor status line.
func (p *Pipeline) publish(frame vision.Frame, now time.Time, sectors int) {
	if p.Board == nil {
		return
	}
	st := vision.AnnotationState{Timestamp: frame.Timestamp}
	window := p.displayWindow()
	for _, tr := range p.Tracker.Active() {
		if now.Sub(tr.LastSeen) > window {
			continue
		}
		st.Boxes = append(st.Boxes, vision.BoxLabel{
			Box:   tr.BBox,
			Label: trackLabel(tr),
			Color: severityColor(tr.Severity),
		})
	}
	if sectors > 0 {
		st.Status = fmt.Sprintf("range ok (%d sectors)", sectors)
		st.StatusColor = vision.ColorGreen
	} else {
		st.Status = "no range data"
		st.StatusColor = vision.ColorRed
	}
	p.Board.Publish(st)
}

func (p *Pipeline) clock() timeutil.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return timeutil.RealClock{}
}

func (p *Pipeline) fov() float64 {
	if p.FOVDeg > 0 {
		return p.FOVDeg
	}
	return 70
}

func (p *Pipeline) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return 100 * time.Millisecond
}

func (p *Pipeline) displayWindow() time.Duration {
	if p.DisplayWindow > 0 {
		return p.DisplayWindow
	}
	return 2 * time.Second
}

func (p *Pipeline) analyzer() *vision.Analyzer {
	if p.Analyzer != nil {
		return p.Analyzer
	}
	return &vision.Analyzer{}
}

func (p *Pipeline) severity() track.Thresholds {
	if p.Severity == (track.Thresholds{}) {
		return track.DefaultThresholds()
	}
	return p.Severity
}

// trackLabel builds the caption drawn above a track's box.
func trackLabel(tr *track.Track) string {
	label := fmt.Sprintf("#%d %s %.2f", tr.ID, tr.Class, tr.Confidence)
	if tr.HasDistance {
		label += fmt.Sprintf(" %.1fm", tr.DistanceM)
	}
	return label
}

// severityColor maps a severity to its overlay color. Tracks without a
// grade yet, and ungraded severities, draw yellow.
func severityColor(s *track.Severity) color.RGBA {
	if s == nil {
		return vision.ColorYellow
	}
	switch s.Level {
	case track.SeverityLight:
		return vision.ColorGreen
	case track.SeverityMedium:
		return vision.ColorOrange
	case track.SeveritySevere:
		return vision.ColorRed
	default:
		return vision.ColorYellow
	}
}
