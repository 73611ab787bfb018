// Package track gives defects a stable identity across fusion cycles.
// The tracker matches incoming detections to known tracks by box
// overlap, smooths the boxes, ages out tracks that left the frame, and
// reports each physical defect exactly once as new. It is owned by the
// fusion goroutine and holds no locks.
package track

import (
	"time"

	"github.com/wyvern-data/surface.report/internal/monitoring"
	"github.com/wyvern-data/surface.report/internal/vision"
)

// State is the lifecycle state of a track.
type State string

const (
	StateNew       State = "new"       // spawned this cycle, not matched again yet
	StateConfirmed State = "confirmed" // matched enough times to trust
	StateStale     State = "stale"     // missed at least one cycle, still aging
	StateExpired   State = "expired"   // aged out, about to be removed
)

// Track is one defect's persistent identity. BBox always holds the
// smoothed value; the raw per-frame boxes are never stored.
type Track struct {
	ID         int64
	State      State
	Class      string
	BBox       vision.Rect
	Confidence float64

	AngleDeg    float64
	HasAngle    bool
	DistanceM   float64
	HasDistance bool
	WidthM      float64
	HasWidth    bool

	FirstSeen time.Time
	LastSeen  time.Time
	HitCount  int

	// Analysis and Severity are filled in once by the pipeline when the
	// track is new; the tracker itself never touches them.
	Analysis *vision.Analysis
	Severity *Severity
}

// Config tunes the tracker.
type Config struct {
	// IoUThreshold is the minimum overlap for a detection to continue an
	// existing track. Default 0.3.
	IoUThreshold float64

	// SmoothingAlpha weights the newest box against the running one.
	// Default 0.7.
	SmoothingAlpha float64

	// MaxAge evicts a track unseen for longer than this. Default 5s.
	MaxAge time.Duration

	// ConfirmHits is the total hit count that moves a track to
	// confirmed. Default 2 (the spawn plus one more match).
	ConfirmHits int
}

// DefaultConfig returns the tracker defaults.
func DefaultConfig() Config {
	return Config{
		IoUThreshold:   0.3,
		SmoothingAlpha: 0.7,
		MaxAge:         5 * time.Second,
		ConfirmHits:    2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.IoUThreshold <= 0 {
		c.IoUThreshold = d.IoUThreshold
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		c.SmoothingAlpha = d.SmoothingAlpha
	}
	if c.MaxAge <= 0 {
		c.MaxAge = d.MaxAge
	}
	if c.ConfirmHits < 1 {
		c.ConfirmHits = d.ConfirmHits
	}
	return c
}

// Tracker matches detections to tracks cycle by cycle. Not safe for
// concurrent use; the fusion goroutine is its only caller.
type Tracker struct {
	cfg    Config
	tracks []*Track // ascending ID
	nextID int64
}

// NewTracker builds a tracker, filling zero config fields with defaults.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg.withDefaults()}
}

type match struct {
	track *Track
	det   int
}

// Update runs one tracking cycle: match, smooth, evict, emit. Tracks
// spawned this cycle come back in newTracks, exactly once in their
// lifetime; re-matched tracks come back in updated. A track missed this
// cycle goes stale silently and is evicted once older than MaxAge.
func (t *Tracker) Update(dets []vision.ResolvedDetection, now time.Time) (newTracks, updated []*Track) {
	claimed := make([]bool, len(dets))
	var matches []match

	// Tracks claim detections in ascending ID order, each taking the
	// best remaining overlap. Equal overlaps go to the earlier
	// detection, so the outcome never depends on iteration luck.
	for _, tr := range t.tracks {
		best := -1
		bestIoU := 0.0
		for j, d := range dets {
			if claimed[j] {
				continue
			}
			iou := vision.IoU(tr.BBox, d.Box)
			if iou > t.cfg.IoUThreshold && iou > bestIoU {
				best = j
				bestIoU = iou
			}
		}
		if best >= 0 {
			claimed[best] = true
			matches = append(matches, match{track: tr, det: best})
		}
	}

	// Apply the matches. The one-to-one property already held during
	// selection; a duplicate here would be a regression, so it is
	// corrected and logged rather than trusted.
	applied := make([]bool, len(dets))
	matchedTracks := make(map[int64]bool, len(matches))
	for _, m := range matches {
		if applied[m.det] {
			monitoring.Logf("Tracker: detection %d claimed twice, keeping first claim", m.det)
			continue
		}
		applied[m.det] = true
		matchedTracks[m.track.ID] = true
		t.absorb(m.track, dets[m.det], now)
	}

	// Anything not re-matched goes stale this cycle.
	for _, tr := range t.tracks {
		if !matchedTracks[tr.ID] {
			tr.State = StateStale
		}
	}

	// Unclaimed detections become new tracks.
	var spawned []*Track
	for j, d := range dets {
		if claimed[j] {
			continue
		}
		tr := t.spawn(d, now)
		spawned = append(spawned, tr)
	}

	// Evict by age, regardless of state. A track matched or spawned
	// this cycle has LastSeen == now and always survives.
	live := t.tracks[:0]
	for _, tr := range t.tracks {
		if now.Sub(tr.LastSeen) > t.cfg.MaxAge {
			tr.State = StateExpired
			continue
		}
		live = append(live, tr)
	}
	t.tracks = live

	for _, m := range matches {
		if m.track.State != StateExpired {
			updated = append(updated, m.track)
		}
	}
	return spawned, updated
}

// absorb folds a matched detection into the track.
func (t *Tracker) absorb(tr *Track, d vision.ResolvedDetection, now time.Time) {
	a := t.cfg.SmoothingAlpha
	tr.BBox.X1 += a * (d.Box.X1 - tr.BBox.X1)
	tr.BBox.Y1 += a * (d.Box.Y1 - tr.BBox.Y1)
	tr.BBox.X2 += a * (d.Box.X2 - tr.BBox.X2)
	tr.BBox.Y2 += a * (d.Box.Y2 - tr.BBox.Y2)

	tr.Confidence = d.Confidence
	if d.Class != "" {
		tr.Class = d.Class
	}
	tr.AngleDeg, tr.HasAngle = d.AngleDeg, d.HasAngle
	tr.DistanceM, tr.HasDistance = d.DistanceM, d.HasDistance
	tr.WidthM, tr.HasWidth = d.WidthM, d.HasWidth

	tr.LastSeen = now
	tr.HitCount++
	if tr.HitCount >= t.cfg.ConfirmHits {
		tr.State = StateConfirmed
	} else {
		// Seen again but not yet at the confirmation bar.
		tr.State = StateNew
	}
}

// spawn starts a track from an unclaimed detection.
func (t *Tracker) spawn(d vision.ResolvedDetection, now time.Time) *Track {
	t.nextID++
	tr := &Track{
		ID:          t.nextID,
		State:       StateNew,
		Class:       d.Class,
		BBox:        d.Box,
		Confidence:  d.Confidence,
		AngleDeg:    d.AngleDeg,
		HasAngle:    d.HasAngle,
		DistanceM:   d.DistanceM,
		HasDistance: d.HasDistance,
		WidthM:      d.WidthM,
		HasWidth:    d.HasWidth,
		FirstSeen:   now,
		LastSeen:    now,
		HitCount:    1,
	}
	t.tracks = append(t.tracks, tr)
	return tr
}

// Active returns the live tracks. The internal slice stays in ascending
// ID order (spawns append monotonic IDs, eviction preserves order), so
// no sorting happens here; the returned slice is a copy but the Track
// pointers are shared.
func (t *Tracker) Active() []*Track {
	out := make([]*Track, len(t.tracks))
	copy(out, t.tracks)
	return out
}

// Len reports the number of live tracks.
func (t *Tracker) Len() int { return len(t.tracks) }
