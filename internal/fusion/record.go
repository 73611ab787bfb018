package fusion

import (
	"context"
	"time"

	"github.com/wyvern-data/surface.report/internal/track"
	"github.com/wyvern-data/surface.report/internal/vision"
)

// DefectRecord is the persisted form of a defect, written once when its
// track is first seen. Later sightings refine the live track but never
// rewrite the record; the stored row is the defect as it was found.
type DefectRecord struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id,omitempty"`
	TrackID   int64  `json:"track_id"`

	Class      string      `json:"class"`
	Confidence float64     `json:"confidence"`
	Box        vision.Rect `json:"box"`

	AngleDeg    float64 `json:"angle_deg"`
	HasAngle    bool    `json:"has_angle"`
	DistanceM   float64 `json:"distance_m"`
	HasDistance bool    `json:"has_distance"`
	WidthM      float64 `json:"width_m"`
	HasWidth    bool    `json:"has_width"`

	Geometry vision.GeometricDescriptor `json:"geometry"`
	Texture  vision.TextureDescriptor   `json:"texture"`
	Depth    vision.DepthEstimate       `json:"depth"`
	Damage   vision.DamageReport        `json:"damage"`
	Severity track.Severity             `json:"severity"`

	DetectedAt time.Time `json:"detected_at"`
}

// Recorder persists defect records. The sqlite store implements this;
// tests substitute an in-memory recorder.
type Recorder interface {
	InsertDefect(ctx context.Context, rec *DefectRecord) (int64, error)
}

// NewDefectRecord snapshots a freshly spawned track into its record.
// The track's Analysis and Severity must already be filled in.
func NewDefectRecord(tr *track.Track, sessionID string, now time.Time) *DefectRecord {
	rec := &DefectRecord{
		SessionID:   sessionID,
		TrackID:     tr.ID,
		Class:       tr.Class,
		Confidence:  tr.Confidence,
		Box:         tr.BBox,
		AngleDeg:    tr.AngleDeg,
		HasAngle:    tr.HasAngle,
		DistanceM:   tr.DistanceM,
		HasDistance: tr.HasDistance,
		WidthM:      tr.WidthM,
		HasWidth:    tr.HasWidth,
		DetectedAt:  now,
	}
	if tr.Analysis != nil {
		rec.Geometry = tr.Analysis.Geometry
		rec.Texture = tr.Analysis.Texture
		rec.Depth = tr.Analysis.Depth
		rec.Damage = tr.Analysis.Damage
	}
	if tr.Severity != nil {
		rec.Severity = *tr.Severity
	}
	return rec
}
