// Package scan ingests range samples from a spinning 360° range sensor
// and aggregates them into an angular sector map. Samples arrive from a
// serial port, a UDP listener, a capture replay, or a synthetic source;
// the aggregator keeps the latest reading per sector and answers
// bearing-to-distance lookups for the fusion pipeline.
package scan

import (
	"sort"
	"time"

	"github.com/wyvern-data/surface.report/internal/units"
)

// Sample is a single range measurement from the sensor.
type Sample struct {
	AngleDeg  float64   // bearing in degrees from the sensor zero mark
	DistanceM float64   // measured range in meters
	Quality   int       // sensor-reported return quality, 0 when unknown
	Timestamp time.Time // acquisition time
}

// SectorReading is the latest range seen in one angular sector.
type SectorReading struct {
	SectorDeg float64   `json:"sector_deg"`
	DistanceM float64   `json:"distance_m"`
	Quality   int       `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}

// SectorMap is a point-in-time copy of the aggregated scan. Readings
// holds only sectors that have fresh data, ordered by sector angle.
type SectorMap struct {
	SectorWidthDeg float64         `json:"sector_width_deg"`
	SectorCount    int             `json:"sector_count"`
	Readings       []SectorReading `json:"readings"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Age reports the time since the newest reading in the snapshot. The
// second return is false when the snapshot holds no readings at all.
func (m SectorMap) Age(now time.Time) (time.Duration, bool) {
	var newest time.Time
	for _, r := range m.Readings {
		if r.Timestamp.After(newest) {
			newest = r.Timestamp
		}
	}
	if newest.IsZero() {
		return 0, false
	}
	return now.Sub(newest), true
}

// Distance reports the held distance for the sector containing the
// bearing. The fusion cycle resolves a whole frame against one
// snapshot so every detection in it sees the same sector state.
func (m SectorMap) Distance(angleDeg float64) (float64, bool) {
	if m.SectorWidthDeg <= 0 || len(m.Readings) == 0 {
		return 0, false
	}
	want := units.SectorAngle(units.SectorIndex(angleDeg, m.SectorWidthDeg), m.SectorWidthDeg)
	i := sort.Search(len(m.Readings), func(i int) bool {
		return m.Readings[i].SectorDeg >= want
	})
	if i < len(m.Readings) && m.Readings[i].SectorDeg == want {
		return m.Readings[i].DistanceM, true
	}
	return 0, false
}

// Sink receives parsed samples. *Aggregator is the production
// implementation; tests substitute recording sinks.
type Sink interface {
	// Ingest merges samples into the sink and reports how many were
	// accepted.
	Ingest(samples []Sample) int
}
