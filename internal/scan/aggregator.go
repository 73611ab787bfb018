package scan

import (
	"math"
	"sync"
	"time"

	"github.com/wyvern-data/surface.report/internal/timeutil"
	"github.com/wyvern-data/surface.report/internal/units"
)

// Aggregator folds incoming samples into a fixed array of angular
// sectors, keeping the nearest distance seen per sector within the
// staleness window. Nearest-distance aggregation approximates "closest
// obstacle in that direction"; binning trades angular resolution for
// noise robustness and O(1) lookup. All methods are safe for concurrent
// use; lookups and snapshots copy under the lock so callers never
// observe a sector map mid-update.
type Aggregator struct {
	mu         sync.Mutex
	widthDeg   float64
	staleAfter time.Duration
	clock      timeutil.Clock
	slots      []sectorSlot
	ingested   int64
}

type sectorSlot struct {
	distanceM float64
	quality   int
	ts        time.Time
	set       bool
}

// NewAggregator creates an aggregator with the given sector width in
// degrees. Readings older than staleAfter are treated as absent; a zero
// or negative staleAfter disables expiry. A nil clock falls back to the
// real clock.
func NewAggregator(widthDeg float64, staleAfter time.Duration, clock timeutil.Clock) *Aggregator {
	if widthDeg <= 0 {
		widthDeg = 5.0
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Aggregator{
		widthDeg:   widthDeg,
		staleAfter: staleAfter,
		clock:      clock,
		slots:      make([]sectorSlot, units.SectorCount(widthDeg)),
	}
}

// SectorWidthDeg returns the configured sector width in degrees.
func (a *Aggregator) SectorWidthDeg() float64 {
	return a.widthDeg
}

// SectorCount returns the number of sectors in the map.
func (a *Aggregator) SectorCount() int {
	return len(a.slots)
}

// Ingest merges samples into the sector map. A sample claims its
// sector when the sector is empty, when the held reading has gone
// stale, or when the sample is nearer than the held reading. Samples
// with a non-positive or non-finite distance are dropped. Returns the
// number of samples accepted for consideration.
func (a *Aggregator) Ingest(samples []Sample) int {
	if len(samples) == 0 {
		return 0
	}

	now := a.clock.Now()
	accepted := 0

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range samples {
		if s.DistanceM <= 0 || math.IsNaN(s.DistanceM) || math.IsInf(s.DistanceM, 0) {
			continue
		}
		if math.IsNaN(s.AngleDeg) || math.IsInf(s.AngleDeg, 0) {
			continue
		}
		accepted++

		idx := units.SectorIndex(s.AngleDeg, a.widthDeg)
		slot := a.slots[idx]
		if slot.set && !a.expired(slot) && slot.distanceM <= s.DistanceM {
			continue
		}
		ts := s.Timestamp
		if ts.IsZero() {
			ts = now
		}
		a.slots[idx] = sectorSlot{
			distanceM: s.DistanceM,
			quality:   s.Quality,
			ts:        ts,
			set:       true,
		}
	}
	a.ingested += int64(accepted)
	return accepted
}

// Resolve returns the reading for the sector containing the given
// bearing. The second return is false when the sector has no data or
// its reading has gone stale.
func (a *Aggregator) Resolve(angleDeg float64) (SectorReading, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := units.SectorIndex(angleDeg, a.widthDeg)
	slot := a.slots[idx]
	if !slot.set || a.expired(slot) {
		return SectorReading{}, false
	}
	return SectorReading{
		SectorDeg: units.SectorAngle(idx, a.widthDeg),
		DistanceM: slot.distanceM,
		Quality:   slot.quality,
		Timestamp: slot.ts,
	}, true
}

// Distance reports just the held distance for the sector containing the
// bearing. Satisfies the lookup interface the vision resolver consumes.
func (a *Aggregator) Distance(angleDeg float64) (float64, bool) {
	r, ok := a.Resolve(angleDeg)
	if !ok {
		return 0, false
	}
	return r.DistanceM, true
}

// Snapshot returns a copy of all fresh sectors ordered by sector angle.
func (a *Aggregator) Snapshot() SectorMap {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := SectorMap{
		SectorWidthDeg: a.widthDeg,
		SectorCount:    len(a.slots),
		Timestamp:      a.clock.Now(),
	}
	for idx, slot := range a.slots {
		if !slot.set || a.expired(slot) {
			continue
		}
		m.Readings = append(m.Readings, SectorReading{
			SectorDeg: units.SectorAngle(idx, a.widthDeg),
			DistanceM: slot.distanceM,
			Quality:   slot.quality,
			Timestamp: slot.ts,
		})
	}
	return m
}

// Reset clears every sector.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.slots {
		a.slots[i] = sectorSlot{}
	}
}

// TotalIngested returns the number of samples accepted since creation.
func (a *Aggregator) TotalIngested() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ingested
}

// expired reports whether a populated slot has outlived the staleness
// window. Caller holds the lock.
func (a *Aggregator) expired(slot sectorSlot) bool {
	if a.staleAfter <= 0 {
		return false
	}
	return a.clock.Since(slot.ts) > a.staleAfter
}
