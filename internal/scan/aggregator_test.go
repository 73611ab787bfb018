package scan

import (
	"math"
	"testing"
	"time"

	"github.com/wyvern-data/surface.report/internal/timeutil"
)

func TestAggregatorResolveMapsBearingToSector(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(5.0, 0, nil)

	n := agg.Ingest([]Sample{
		{AngleDeg: 12.0, DistanceM: 2.5},
		{AngleDeg: 358.0, DistanceM: 1.1},
		{AngleDeg: -10.0, DistanceM: 3.3},
	})
	if n != 3 {
		t.Fatalf("Ingest accepted %d samples, want 3", n)
	}

	tests := []struct {
		bearing    float64
		wantSector float64
		wantDist   float64
	}{
		{12.0, 10.0, 2.5},   // rounds down into the 10 degree sector
		{358.0, 0.0, 1.1},   // wraps up into the zero sector
		{-10.0, 350.0, 3.3}, // negative bearing normalizes
		{-2.0, 0.0, 1.1},    // same sector as 358
		{370.0, 10.0, 2.5},  // full-turn alias of 10
	}
	for _, tt := range tests {
		got, ok := agg.Resolve(tt.bearing)
		if !ok {
			t.Errorf("Resolve(%v) returned no data", tt.bearing)
			continue
		}
		if got.SectorDeg != tt.wantSector {
			t.Errorf("Resolve(%v) sector = %v, want %v", tt.bearing, got.SectorDeg, tt.wantSector)
		}
		if got.DistanceM != tt.wantDist {
			t.Errorf("Resolve(%v) distance = %v, want %v", tt.bearing, got.DistanceM, tt.wantDist)
		}
	}
}

func TestAggregatorResolvePeriodicity(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(5.0, 0, nil)
	agg.Ingest([]Sample{{AngleDeg: 47.0, DistanceM: 4.2}})

	base, ok := agg.Resolve(47.0)
	if !ok {
		t.Fatal("Resolve(47) returned no data")
	}
	for _, k := range []float64{-2, -1, 1, 2, 3} {
		got, ok := agg.Resolve(47.0 + 360.0*k)
		if !ok || got != base {
			t.Errorf("Resolve(47 + 360*%v) = %+v ok=%v, want %+v", k, got, ok, base)
		}
	}
}

func TestAggregatorNearestSampleWins(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(5.0, 0, nil)
	agg.Ingest([]Sample{{AngleDeg: 20.0, DistanceM: 5.0}})
	agg.Ingest([]Sample{{AngleDeg: 21.0, DistanceM: 2.0}})

	got, ok := agg.Resolve(20.0)
	if !ok {
		t.Fatal("Resolve(20) returned no data")
	}
	if got.DistanceM != 2.0 {
		t.Errorf("distance = %v, want nearest sample 2.0", got.DistanceM)
	}

	// A farther sample in the same sector does not displace the
	// nearest reading.
	agg.Ingest([]Sample{{AngleDeg: 20.0, DistanceM: 3.5}})
	got, _ = agg.Resolve(20.0)
	if got.DistanceM != 2.0 {
		t.Errorf("distance after farther sample = %v, want 2.0", got.DistanceM)
	}
}

func TestAggregatorStaleReadingDisplacedByFartherSample(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	agg := NewAggregator(5.0, 2*time.Second, clock)

	agg.Ingest([]Sample{{AngleDeg: 20.0, DistanceM: 1.0}})
	clock.Advance(3 * time.Second)

	// The 1.0m reading is past the window, so a farther fresh sample
	// starts a new aggregation window for the sector.
	agg.Ingest([]Sample{{AngleDeg: 20.0, DistanceM: 4.0}})
	got, ok := agg.Resolve(20.0)
	if !ok {
		t.Fatal("Resolve(20) returned no data")
	}
	if got.DistanceM != 4.0 {
		t.Errorf("distance = %v, want 4.0 after window reset", got.DistanceM)
	}
}

func TestAggregatorDropsInvalidSamples(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(5.0, 0, nil)
	n := agg.Ingest([]Sample{
		{AngleDeg: 10, DistanceM: 0},
		{AngleDeg: 10, DistanceM: -1},
		{AngleDeg: 10, DistanceM: math.NaN()},
		{AngleDeg: 10, DistanceM: math.Inf(1)},
		{AngleDeg: math.NaN(), DistanceM: 1},
		{AngleDeg: 10, DistanceM: 1.5},
	})
	if n != 1 {
		t.Errorf("Ingest accepted %d samples, want 1", n)
	}
	if got, ok := agg.Resolve(10); !ok || got.DistanceM != 1.5 {
		t.Errorf("Resolve(10) = %+v ok=%v, want distance 1.5", got, ok)
	}
}

func TestAggregatorStaleness(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	agg := NewAggregator(5.0, 2*time.Second, clock)

	agg.Ingest([]Sample{{AngleDeg: 90.0, DistanceM: 3.0}})

	if _, ok := agg.Resolve(90.0); !ok {
		t.Fatal("fresh reading should resolve")
	}

	clock.Advance(1900 * time.Millisecond)
	if _, ok := agg.Resolve(90.0); !ok {
		t.Error("reading inside the staleness window should resolve")
	}

	clock.Advance(200 * time.Millisecond)
	if _, ok := agg.Resolve(90.0); ok {
		t.Error("reading past the staleness window should not resolve")
	}

	// A fresh sample revives the sector.
	agg.Ingest([]Sample{{AngleDeg: 90.0, DistanceM: 2.8}})
	if got, ok := agg.Resolve(90.0); !ok || got.DistanceM != 2.8 {
		t.Errorf("revived sector = %+v ok=%v, want distance 2.8", got, ok)
	}
}

func TestAggregatorSnapshotIsolation(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(5.0, 0, nil)
	agg.Ingest([]Sample{
		{AngleDeg: 0, DistanceM: 1.0},
		{AngleDeg: 10, DistanceM: 2.0},
	})

	snap := agg.Snapshot()
	if len(snap.Readings) != 2 {
		t.Fatalf("snapshot has %d readings, want 2", len(snap.Readings))
	}
	if snap.SectorCount != 72 {
		t.Errorf("snapshot sector count = %d, want 72", snap.SectorCount)
	}

	// Mutating the aggregator after the snapshot must not change the copy.
	agg.Ingest([]Sample{{AngleDeg: 0, DistanceM: 9.9}})
	agg.Reset()

	if snap.Readings[0].DistanceM != 1.0 {
		t.Errorf("snapshot mutated: distance = %v, want 1.0", snap.Readings[0].DistanceM)
	}

	// Readings come back ordered by sector angle.
	if snap.Readings[0].SectorDeg != 0 || snap.Readings[1].SectorDeg != 10 {
		t.Errorf("snapshot order = %v, %v; want 0, 10",
			snap.Readings[0].SectorDeg, snap.Readings[1].SectorDeg)
	}
}

func TestSnapshotDistanceLookup(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(5.0, 0, nil)
	agg.Ingest([]Sample{
		{AngleDeg: 336, DistanceM: 2.3},
		{AngleDeg: 12, DistanceM: 7.7},
	})
	snap := agg.Snapshot()

	tests := []struct {
		bearing  float64
		wantDist float64
		wantOK   bool
	}{
		{-24.0625, 2.3, true}, // negative bearing normalizes into 335
		{336, 2.3, true},
		{12, 7.7, true},
		{90, 0, false}, // empty sector
	}
	for _, tt := range tests {
		got, ok := snap.Distance(tt.bearing)
		if ok != tt.wantOK || got != tt.wantDist {
			t.Errorf("Distance(%v) = %v, %v; want %v, %v", tt.bearing, got, ok, tt.wantDist, tt.wantOK)
		}
	}

	// A snapshot with no readings answers nothing.
	var empty SectorMap
	if _, ok := empty.Distance(0); ok {
		t.Error("empty SectorMap.Distance returned data")
	}
}

func TestSnapshotAge(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	agg := NewAggregator(5.0, time.Minute, clock)
	agg.Ingest([]Sample{{AngleDeg: 45, DistanceM: 2.0}})
	clock.Advance(3 * time.Second)
	agg.Ingest([]Sample{{AngleDeg: 90, DistanceM: 4.0}})
	clock.Advance(2 * time.Second)

	// Age counts from the newest reading, not the oldest.
	age, ok := agg.Snapshot().Age(clock.Now())
	if !ok {
		t.Fatal("expected age from a populated snapshot")
	}
	if age != 2*time.Second {
		t.Errorf("age = %v, want %v", age, 2*time.Second)
	}

	var empty SectorMap
	if _, ok := empty.Age(clock.Now()); ok {
		t.Error("empty SectorMap reported an age")
	}
}

func TestAggregatorReset(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(5.0, 0, nil)
	agg.Ingest([]Sample{{AngleDeg: 45, DistanceM: 2.0}})
	agg.Reset()

	if _, ok := agg.Resolve(45); ok {
		t.Error("Resolve after Reset should return no data")
	}
	if snap := agg.Snapshot(); len(snap.Readings) != 0 {
		t.Errorf("snapshot after Reset has %d readings, want 0", len(snap.Readings))
	}
	if agg.TotalIngested() != 1 {
		t.Errorf("TotalIngested = %d, want 1 (counter survives reset)", agg.TotalIngested())
	}
}

func TestAggregatorSampleTimestampPreserved(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	agg := NewAggregator(5.0, 0, clock)

	explicit := time.Date(2025, 6, 1, 11, 59, 0, 0, time.UTC)
	agg.Ingest([]Sample{
		{AngleDeg: 0, DistanceM: 1.0, Timestamp: explicit},
		{AngleDeg: 10, DistanceM: 1.0}, // zero timestamp takes the clock
	})

	got, _ := agg.Resolve(0)
	if !got.Timestamp.Equal(explicit) {
		t.Errorf("explicit timestamp = %v, want %v", got.Timestamp, explicit)
	}
	got, _ = agg.Resolve(10)
	if !got.Timestamp.Equal(clock.Now()) {
		t.Errorf("defaulted timestamp = %v, want %v", got.Timestamp, clock.Now())
	}
}
