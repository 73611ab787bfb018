package scan

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// SyntheticDip is a simulated surface depression: bearings within
// WidthDeg/2 of CenterDeg read DepthM farther than the base surface.
type SyntheticDip struct {
	CenterDeg float64
	WidthDeg  float64
	DepthM    float64
}

// SyntheticConfig controls the simulated sensor.
type SyntheticConfig struct {
	RotationHz    float64 // revolutions per second (default 5)
	SamplesPerRev int     // measurements per revolution (default 360)
	BaseDistanceM float64 // flat surface range (default 2.0)
	JitterM       float64 // uniform measurement noise, plus or minus (default 0.02)
	Dips          []SyntheticDip
	Seed          int64 // rng seed, 0 seeds from the current time
}

// SyntheticSource simulates the spinning sensor for development and
// testing without hardware: one batch per revolution, a flat surface
// with configurable dips.
type SyntheticSource struct {
	cfg     SyntheticConfig
	rng     *rand.Rand
	samples chan []Sample
}

// NewSyntheticSource creates a synthetic source with config defaults applied.
func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	if cfg.RotationHz <= 0 {
		cfg.RotationHz = 5.0
	}
	if cfg.SamplesPerRev <= 0 {
		cfg.SamplesPerRev = 360
	}
	if cfg.BaseDistanceM <= 0 {
		cfg.BaseDistanceM = 2.0
	}
	if cfg.JitterM < 0 {
		cfg.JitterM = 0
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SyntheticSource{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		samples: make(chan []Sample, 4),
	}
}

// Samples returns the channel carrying one batch per revolution.
func (s *SyntheticSource) Samples() <-chan []Sample {
	return s.samples
}

// Close implements PortInterface; the synthetic source holds no resources.
func (s *SyntheticSource) Close() error {
	return nil
}

// Monitor emits revolutions at the configured rotation rate until the
// context is cancelled.
func (s *SyntheticSource) Monitor(ctx context.Context) error {
	period := time.Duration(float64(time.Second) / s.cfg.RotationHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			batch := s.Revolution()
			select {
			case s.samples <- batch:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Revolution generates one full revolution of samples.
func (s *SyntheticSource) Revolution() []Sample {
	n := s.cfg.SamplesPerRev
	batch := make([]Sample, 0, n)
	step := 360.0 / float64(n)

	for i := 0; i < n; i++ {
		angle := float64(i) * step
		d := s.cfg.BaseDistanceM
		for _, dip := range s.cfg.Dips {
			if angularDistance(angle, dip.CenterDeg) <= dip.WidthDeg/2 {
				d += dip.DepthM
			}
		}
		if s.cfg.JitterM > 0 {
			d += (s.rng.Float64()*2 - 1) * s.cfg.JitterM
		}
		batch = append(batch, Sample{
			AngleDeg:  angle,
			DistanceM: d,
			Quality:   47, // full-strength synthetic return
		})
	}
	return batch
}

// angularDistance returns the shortest angular separation of two
// bearings in degrees.
func angularDistance(a, b float64) float64 {
	d := math.Abs(math.Mod(a-b, 360))
	if d > 180 {
		d = 360 - d
	}
	return d
}
