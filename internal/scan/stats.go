package scan

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wyvern-data/surface.report/internal/monitoring"
)

// PacketStats tracks ingest counters. All methods are safe for
// concurrent use.
type PacketStats struct {
	packets atomic.Int64
	bytes   atomic.Int64
	dropped atomic.Int64
	samples atomic.Int64
	reset   atomic.Int64 // unix nanos of the last GetAndReset
}

// NewPacketStats creates a PacketStats with the rate window starting now.
func NewPacketStats() *PacketStats {
	s := &PacketStats{}
	s.reset.Store(time.Now().UnixNano())
	return s
}

// AddPacket records one received packet of the given size.
func (s *PacketStats) AddPacket(bytes int) {
	s.packets.Add(1)
	s.bytes.Add(int64(bytes))
}

// AddDropped records a packet dropped on the forwarding path.
func (s *PacketStats) AddDropped() {
	s.dropped.Add(1)
}

// AddSamples records count decoded samples.
func (s *PacketStats) AddSamples(count int) {
	s.samples.Add(int64(count))
}

// GetAndReset returns the counters accumulated since the last call and
// zeroes them.
func (s *PacketStats) GetAndReset() (packets, bytes, dropped, samples int64, duration time.Duration) {
	now := time.Now()
	last := s.reset.Swap(now.UnixNano())
	duration = now.Sub(time.Unix(0, last))
	return s.packets.Swap(0), s.bytes.Swap(0), s.dropped.Swap(0), s.samples.Swap(0), duration
}

// LogStats logs ingest rates since the last reset.
func (s *PacketStats) LogStats() {
	packets, bytes, dropped, samples, window := s.GetAndReset()
	if packets == 0 && dropped == 0 {
		return
	}

	secs := window.Seconds()
	msg := fmt.Sprintf("Scan stats (/sec): %.1f KB, %.1f packets, %.0f samples",
		float64(bytes)/secs/1024, float64(packets)/secs, float64(samples)/secs)
	if dropped > 0 {
		msg += fmt.Sprintf(", %d forward drops", dropped)
	}
	monitoring.Logf("%s", msg)
}
