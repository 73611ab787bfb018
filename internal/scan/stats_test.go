package scan

import "testing"

func TestPacketStatsGetAndReset(t *testing.T) {
	t.Parallel()

	ps := NewPacketStats()
	ps.AddPacket(100)
	ps.AddPacket(250)
	ps.AddSamples(40)
	ps.AddDropped()

	packets, bytes, dropped, samples, duration := ps.GetAndReset()
	if packets != 2 {
		t.Errorf("packets = %d, want 2", packets)
	}
	if bytes != 350 {
		t.Errorf("bytes = %d, want 350", bytes)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if samples != 40 {
		t.Errorf("samples = %d, want 40", samples)
	}
	if duration < 0 {
		t.Errorf("duration = %v, want non-negative", duration)
	}

	// Counters reset.
	packets, bytes, dropped, samples, _ = ps.GetAndReset()
	if packets != 0 || bytes != 0 || dropped != 0 || samples != 0 {
		t.Errorf("after reset: %d %d %d %d, want all zero", packets, bytes, dropped, samples)
	}
}
