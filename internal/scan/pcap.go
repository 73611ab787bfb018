package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/wyvern-data/surface.report/internal/monitoring"
)

// ReplayConfig configures capture file replay.
type ReplayConfig struct {
	// UDPPort selects which capture traffic carries sensor packets.
	UDPPort int

	// SpeedMultiplier paces replay against original packet timing
	// (1.0 = real time, 2.0 = double speed). Zero or negative replays
	// as fast as possible.
	SpeedMultiplier float64

	// Forwarder re-emits payloads to a UDP destination (optional).
	Forwarder *PacketForwarder

	Stats *PacketStats
	Sink  Sink
}

// pcapReader is satisfied by both the classic and the ng capture readers.
type pcapReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// openCapture opens a capture file, accepting both pcap and pcapng.
func openCapture(f *os.File) (pcapReader, error) {
	if r, err := pcapgo.NewReader(f); err == nil {
		return r, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind capture file: %w", err)
	}
	r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, fmt.Errorf("not a pcap or pcapng file: %w", err)
	}
	return r, nil
}

// ReplayPCAPFile reads a capture file and feeds sensor payloads through
// the sink, preserving original packet pacing when a speed multiplier
// is set. Returns the number of packets replayed.
func ReplayPCAPFile(ctx context.Context, path string, cfg ReplayConfig) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	defer f.Close()

	reader, err := openCapture(f)
	if err != nil {
		return 0, err
	}

	if cfg.SpeedMultiplier > 0 {
		monitoring.Logf("Capture replay: %s at %.1fx", path, cfg.SpeedMultiplier)
	} else {
		monitoring.Logf("Capture replay: %s unpaced", path)
	}

	packetCount := 0
	sampleCount := 0
	startTime := time.Now()
	var lastPacketTime time.Time

	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("Capture replay stopping: context cancelled after %d packets", packetCount)
			return packetCount, err
		}

		data, ci, err := reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				elapsed := time.Since(startTime)
				monitoring.Logf("Capture replay complete: %d packets, %d samples in %v", packetCount, sampleCount, elapsed)
				return packetCount, nil
			}
			return packetCount, fmt.Errorf("capture read failed: %w", err)
		}

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}
		if cfg.UDPPort > 0 && int(udp.DstPort) != cfg.UDPPort {
			continue
		}
		payload := udp.Payload
		if len(payload) == 0 {
			continue
		}

		// Pace against capture timestamps when requested.
		if cfg.SpeedMultiplier > 0 && !lastPacketTime.IsZero() {
			delay := ci.Timestamp.Sub(lastPacketTime)
			scaled := time.Duration(float64(delay) / cfg.SpeedMultiplier)
			if scaled > 0 {
				select {
				case <-ctx.Done():
					return packetCount, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		lastPacketTime = ci.Timestamp

		packetCount++
		if cfg.Stats != nil {
			cfg.Stats.AddPacket(len(payload))
		}
		if cfg.Forwarder != nil {
			cfg.Forwarder.ForwardAsync(payload)
		}

		if cfg.Sink != nil {
			samples, err := ParseNodes(payload, ci.Timestamp)
			if err != nil {
				monitoring.Logf("Error parsing capture packet %d: %v", packetCount, err)
				continue
			}
			accepted := cfg.Sink.Ingest(samples)
			sampleCount += accepted
			if cfg.Stats != nil {
				cfg.Stats.AddSamples(accepted)
			}
		}

		if packetCount%10000 == 0 {
			elapsed := time.Since(startTime)
			monitoring.Logf("Capture replay progress: %d packets in %v (%.0f pkt/s)",
				packetCount, elapsed, float64(packetCount)/elapsed.Seconds())
		}
	}
}
