// Command scan-replay replays a packet capture of range-sensor
// datagrams, either into a running survey service over UDP or offline
// into a sector aggregator for a quick look at what the capture holds.
//
// Usage:
//
//	go run ./cmd/scan-replay -pcap scan.pcap -target localhost:2370
//	go run ./cmd/scan-replay -pcap scan.pcap
//
// With -target the payloads are re-emitted over UDP at the capture's
// original pacing (scaled by -speed), so a service started with
// -udp-port receives them as if the sensor bridge were live. Without
// -target the samples are aggregated locally and a sector summary is
// printed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/wyvern-data/surface.report/internal/scan"
)

var (
	pcapFile    = flag.String("pcap", "", "Path to the capture file (required)")
	udpPort     = flag.Int("udp-port", 0, "Only replay datagrams sent to this UDP port (0: all UDP payloads)")
	speed       = flag.Float64("speed", 1.0, "Replay speed multiplier (0: as fast as possible)")
	target      = flag.String("target", "", "Re-emit payloads to this UDP host:port instead of aggregating locally")
	sectorWidth = flag.Float64("sector-width", 5.0, "Sector width in degrees for the local summary")
)

func main() {
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("Error: -pcap flag is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := scan.NewPacketStats()
	cfg := scan.ReplayConfig{
		UDPPort:         *udpPort,
		SpeedMultiplier: *speed,
		Stats:           stats,
	}

	var agg *scan.Aggregator
	if *target != "" {
		host, port, err := splitTarget(*target)
		if err != nil {
			log.Fatalf("Invalid -target: %v", err)
		}
		forwarder, err := scan.NewPacketForwarder(host, port, stats, 2*time.Second)
		if err != nil {
			log.Fatalf("Failed to set up forwarding: %v", err)
		}
		forwarder.Start(ctx)
		defer func() {
			// Close drops whatever is still queued, so let the forward
			// queue drain first.
			time.Sleep(200 * time.Millisecond)
			forwarder.Close()
		}()
		cfg.Forwarder = forwarder
	} else {
		// Zero staleness: every reading in the capture counts for the
		// summary no matter how long the replay takes.
		agg = scan.NewAggregator(*sectorWidth, 0, nil)
		cfg.Sink = agg
	}

	packets, err := scan.ReplayPCAPFile(ctx, *pcapFile, cfg)
	if err != nil && err != context.Canceled {
		log.Fatalf("Replay failed: %v", err)
	}

	if agg != nil {
		fmt.Print(summarize(agg.Snapshot(), packets))
	}
}

func splitTarget(target string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad port %q: %w", portStr, err)
	}
	return host, port, nil
}

func summarize(m scan.SectorMap, packets int) string {
	if len(m.Readings) == 0 {
		return fmt.Sprintf("Replayed %d packets, no decodable range samples\n", packets)
	}

	nearest, farthest := m.Readings[0], m.Readings[0]
	for _, r := range m.Readings[1:] {
		if r.DistanceM < nearest.DistanceM {
			nearest = r
		}
		if r.DistanceM > farthest.DistanceM {
			farthest = r
		}
	}

	return fmt.Sprintf("Replayed %d packets into %d of %d sectors (%.1f deg wide)\n",
		packets, len(m.Readings), m.SectorCount, m.SectorWidthDeg) +
		fmt.Sprintf("Nearest return %.2fm at %.0f deg, farthest %.2fm at %.0f deg\n",
			nearest.DistanceM, nearest.SectorDeg, farthest.DistanceM, farthest.SectorDeg)
}
