package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/wyvern-data/surface.report/internal/scan"
)

// writeCapture writes a pcap file of UDP datagrams carrying the given
// payloads, 100ms apart.
func writeCapture(t *testing.T, path string, dstPort int, payloads [][]byte) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create capture file: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("Failed to write capture header: %v", err)
	}

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, payload := range payloads {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
			DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IP{10, 0, 0, 1},
			DstIP:    net.IP{10, 0, 0, 2},
		}
		udp := &layers.UDP{
			SrcPort: 40000,
			DstPort: layers.UDPPort(dstPort),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			t.Fatalf("Checksum setup failed: %v", err)
		}

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
			t.Fatalf("Serialize failed: %v", err)
		}

		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * 100 * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("Failed to write packet: %v", err)
		}
	}
}

func TestOfflineReplaySummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.pcap")
	payloads := [][]byte{
		scan.EncodeNode(12.0, 1.5, 40, true),
		scan.EncodeNode(180.0, 3.0, 40, false),
		scan.EncodeNode(335.0, 0.8, 40, false),
	}
	writeCapture(t, path, 2370, payloads)

	agg := scan.NewAggregator(5.0, 0, nil)
	n, err := scan.ReplayPCAPFile(context.Background(), path, scan.ReplayConfig{
		UDPPort: 2370,
		Sink:    agg,
	})
	if err != nil {
		t.Fatalf("Failed to replay capture: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 packets replayed, got %d", n)
	}

	out := summarize(agg.Snapshot(), n)
	if !strings.Contains(out, "3 packets into 3 of 72 sectors") {
		t.Errorf("Unexpected summary: %q", out)
	}
	if !strings.Contains(out, "Nearest return 0.80m at 335 deg") {
		t.Errorf("Expected the 335 deg return as nearest, got %q", out)
	}
	if !strings.Contains(out, "farthest 3.00m at 180 deg") {
		t.Errorf("Expected the 180 deg return as farthest, got %q", out)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	out := summarize(scan.SectorMap{}, 5)
	if out != "Replayed 5 packets, no decodable range samples\n" {
		t.Errorf("Unexpected empty summary: %q", out)
	}
}

func TestSplitTarget(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"localhost:2370", "localhost", 2370, false},
		{"10.0.0.5:99", "10.0.0.5", 99, false},
		{"nocolon", "", 0, true},
		{"host:notaport", "", 0, true},
	}
	for _, tt := range tests {
		host, port, err := splitTarget(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("splitTarget(%q): expected error, got %q %d", tt.in, host, port)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitTarget(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if host != tt.wantHost || port != tt.wantPort {
			t.Errorf("splitTarget(%q) = %q, %d; want %q, %d", tt.in, host, port, tt.wantHost, tt.wantPort)
		}
	}
}
