package scan

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestUDPListenerIngestsPackets(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	stats := NewPacketStats()

	listener := NewUDPListener(UDPListenerConfig{
		Address: "127.0.0.1:0",
		Stats:   stats,
		Sink:    sink,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- listener.Start(ctx) }()

	waitUntil(t, func() bool { return listener.LocalAddr() != nil })

	conn, err := net.Dial("udp", listener.LocalAddr().String())
	if err != nil {
		t.Fatalf("failed to dial listener: %v", err)
	}
	defer conn.Close()

	payload := EncodeNode(12.0, 2.5, 30, false)
	payload = append(payload, EncodeNode(17.0, 2.6, 30, false)...)
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("failed to send packet: %v", err)
	}

	// A garbage packet is counted but produces no samples.
	if _, err := conn.Write([]byte{0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("failed to send garbage packet: %v", err)
	}

	waitUntil(t, func() bool { return sink.count() >= 2 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Start returned %v, want context.Canceled", err)
	}

	packets, bytes, _, samples, _ := stats.GetAndReset()
	if packets != 2 {
		t.Errorf("stats packets = %d, want 2", packets)
	}
	if bytes != int64(len(payload)+3) {
		t.Errorf("stats bytes = %d, want %d", bytes, len(payload)+3)
	}
	if samples != 2 {
		t.Errorf("stats samples = %d, want 2", samples)
	}
}

func TestUDPListenerForwardsPackets(t *testing.T) {
	t.Parallel()

	// Tap receiver for forwarded packets.
	tap, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("failed to open tap: %v", err)
	}
	defer tap.Close()
	tapPort := tap.LocalAddr().(*net.UDPAddr).Port

	stats := NewPacketStats()
	fwd, err := NewPacketForwarder("127.0.0.1", tapPort, stats, time.Minute)
	if err != nil {
		t.Fatalf("NewPacketForwarder failed: %v", err)
	}

	listener := NewUDPListener(UDPListenerConfig{
		Address:   "127.0.0.1:0",
		Stats:     stats,
		Forwarder: fwd,
		Sink:      &recordingSink{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Start(ctx) }()

	waitUntil(t, func() bool { return listener.LocalAddr() != nil })

	conn, err := net.Dial("udp", listener.LocalAddr().String())
	if err != nil {
		t.Fatalf("failed to dial listener: %v", err)
	}
	defer conn.Close()

	payload := EncodeNode(45.0, 1.5, 20, false)
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("failed to send packet: %v", err)
	}

	tap.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := tap.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("forwarded packet not received: %v", err)
	}
	if n != len(payload) {
		t.Errorf("forwarded %d bytes, want %d", n, len(payload))
	}
}

func TestUDPListenerBadAddress(t *testing.T) {
	t.Parallel()

	listener := NewUDPListener(UDPListenerConfig{Address: "not-an-address:xyz"})
	if err := listener.Start(context.Background()); err == nil {
		t.Error("expected error for unresolvable address")
	}
}
