package scan

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/wyvern-data/surface.report/internal/monitoring"
)

// UDPListener receives sample packets from a serial-to-UDP bridge or a
// capture replay and feeds the decoded samples into a sink. It manages
// the socket, optional packet forwarding, parsing, and statistics.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	buffer      []byte
	stats       *PacketStats
	forwarder   *PacketForwarder
	sink        Sink

	mu        sync.Mutex
	localAddr net.Addr
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Stats       *PacketStats
	Forwarder   *PacketForwarder
	Sink        Sink
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	if config.LogInterval <= 0 {
		config.LogInterval = time.Minute
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: config.LogInterval,
		buffer:      make([]byte, 1500), // typical MTU-sized packets
		stats:       config.Stats,
		forwarder:   config.Forwarder,
		sink:        config.Sink,
	}
}

// LocalAddr returns the bound address once Start has opened the socket,
// or nil. Useful when listening on port 0.
func (l *UDPListener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localAddr
}

// Start begins listening for packets and processing them. Returns when
// the context is cancelled or an unrecoverable error occurs.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	defer conn.Close()

	l.mu.Lock()
	l.localAddr = conn.LocalAddr()
	l.mu.Unlock()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: failed to set UDP receive buffer to %d bytes: %v (some OSes clamp buffer sizes)", l.rcvBuf, err)
		}
	}

	monitoring.Logf("Listening for scan packets on %s", conn.LocalAddr())

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}

	go l.startStatsLogging(ctx)

	timeoutCount := 0

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP listener shutting down")
			return ctx.Err()
		default:
			// Set a read timeout to allow checking for context cancellation.
			if err := conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
				monitoring.Logf("Error setting read deadline: %v", err)
				continue
			}

			n, _, err := conn.ReadFromUDP(l.buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					timeoutCount++
					if timeoutCount%10 == 0 {
						monitoring.Logf("No scan packets received for %d seconds", timeoutCount)
					}
					continue
				}
				monitoring.Logf("Error reading UDP packet: %v", err)
				continue
			}

			timeoutCount = 0

			// The buffer is reused across reads; handlePacket and any
			// downstream consumer that keeps the data must copy it.
			if err := l.handlePacket(l.buffer[:n]); err != nil {
				monitoring.Logf("Error handling scan packet: %v", err)
			}
		}
	}
}

// startStatsLogging logs statistics at regular intervals.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	if l.stats == nil {
		return
	}
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// handlePacket processes a single received packet.
func (l *UDPListener) handlePacket(packet []byte) error {
	if l.stats != nil {
		l.stats.AddPacket(len(packet))
	}

	if l.forwarder != nil {
		l.forwarder.ForwardAsync(packet)
	}

	if l.sink == nil {
		return nil
	}

	samples, err := ParseNodes(packet, time.Time{})
	if err != nil {
		// Torn packets are expected on a lossy path; report and move on.
		return fmt.Errorf("parse failed: %w", err)
	}

	accepted := l.sink.Ingest(samples)
	if l.stats != nil {
		l.stats.AddSamples(accepted)
	}
	return nil
}
