package scan

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/wyvern-data/surface.report/internal/monitoring"
)

// forwardQueueDepth bounds the number of packets waiting to be sent on.
const forwardQueueDepth = 1000

// DropCounter records packets dropped on the forwarding path.
type DropCounter interface {
	AddDropped()
}

// PacketForwarder handles asynchronous forwarding of sample packets to
// another address, so a second consumer (a recorder, a debug listener)
// can tap the raw stream. Forwarding never blocks the ingest path: the
// packet is dropped when the buffer is full.
type PacketForwarder struct {
	conn     net.Conn
	queue    chan []byte
	drops    DropCounter
	logEvery time.Duration
	addr     string
}

// NewPacketForwarder creates a forwarder that sends packets to addr:port.
func NewPacketForwarder(addr string, port int, stats DropCounter, logInterval time.Duration) (*PacketForwarder, error) {
	target := fmt.Sprintf("%s:%d", addr, port)
	conn, err := net.Dial("udp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to dial forward target %s: %w", target, err)
	}

	return &PacketForwarder{
		conn:     conn,
		queue:    make(chan []byte, forwardQueueDepth),
		drops:    stats,
		logEvery: logInterval,
		addr:     target,
	}, nil
}

// Start begins the forwarding goroutine. Write errors are counted and
// reported at the log interval rather than per packet.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		writeErrs := 0
		var lastErr error
		ticker := time.NewTicker(f.logEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-f.queue:
				if !ok {
					return
				}
				if _, err := f.conn.Write(packet); err != nil {
					writeErrs++
					lastErr = err
				}
			case <-ticker.C:
				if writeErrs > 0 {
					monitoring.Logf("forward: %d packets failed since last report (latest: %v)", writeErrs, lastErr)
					writeErrs = 0
					lastErr = nil
				}
			}
		}
	}()

	monitoring.Logf("Forwarding scan packets to %s", f.addr)
}

// ForwardAsync queues a packet without blocking. The packet is copied
// because callers reuse their receive buffers.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	select {
	case f.queue <- append([]byte(nil), packet...):
	default:
		if f.drops != nil {
			f.drops.AddDropped()
		}
	}
}

// Close closes the UDP connection and channel.
func (f *PacketForwarder) Close() error {
	close(f.queue)
	return f.conn.Close()
}
