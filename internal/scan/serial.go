package scan

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/wyvern-data/surface.report/internal/monitoring"
)

// PortInterface abstracts the sensor serial port so the ingest loop can
// run against hardware or canned byte streams.
type PortInterface interface {
	Samples() <-chan []Sample
	Monitor(ctx context.Context) error
	Close() error
}

// MockPort replays a recorded byte stream through the parser. Tests and
// the replay tool use it in place of hardware.
type MockPort struct {
	Data        io.Reader
	SamplesChan chan []Sample
}

func (m *MockPort) Samples() <-chan []Sample {
	return m.SamplesChan
}

// Monitor decodes the canned stream, emits sample batches, then blocks
// until the context is cancelled.
func (m *MockPort) Monitor(ctx context.Context) error {
	parser := NewStreamParser()
	buf := make([]byte, 256)

	for {
		n, err := m.Data.Read(buf)
		if n > 0 {
			batch := parser.Feed(buf[:n])
			if len(batch) > 0 {
				select {
				case m.SamplesChan <- batch:
				case <-ctx.Done():
					return nil
				}
			}
		}
		if err != nil {
			break
		}
	}

	<-ctx.Done()
	return nil
}

func (m *MockPort) Close() error {
	return nil
}

// Port reads the sensor's measurement stream from a serial port.
type Port struct {
	port    serial.Port
	parser  *StreamParser
	samples chan []Sample
}

// NewPort opens the sensor serial port. The sensor speaks 115200 8N1.
func NewPort(portName string) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}

	return &Port{
		port:    port,
		parser:  NewStreamParser(),
		samples: make(chan []Sample, 8),
	}, nil
}

// Samples returns the channel carrying decoded sample batches.
func (p *Port) Samples() <-chan []Sample {
	return p.samples
}

// Close closes the serial port.
func (p *Port) Close() error {
	return p.port.Close()
}

// Revolutions returns the number of sensor revolutions observed.
func (p *Port) Revolutions() int64 {
	return p.parser.Revolutions()
}

// Monitor starts the measurement stream and pumps decoded batches to
// the samples channel until the context is cancelled or the port fails.
func (p *Port) Monitor(ctx context.Context) error {
	defer p.Close()

	// Some sensor boards gate the scan motor on DTR being pulled low.
	if err := p.port.SetDTR(false); err != nil {
		monitoring.Logf("SetDTR failed: %v (continuing, motor may be externally powered)", err)
	}

	// Bounded reads so the loop can notice context cancellation.
	if err := p.port.SetReadTimeout(time.Second); err != nil {
		return fmt.Errorf("failed to set serial read timeout: %w", err)
	}

	if _, err := p.port.Write(StartScanRequest()); err != nil {
		return fmt.Errorf("failed to send start scan request: %w", err)
	}
	defer func() {
		if _, err := p.port.Write(StopRequest()); err != nil {
			monitoring.Logf("Failed to send stop request: %v", err)
		}
	}()

	buf := make([]byte, 1024)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			n, err := p.port.Read(buf)
			if err != nil {
				return fmt.Errorf("serial read failed: %w", err)
			}
			if n == 0 {
				// Read timeout, go around and check the context.
				continue
			}

			batch := p.parser.Feed(buf[:n])
			if len(batch) == 0 {
				continue
			}

			select {
			case p.samples <- batch:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
