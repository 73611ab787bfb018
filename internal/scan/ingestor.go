package scan

import (
	"context"
	"time"

	"github.com/wyvern-data/surface.report/internal/monitoring"
	"github.com/wyvern-data/surface.report/internal/timeutil"
)

// Ingestor owns the connection to a sample source, pumping decoded
// batches into the sink and reconnecting with exponential backoff when
// the source fails. The serial port and the synthetic source both run
// under an Ingestor; the UDP listener manages its own socket instead.
type Ingestor struct {
	// Open establishes the source connection. Called again after each
	// failure or stream end.
	Open func() (PortInterface, error)

	Sink  Sink
	Stats *PacketStats

	// Clock defaults to the real clock. Tests inject a mock.
	Clock timeutil.Clock

	// InitialBackoff is the wait after the first failure (default 1s).
	// Each subsequent failure doubles the wait up to MaxBackoff
	// (default 30s). A successful open resets the backoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Run opens the source and pumps samples into the sink, reconnecting
// with backoff until the context is cancelled.
func (i *Ingestor) Run(ctx context.Context) error {
	clock := i.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	initial := i.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	max := i.MaxBackoff
	if max <= 0 {
		max = 30 * time.Second
	}

	backoff := initial

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		port, err := i.Open()
		if err != nil {
			monitoring.Logf("Scan source open failed: %v (retrying in %s)", err, backoff)
			if !i.wait(ctx, clock, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, max)
			continue
		}
		backoff = initial

		if err := i.pump(ctx, port); err != nil {
			return err
		}

		if !i.wait(ctx, clock, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, max)
	}
}

// pump consumes sample batches until the source's Monitor returns.
// Returns non-nil only when the context ended.
func (i *Ingestor) pump(ctx context.Context, port PortInterface) error {
	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- port.Monitor(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			<-monitorDone
			return ctx.Err()
		case batch := <-port.Samples():
			i.ingest(batch)
		case err := <-monitorDone:
			// Drain anything the source managed to queue before exiting.
			for {
				select {
				case batch := <-port.Samples():
					i.ingest(batch)
				default:
					if err != nil {
						monitoring.Logf("Scan source stopped: %v (reconnecting)", err)
					}
					return nil
				}
			}
		}
	}
}

func (i *Ingestor) ingest(batch []Sample) {
	if len(batch) == 0 || i.Sink == nil {
		return
	}
	accepted := i.Sink.Ingest(batch)
	if i.Stats != nil {
		i.Stats.AddSamples(accepted)
	}
}

// wait blocks for d or until the context ends. Reports false on cancellation.
func (i *Ingestor) wait(ctx context.Context, clock timeutil.Clock, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-clock.After(d):
		return true
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
