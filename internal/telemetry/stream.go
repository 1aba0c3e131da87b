package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dockwatch.sh/internal/metrics"
)

// DefaultStreamInterval is the pause between two stream events
const DefaultStreamInterval = 2 * time.Second

// Event is one stream message. Exactly one of Uptime and Error is set.
type Event struct {
	ContainerID string    `json:"container_id"`
	Uptime      string    `json:"uptime,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventSink delivers events to a subscriber
type EventSink interface {
	Send(ev Event) error
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ev Event) error

// Send calls f(ev)
func (f EventSinkFunc) Send(ev Event) error {
	return f(ev)
}

// UptimeSource computes container uptime
type UptimeSource interface {
	Uptime(ctx context.Context, ref string) (time.Duration, error)
}

// Publisher pushes uptime events for one container until the subscriber
// goes away.
type Publisher struct {
	source   UptimeSource
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time
}

// NewPublisher creates a publisher; a non-positive interval selects the default
func NewPublisher(source UptimeSource, interval time.Duration, logger *zap.Logger) *Publisher {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		source:   source,
		interval: interval,
		logger:   logger.Named("stream"),
		now:      time.Now,
		after:    time.After,
	}
}

// Run publishes an event every interval until ctx is cancelled, which ends
// the stream with a nil error. A failed computation is reported in-band as an
// error event and the loop continues. A failed send means the subscriber is
// gone and is returned.
func (p *Publisher) Run(ctx context.Context, ref string, sink EventSink) error {
	metrics.StreamSessionsActive.Inc()
	defer metrics.StreamSessionsActive.Dec()

	p.logger.Debug("stream opened", zap.String("container", ref))
	defer p.logger.Debug("stream closed", zap.String("container", ref))

	for {
		ev, kind := p.next(ctx, ref)
		// nothing is delivered once the subscriber has left
		if ctx.Err() != nil {
			return nil
		}
		if err := sink.Send(ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send %s event for %s: %w", kind, ref, err)
		}
		metrics.StreamEventsTotal.WithLabelValues(kind).Inc()

		select {
		case <-ctx.Done():
			return nil
		case <-p.after(p.interval):
		}
	}
}

func (p *Publisher) next(ctx context.Context, ref string) (Event, string) {
	d, err := p.source.Uptime(ctx, ref)
	ev := Event{ContainerID: ref, Timestamp: p.now().UTC()}
	if err != nil {
		ev.Error = err.Error()
		return ev, "error"
	}
	ev.Uptime = FormatUptime(d)
	return ev, "metric"
}
