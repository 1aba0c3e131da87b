package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"dockwatch.sh/internal/container"
	"dockwatch.sh/internal/metrics"
	"dockwatch.sh/internal/tracing"
)

// DefaultSampleInterval is the observation window between the two snapshots
const DefaultSampleInterval = 500 * time.Millisecond

// Sampler measures CPU utilisation over a short observation window. The wait
// blocks only the calling request.
type Sampler struct {
	interval time.Duration
	after    func(time.Duration) <-chan time.Time
}

// NewSampler creates a sampler; a non-positive interval selects the default
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{interval: interval, after: time.After}
}

// Interval returns the observation window
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// SampleCPU takes two stats snapshots one interval apart and derives the CPU
// percentage. A container that is not running reports 0 without waiting.
func (s *Sampler) SampleCPU(ctx context.Context, rt container.Runtime, ref string) (percent float64, err error) {
	ctx, span := tracing.StartSpan(ctx, "telemetry.SampleCPU", attribute.String("container", ref))
	defer func() { tracing.End(span, err) }()

	info, err := rt.InspectContainer(ctx, ref)
	if err != nil {
		metrics.CPUSamplesTotal.WithLabelValues("error").Inc()
		return 0, err
	}
	return s.sampleRunning(ctx, rt, info)
}

func (s *Sampler) sampleRunning(ctx context.Context, rt container.Runtime, info *container.ContainerInfo) (float64, error) {
	if !info.IsRunning() {
		metrics.CPUSamplesTotal.WithLabelValues("stopped").Inc()
		return 0, nil
	}

	start := time.Now()
	first, err := rt.Stats(ctx, info.ID)
	if err != nil {
		metrics.CPUSamplesTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("cpu sample of %s abandoned: %w", info.Name, ctx.Err())
	case <-s.after(s.interval):
	}

	second, err := rt.Stats(ctx, info.ID)
	if err != nil {
		metrics.CPUSamplesTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	metrics.CPUSamplesTotal.WithLabelValues("sampled").Inc()
	metrics.CPUSampleDuration.Observe(time.Since(start).Seconds())
	return CPUPercent(*first, *second), nil
}
