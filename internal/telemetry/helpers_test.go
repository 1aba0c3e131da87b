package telemetry

import (
	"time"

	"go.uber.org/zap"

	"dockwatch.sh/internal/container"
	"dockwatch.sh/internal/container/containertest"
)

// immediately is a timer that has already fired
func immediately(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// never is a timer that never fires
func never(time.Duration) <-chan time.Time {
	return nil
}

// newTestService wires a service to rt through a real connector
func newTestService(rt *containertest.Runtime) *Service {
	connector := container.NewConnector(container.ConnectorConfig{}, rt.Dialer(), zap.NewNop())

	sampler := NewSampler(DefaultSampleInterval)
	sampler.after = immediately

	return NewService(connector, sampler, zap.NewNop())
}
