package telemetry

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"dockwatch.sh/internal/container"
	"dockwatch.sh/internal/ferrors"
)

// Default container settings for Create
const (
	DefaultImage   = "ubuntu"
	DefaultCommand = "sleep 3600"
)

// Status is the service liveness report
type Status struct {
	Status          string `json:"status"`
	DockerConnected bool   `json:"docker_connected"`
}

// MemoryReading is a container's memory usage. Stopped containers report
// zero bytes with Running false.
type MemoryReading struct {
	Bytes   uint64
	Running bool
}

// CreateRequest names a container to start
type CreateRequest struct {
	Name    string
	Image   string
	Command string
}

// Service answers metric queries against the container runtime. Each
// operation resolves the runtime handle once and uses it throughout.
type Service struct {
	connector *container.Connector
	sampler   *Sampler
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a query service
func NewService(connector *container.Connector, sampler *Sampler, logger *zap.Logger) *Service {
	if sampler == nil {
		sampler = NewSampler(DefaultSampleInterval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		connector: connector,
		sampler:   sampler,
		logger:    logger.Named("telemetry"),
		now:       time.Now,
	}
}

// withRuntime runs fn against the current runtime handle, connecting first if
// needed, and drops the handle if fn saw the runtime go away.
func withRuntime[T any](ctx context.Context, s *Service, fn func(container.Runtime) (T, error)) (T, error) {
	h, err := s.connector.Acquire(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := fn(h.Runtime)
	s.connector.Release(h, err)
	return v, err
}

// Home reports whether the service holds a runtime connection. Without one
// it probes the candidates again, so a daemon started after boot shows up
// here. It never fails.
func (s *Service) Home(ctx context.Context) Status {
	connected := s.connector.Current() != nil
	if !connected {
		_, err := s.connector.Acquire(ctx)
		connected = err == nil
	}
	return Status{
		Status:          "Server is running",
		DockerConnected: connected,
	}
}

// Containers lists all containers, running or not
func (s *Service) Containers(ctx context.Context) ([]container.ContainerSummary, error) {
	return withRuntime(ctx, s, func(rt container.Runtime) ([]container.ContainerSummary, error) {
		return rt.ListContainers(ctx)
	})
}

// Images lists the first tag of every tagged image
func (s *Service) Images(ctx context.Context) ([]string, error) {
	return withRuntime(ctx, s, func(rt container.Runtime) ([]string, error) {
		return rt.ListImages(ctx)
	})
}

// IPAddresses maps each network of ref to its address
func (s *Service) IPAddresses(ctx context.Context, ref string) (map[string]string, error) {
	return withRuntime(ctx, s, func(rt container.Runtime) (map[string]string, error) {
		info, err := rt.InspectContainer(ctx, ref)
		if err != nil {
			return nil, err
		}
		return IPAddresses(info.Networks), nil
	})
}

// Memory reads the current memory usage of ref
func (s *Service) Memory(ctx context.Context, ref string) (MemoryReading, error) {
	return withRuntime(ctx, s, func(rt container.Runtime) (MemoryReading, error) {
		info, err := rt.InspectContainer(ctx, ref)
		if err != nil {
			return MemoryReading{}, err
		}
		if !info.IsRunning() {
			return MemoryReading{}, nil
		}
		snap, err := rt.Stats(ctx, info.ID)
		if err != nil {
			return MemoryReading{}, err
		}
		return MemoryReading{Bytes: snap.MemoryUsage, Running: true}, nil
	})
}

// CPU samples the CPU utilisation of ref over the sampler's interval
func (s *Service) CPU(ctx context.Context, ref string) (float64, error) {
	return withRuntime(ctx, s, func(rt container.Runtime) (float64, error) {
		return s.sampler.SampleCPU(ctx, rt, ref)
	})
}

// Uptime returns how long ref has been running
func (s *Service) Uptime(ctx context.Context, ref string) (time.Duration, error) {
	return withRuntime(ctx, s, func(rt container.Runtime) (time.Duration, error) {
		info, err := rt.InspectContainer(ctx, ref)
		if err != nil {
			return 0, err
		}
		return s.uptime(info)
	})
}

func (s *Service) uptime(info *container.ContainerInfo) (time.Duration, error) {
	d, err := Uptime(info, s.now())
	if err != nil {
		return 0, ferrors.Wrapf(ferrors.Mark(err, ferrors.ErrInternal), "uptime of %s", info.Name)
	}
	return d, nil
}

// Metrics computes every derived metric of ref against a single handle. The
// result is all-or-nothing.
func (s *Service) Metrics(ctx context.Context, ref string) (*DerivedMetrics, error) {
	return withRuntime(ctx, s, func(rt container.Runtime) (*DerivedMetrics, error) {
		info, err := rt.InspectContainer(ctx, ref)
		if err != nil {
			return nil, err
		}

		m := &DerivedMetrics{IPAddresses: IPAddresses(info.Networks)}
		if m.Uptime, err = s.uptime(info); err != nil {
			return nil, err
		}
		if m.CPUPercent, err = s.sampler.sampleRunning(ctx, rt, info); err != nil {
			return nil, err
		}
		if info.IsRunning() {
			snap, err := rt.Stats(ctx, info.ID)
			if err != nil {
				return nil, err
			}
			m.RAMBytes = snap.MemoryUsage
			m.Running = true
		}
		return m, nil
	})
}

// Create starts a new container, pulling its image first when missing. A
// missing image or command falls back to the defaults.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*container.ContainerSummary, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, ferrors.Wrap(ferrors.ErrInvalidRequest, "container name is required")
	}
	if req.Image == "" {
		req.Image = DefaultImage
	}
	if strings.TrimSpace(req.Command) == "" {
		req.Command = DefaultCommand
	}

	return withRuntime(ctx, s, func(rt container.Runtime) (*container.ContainerSummary, error) {
		created, err := rt.Run(ctx, container.RunConfig{
			Name:    req.Name,
			Image:   req.Image,
			Command: strings.Fields(req.Command),
		})
		if err != nil {
			return nil, err
		}
		s.logger.Info("container created",
			zap.String("name", created.Name),
			zap.String("id", created.ID),
			zap.String("image", req.Image))
		return created, nil
	})
}

// Remove force-removes the container called name
func (s *Service) Remove(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return ferrors.Wrap(ferrors.ErrInvalidRequest, "container name is required")
	}
	_, err := withRuntime(ctx, s, func(rt container.Runtime) (struct{}, error) {
		return struct{}{}, rt.RemoveContainer(ctx, name, true)
	})
	if err == nil {
		s.logger.Info("container removed", zap.String("name", name))
	}
	return err
}
