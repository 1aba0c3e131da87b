package container

import (
	"context"
	"time"
)

// ContainerState represents the state of a container
type ContainerState string

const (
	ContainerStateCreated    ContainerState = "created"
	ContainerStateRunning    ContainerState = "running"
	ContainerStatePaused     ContainerState = "paused"
	ContainerStateRestarting ContainerState = "restarting"
	ContainerStateRemoving   ContainerState = "removing"
	ContainerStateExited     ContainerState = "exited"
	ContainerStateDead       ContainerState = "dead"
	ContainerStateUnknown    ContainerState = "unknown"
)

// NoTag marks an image without a repository tag.
const NoTag = "no-tag"

// ContainerSummary is one row of a container listing
type ContainerSummary struct {
	ID     string // short (12 character) id
	Name   string
	Status ContainerState
	Image  string // first tag of the image, or NoTag
}

// NetworkAttachment is one network a container is attached to
type NetworkAttachment struct {
	Name      string
	IPAddress string // empty when the runtime assigned none
}

// ContainerInfo is the inspected state of a single container
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	State     ContainerState
	Running   bool
	StartedAt string // raw runtime timestamp, parsed by the telemetry package
	Networks  []NetworkAttachment
}

// IsRunning reports whether the container is executing. Docker keeps the
// running flag set while a container is paused or restarting.
func (c *ContainerInfo) IsRunning() bool {
	if c == nil || !c.Running {
		return false
	}
	return c.State != ContainerStatePaused && c.State != ContainerStateRestarting
}

// StatsSnapshot is one instantaneous read of a container's raw counters.
// Snapshots are never mutated or cached.
type StatsSnapshot struct {
	ReadAt         time.Time
	CPUUsage       uint64   // cumulative container CPU time, ns
	SystemCPUUsage uint64   // cumulative host CPU time, ns
	PerCPUUsage    []uint64 // per-core cumulative usage, may be empty on cgroup v2
	MemoryUsage    uint64   // bytes
}

// RunConfig describes a container to create and start
type RunConfig struct {
	Name    string
	Image   string
	Command []string
}

// Runtime is the subset of container runtime operations the service needs.
// Every method translates runtime failures into ferrors kinds: a missing
// container or image is ErrNotFound, an unreachable daemon ErrUnavailable.
type Runtime interface {
	// Ping checks that the runtime answers
	Ping(ctx context.Context) error

	// ListContainers lists all containers, running or not
	ListContainers(ctx context.Context) ([]ContainerSummary, error)

	// ListImages returns the first tag of every tagged image
	ListImages(ctx context.Context) ([]string, error)

	// InspectContainer gets detailed container information
	InspectContainer(ctx context.Context, ref string) (*ContainerInfo, error)

	// Stats takes a single non-streaming stats snapshot
	Stats(ctx context.Context, ref string) (*StatsSnapshot, error)

	// Run pulls the image if it is missing, then creates and starts a container
	Run(ctx context.Context, cfg RunConfig) (*ContainerSummary, error)

	// RemoveContainer removes a container, killing it first when force is set
	RemoveContainer(ctx context.Context, ref string, force bool) error

	// Close releases the underlying connection
	Close() error
}
