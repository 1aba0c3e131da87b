// Package containertest provides an in-memory container runtime for tests.
package containertest

import (
	"context"
	"slices"
	"sync"

	"dockwatch.sh/internal/container"
	"dockwatch.sh/internal/ferrors"
)

// Runtime is an in-memory container.Runtime. Containers are keyed by name and
// can be looked up by name or id.
type Runtime struct {
	mu sync.Mutex

	down   bool
	images []string
	infos  map[string]*container.ContainerInfo

	// stats are handed out in order, the last one repeating
	stats      []container.StatsSnapshot
	statsCalls int
	statsErr   error

	runs    []container.RunConfig
	removed []string
	closed  bool
}

var _ container.Runtime = (*Runtime)(nil)

// New creates a runtime holding infos
func New(infos ...*container.ContainerInfo) *Runtime {
	r := &Runtime{infos: make(map[string]*container.ContainerInfo)}
	for _, info := range infos {
		r.infos[info.Name] = info
	}
	return r
}

// Dialer returns a dialer that always hands out r
func (r *Runtime) Dialer() container.Dialer {
	return func(string) (container.Runtime, error) { return r, nil }
}

// SetDown makes every call fail as if the daemon went away
func (r *Runtime) SetDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}

// SetImages sets the image tags ListImages returns
func (r *Runtime) SetImages(tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images = tags
}

// SetStats scripts the snapshots Stats returns
func (r *Runtime) SetStats(snaps ...container.StatsSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = snaps
	r.statsCalls = 0
}

// SetStatsErr makes Stats fail with err
func (r *Runtime) SetStatsErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statsErr = err
}

// StatsCalls reports how many snapshots were taken
func (r *Runtime) StatsCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsCalls
}

// Runs returns the configs of every container started through Run
func (r *Runtime) Runs() []container.RunConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.runs)
}

// Removed returns the names of removed containers
func (r *Runtime) Removed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.removed)
}

// Closed reports whether Close was called
func (r *Runtime) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Runtime) unavailable() error {
	if r.down {
		return ferrors.Wrap(ferrors.ErrUnavailable, "Cannot connect to the Docker daemon")
	}
	return nil
}

func (r *Runtime) lookup(ref string) (*container.ContainerInfo, error) {
	if info, ok := r.infos[ref]; ok {
		return info, nil
	}
	for _, info := range r.infos {
		if info.ID == ref {
			return info, nil
		}
	}
	return nil, ferrors.Wrapf(ferrors.ErrNotFound, "container %s", ref)
}

func (r *Runtime) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unavailable()
}

func (r *Runtime) ListContainers(ctx context.Context) ([]container.ContainerSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable(); err != nil {
		return nil, err
	}
	out := make([]container.ContainerSummary, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, container.ContainerSummary{ID: info.ID, Name: info.Name, Status: info.State, Image: info.Image})
	}
	slices.SortFunc(out, func(a, b container.ContainerSummary) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out, nil
}

func (r *Runtime) ListImages(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable(); err != nil {
		return nil, err
	}
	return slices.Clone(r.images), nil
}

func (r *Runtime) InspectContainer(ctx context.Context, ref string) (*container.ContainerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable(); err != nil {
		return nil, err
	}
	info, err := r.lookup(ref)
	if err != nil {
		return nil, err
	}
	cp := *info
	return &cp, nil
}

func (r *Runtime) Stats(ctx context.Context, ref string) (*container.StatsSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable(); err != nil {
		return nil, err
	}
	if r.statsErr != nil {
		return nil, r.statsErr
	}
	if _, err := r.lookup(ref); err != nil {
		return nil, err
	}
	r.statsCalls++
	if len(r.stats) == 0 {
		return &container.StatsSnapshot{}, nil
	}
	snap := r.stats[min(r.statsCalls, len(r.stats))-1]
	return &snap, nil
}

func (r *Runtime) Run(ctx context.Context, cfg container.RunConfig) (*container.ContainerSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable(); err != nil {
		return nil, err
	}
	if _, ok := r.infos[cfg.Name]; ok {
		return nil, ferrors.Wrapf(ferrors.ErrInvalidRequest, "Conflict. The container name %q is already in use", "/"+cfg.Name)
	}
	r.runs = append(r.runs, cfg)

	id := "c0ffee" + cfg.Name
	r.infos[cfg.Name] = &container.ContainerInfo{
		ID:      id,
		Name:    cfg.Name,
		Image:   cfg.Image,
		State:   container.ContainerStateRunning,
		Running: true,
	}
	return &container.ContainerSummary{ID: id, Name: cfg.Name, Status: container.ContainerStateRunning, Image: cfg.Image}, nil
}

func (r *Runtime) RemoveContainer(ctx context.Context, ref string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.unavailable(); err != nil {
		return err
	}
	info, err := r.lookup(ref)
	if err != nil {
		return err
	}
	delete(r.infos, info.Name)
	r.removed = append(r.removed, info.Name)
	return nil
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
