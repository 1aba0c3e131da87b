package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"dockwatch.sh/internal/ferrors"
	"dockwatch.sh/internal/metrics"
)

// EnvHost names the environment fallback strategy in logs and metrics
const EnvHost = "env"

// Dialer opens a runtime connection for host. An empty host or EnvHost means
// the environment-derived default (DOCKER_HOST and friends).
type Dialer func(host string) (Runtime, error)

// Handle is a live runtime connection together with the host it was opened on
type Handle struct {
	Runtime
	Host string
}

// ConnectorConfig configures runtime discovery
type ConnectorConfig struct {
	// Hosts are tried in order before the environment fallback
	Hosts []string

	// PingTimeout bounds each connect-time liveness check
	PingTimeout time.Duration
}

// DefaultHosts returns the well-known local Docker socket locations
func DefaultHosts() []string {
	if runtime.GOOS == "windows" {
		return []string{"npipe:////./pipe/docker_engine"}
	}

	hosts := []string{"unix:///var/run/docker.sock"}
	if home, err := os.UserHomeDir(); err == nil {
		hosts = append(hosts,
			"unix://"+filepath.Join(home, ".docker", "run", "docker.sock"),
			"unix://"+filepath.Join(home, ".docker", "desktop", "docker.sock"),
			"unix://"+filepath.Join(home, ".colima", "default", "docker.sock"),
			"unix://"+filepath.Join(home, ".orbstack", "run", "docker.sock"),
		)
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		hosts = append(hosts, "unix://"+filepath.Join(dir, "docker.sock"))
	}
	return hosts
}

// DefaultConnectorConfig returns the default discovery settings
func DefaultConnectorConfig() ConnectorConfig {
	return ConnectorConfig{
		Hosts:       DefaultHosts(),
		PingTimeout: 2 * time.Second,
	}
}

// Connector owns the process-wide runtime handle. The handle is replaced
// wholesale on reconnect and never mutated, so a reader that loaded it once
// can use it for the rest of its operation.
type Connector struct {
	config  ConnectorConfig
	dial    Dialer
	logger  *zap.Logger
	current atomic.Pointer[Handle]

	// socketExists is swapped out in tests
	socketExists func(path string) bool
}

// NewConnector creates a connector. A nil dialer uses DialDocker.
func NewConnector(config ConnectorConfig, dial Dialer, logger *zap.Logger) *Connector {
	if dial == nil {
		dial = DialDocker
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = 2 * time.Second
	}
	return &Connector{
		config:       config,
		dial:         dial,
		logger:       logger.Named("connector"),
		socketExists: fileExists,
	}
}

// Current returns the held handle without probing, or nil when the runtime
// has not been reached yet.
func (c *Connector) Current() *Handle {
	return c.current.Load()
}

// Acquire returns the held handle, connecting first if there is none.
func (c *Connector) Acquire(ctx context.Context) (*Handle, error) {
	if h := c.current.Load(); h != nil {
		return h, nil
	}
	return c.Connect(ctx)
}

// Connect verifies the held handle or establishes a new one. With a live
// handle the only side effect is the ping. Otherwise every configured host is
// tried in order, then the environment default; the first one that answers a
// ping is installed.
func (c *Connector) Connect(ctx context.Context) (*Handle, error) {
	if h := c.current.Load(); h != nil {
		if err := c.ping(ctx, h.Runtime); err == nil {
			return h, nil
		}
		c.Invalidate(h)
	}

	var errs []error
	for _, host := range c.candidates() {
		h, err := c.try(ctx, host)
		if err != nil {
			metrics.RuntimeConnectAttempts.WithLabelValues("failed").Inc()
			c.logger.Debug("runtime candidate failed", zap.String("host", host), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		metrics.RuntimeConnectAttempts.WithLabelValues("success").Inc()
		return c.install(h), nil
	}

	metrics.RuntimeConnected.Set(0)
	c.logger.Warn("container runtime unreachable", zap.Int("candidates", len(errs)))
	return nil, ferrors.Mark(errors.Join(errs...), ferrors.ErrUnavailable)
}

// Invalidate drops h if it is still the current handle, so that the next
// Acquire re-probes. A handle that was already replaced is left alone.
func (c *Connector) Invalidate(h *Handle) {
	if h == nil {
		return
	}
	if c.current.CompareAndSwap(h, nil) {
		metrics.RuntimeConnected.Set(0)
		c.logger.Warn("dropping runtime connection", zap.String("host", h.Host))
		_ = h.Close()
	}
}

// Release reports the outcome of an operation on h. Connection failures
// invalidate the handle.
func (c *Connector) Release(h *Handle, err error) {
	if err != nil && ferrors.Is(err, ferrors.ErrUnavailable) {
		c.Invalidate(h)
	}
}

// Close closes the held handle
func (c *Connector) Close() error {
	if h := c.current.Swap(nil); h != nil {
		return h.Close()
	}
	return nil
}

func (c *Connector) candidates() []string {
	hosts := make([]string, 0, len(c.config.Hosts)+1)
	for _, host := range c.config.Hosts {
		if path, ok := strings.CutPrefix(host, "unix://"); ok && !c.socketExists(path) {
			continue
		}
		hosts = append(hosts, host)
	}
	return append(hosts, EnvHost)
}

func (c *Connector) try(ctx context.Context, host string) (*Handle, error) {
	rt, err := c.dial(host)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}
	if err := c.ping(ctx, rt); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("ping %s: %w", host, err)
	}
	return &Handle{Runtime: rt, Host: host}, nil
}

// install publishes h unless another goroutine won the race, in which case
// h is closed and the winner returned.
func (c *Connector) install(h *Handle) *Handle {
	for {
		if c.current.CompareAndSwap(nil, h) {
			metrics.RuntimeConnected.Set(1)
			c.logger.Info("connected to container runtime", zap.String("host", h.Host))
			return h
		}
		if winner := c.current.Load(); winner != nil {
			_ = h.Close()
			return winner
		}
	}
}

func (c *Connector) ping(ctx context.Context, rt Runtime) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.PingTimeout)
	defer cancel()
	return rt.Ping(ctx)
}

// DialDocker opens a Docker Engine client for host
func DialDocker(host string) (Runtime, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host == "" || host == EnvHost {
		opts = append(opts, client.FromEnv)
	} else {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	name := host
	if name == "" || name == EnvHost {
		name = cli.DaemonHost()
	}
	return NewDockerManager(cli, name), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
