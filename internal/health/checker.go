package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"dockwatch.sh/internal/container"
)

// Status represents health check status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Check represents a single health check result
type Check struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Report represents overall health status
type Report struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// Check returns the result of the named check
func (r *Report) Check(name string) (Check, bool) {
	for _, check := range r.Checks {
		if check.Name == name {
			return check, true
		}
	}
	return Check{}, false
}

// Thresholds are the host usage percentages past which a check is unhealthy.
// Usage above 90% of a threshold is reported as degraded.
type Thresholds struct {
	MemoryLimit float64 `json:"memory_limit"`
	DiskLimit   float64 `json:"disk_limit"`
}

// DefaultThresholds returns default health thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		MemoryLimit: 90.0,
		DiskLimit:   85.0,
	}
}

// CheckFunc is a function that performs a health check
type CheckFunc func(ctx context.Context) Check

// RuntimeProber verifies the runtime connection
type RuntimeProber interface {
	Connect(ctx context.Context) (*container.Handle, error)
}

// Checker performs health checks
type Checker struct {
	mu         sync.RWMutex
	checks     map[string]CheckFunc
	thresholds Thresholds
	startTime  time.Time
	version    string
	timeout    time.Duration

	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	diskUsage     func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		checks:        make(map[string]CheckFunc),
		thresholds:    DefaultThresholds(),
		startTime:     time.Now(),
		version:       version,
		timeout:       5 * time.Second,
		virtualMemory: mem.VirtualMemoryWithContext,
		diskUsage:     disk.UsageWithContext,
	}
}

// RegisterCheck registers a health check
func (c *Checker) RegisterCheck(name string, checkFunc CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = checkFunc
}

// RunChecks runs all registered health checks in parallel
func (c *Checker) RunChecks(ctx context.Context) *Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	resultChan := make(chan Check, len(checks))

	for name, checkFunc := range checks {
		wg.Add(1)
		go func(n string, cf CheckFunc) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			check := cf(checkCtx)
			check.Name = n
			check.Duration = time.Since(start)
			check.Timestamp = time.Now()

			resultChan <- check
		}(name, checkFunc)
	}

	wg.Wait()
	close(resultChan)

	overallStatus := StatusHealthy
	results := make([]Check, 0, len(checks))
	for check := range resultChan {
		results = append(results, check)
		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
		} else if check.Status == StatusDegraded && overallStatus != StatusUnhealthy {
			overallStatus = StatusDegraded
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	return &Report{
		Status:    overallStatus,
		Checks:    results,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Truncate(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// RuntimeCheckName is the name RuntimeCheck is registered under
const RuntimeCheckName = "runtime"

// RuntimeCheck pings the container runtime, reconnecting when needed
func (c *Checker) RuntimeCheck(prober RuntimeProber) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: RuntimeCheckName}

		h, err := prober.Connect(ctx)
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Container runtime unreachable: %v", err)
			return check
		}

		check.Status = StatusHealthy
		check.Message = "Container runtime is reachable"
		check.Metadata = map[string]any{"host": h.Host}
		return check
	}
}

// DiskSpaceCheck checks available disk space
func (c *Checker) DiskSpaceCheck(path string) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "disk_space"}

		usage, err := c.diskUsage(ctx, path)
		if err != nil {
			check.Status = StatusUnknown
			check.Message = fmt.Sprintf("Failed to check disk usage: %v", err)
			return check
		}

		check.Metadata = map[string]any{
			"path":         path,
			"total_gb":     usage.Total / (1 << 30),
			"free_gb":      usage.Free / (1 << 30),
			"used_percent": usage.UsedPercent,
		}
		check.Status, check.Message = c.grade("Disk", usage.UsedPercent, c.thresholds.DiskLimit)
		return check
	}
}

// MemoryCheck checks host memory usage
func (c *Checker) MemoryCheck() CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "memory"}

		usage, err := c.virtualMemory(ctx)
		if err != nil {
			check.Status = StatusUnknown
			check.Message = fmt.Sprintf("Failed to check memory: %v", err)
			return check
		}

		check.Metadata = map[string]any{
			"total_gb":     usage.Total / (1 << 30),
			"available_gb": usage.Available / (1 << 30),
			"used_percent": usage.UsedPercent,
		}
		check.Status, check.Message = c.grade("Memory", usage.UsedPercent, c.thresholds.MemoryLimit)
		return check
	}
}

func (c *Checker) grade(what string, used, limit float64) (Status, string) {
	switch {
	case used > limit:
		return StatusUnhealthy, fmt.Sprintf("%s usage %.1f%% exceeds threshold %.1f%%", what, used, limit)
	case used > limit*0.9:
		return StatusDegraded, fmt.Sprintf("%s usage %.1f%% approaching threshold", what, used)
	default:
		return StatusHealthy, fmt.Sprintf("%s usage %.1f%% is healthy", what, used)
	}
}
