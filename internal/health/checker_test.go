package health

import (
	"context"
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockwatch.sh/internal/container"
	"dockwatch.sh/internal/ferrors"
)

type proberFunc func(ctx context.Context) (*container.Handle, error)

func (f proberFunc) Connect(ctx context.Context) (*container.Handle, error) {
	return f(ctx)
}

func newTestChecker(memUsed, diskUsed float64) *Checker {
	c := NewChecker("test")
	c.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 8 << 30, Available: 4 << 30, UsedPercent: memUsed}, nil
	}
	c.diskUsage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Total: 100 << 30, Free: 50 << 30, UsedPercent: diskUsed}, nil
	}
	return c
}

func TestChecker_RunChecks(t *testing.T) {
	up := proberFunc(func(context.Context) (*container.Handle, error) {
		return &container.Handle{Host: "unix:///var/run/docker.sock"}, nil
	})
	down := proberFunc(func(context.Context) (*container.Handle, error) {
		return nil, ferrors.Wrap(ferrors.ErrUnavailable, "connect")
	})

	t.Run("Healthy", func(t *testing.T) {
		c := newTestChecker(40, 30)
		c.RegisterCheck("runtime", c.RuntimeCheck(up))
		c.RegisterCheck("memory", c.MemoryCheck())
		c.RegisterCheck("disk_space", c.DiskSpaceCheck("/"))

		report := c.RunChecks(context.Background())
		assert.Equal(t, StatusHealthy, report.Status)
		require.Len(t, report.Checks, 3)
		assert.Equal(t, "disk_space", report.Checks[0].Name)
		assert.Equal(t, "memory", report.Checks[1].Name)
		assert.Equal(t, "runtime", report.Checks[2].Name)
		assert.Equal(t, "unix:///var/run/docker.sock", report.Checks[2].Metadata["host"])
		assert.Equal(t, "test", report.Version)
	})

	t.Run("RuntimeDownIsUnhealthy", func(t *testing.T) {
		c := newTestChecker(40, 30)
		c.RegisterCheck("runtime", c.RuntimeCheck(down))
		c.RegisterCheck("memory", c.MemoryCheck())

		report := c.RunChecks(context.Background())
		assert.Equal(t, StatusUnhealthy, report.Status)

		check, ok := report.Check(RuntimeCheckName)
		require.True(t, ok)
		assert.Equal(t, StatusUnhealthy, check.Status)
		_, ok = report.Check("disk_space")
		assert.False(t, ok)
	})

	t.Run("HostPressureDegrades", func(t *testing.T) {
		c := newTestChecker(85, 30)
		c.RegisterCheck("runtime", c.RuntimeCheck(up))
		c.RegisterCheck("memory", c.MemoryCheck())

		report := c.RunChecks(context.Background())
		assert.Equal(t, StatusDegraded, report.Status)
	})

	t.Run("StatFailureIsUnknown", func(t *testing.T) {
		c := newTestChecker(0, 0)
		c.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
			return nil, errors.New("no /proc")
		}
		c.RegisterCheck("memory", c.MemoryCheck())

		report := c.RunChecks(context.Background())
		assert.Equal(t, StatusHealthy, report.Status)
		assert.Equal(t, StatusUnknown, report.Checks[0].Status)
	})
}
