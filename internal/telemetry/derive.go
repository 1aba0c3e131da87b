// Package telemetry turns raw runtime snapshots into the metrics the API
// reports: CPU percentage, memory, uptime and network addresses.
package telemetry

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"dockwatch.sh/internal/container"
)

// NoIP is reported for a network that has no address assigned
const NoIP = "No IP"

// DerivedMetrics is the full set of computed metrics for one container.
// It is either fully populated or not returned at all.
type DerivedMetrics struct {
	CPUPercent  float64
	RAMBytes    uint64
	Running     bool
	Uptime      time.Duration
	IPAddresses map[string]string
}

// CPUPercent computes container CPU utilisation between two snapshots of
// the same container. Counter anomalies and idle containers yield 0. The
// result is rounded to two decimals and never exceeds 100 per CPU.
func CPUPercent(prev, cur container.StatsSnapshot) float64 {
	if cur.CPUUsage <= prev.CPUUsage || cur.SystemCPUUsage <= prev.SystemCPUUsage {
		return 0
	}
	cpuDelta := float64(cur.CPUUsage - prev.CPUUsage)
	systemDelta := float64(cur.SystemCPUUsage - prev.SystemCPUUsage)

	numCPUs := float64(max(1, len(cur.PerCPUUsage)))
	percent := cpuDelta / systemDelta * numCPUs * 100
	return round2(min(percent, 100*numCPUs))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// fractional seconds longer than this are cut before parsing
const maxFractionDigits = 6

var startedAtPattern = regexp.MustCompile(`^(.+T\d{2}:\d{2}:\d{2})(?:\.(\d+))?(Z|[+-]\d{2}:?\d{2})$`)

// ParseStartedAt parses a runtime start timestamp. Fractional seconds of any
// length are accepted and truncated to microseconds.
func ParseStartedAt(raw string) (time.Time, error) {
	m := startedAtPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
	}

	base, frac, zone := m[1], m[2], m[3]
	if len(frac) > maxFractionDigits {
		frac = frac[:maxFractionDigits]
	}
	if frac != "" {
		base += "." + frac
	}
	if zone != "Z" && !strings.Contains(zone, ":") {
		zone = zone[:3] + ":" + zone[3:]
	}

	t, err := time.Parse(time.RFC3339Nano, base+zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

// Uptime returns how long a container has been running at now. Containers
// that are not running, or carry no start time, have zero uptime.
func Uptime(info *container.ContainerInfo, now time.Time) (time.Duration, error) {
	if !info.IsRunning() || info.StartedAt == "" {
		return 0, nil
	}

	started, err := ParseStartedAt(info.StartedAt)
	if err != nil {
		return 0, err
	}
	// the runtime reports the zero time for containers that never started
	if started.Year() <= 1 {
		return 0, nil
	}

	if d := now.Sub(started); d > 0 {
		return d, nil
	}
	return 0, nil
}

// FormatUptime renders d as its non-zero day, hour, minute and second
// components, e.g. "1d 2h 5m 3s". A duration under a second is "0s".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)

	units := []struct {
		suffix  string
		seconds int64
	}{
		{"d", 86400},
		{"h", 3600},
		{"m", 60},
		{"s", 1},
	}

	parts := make([]string, 0, len(units))
	for _, u := range units {
		n := total / u.seconds
		total %= u.seconds
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", n, u.suffix))
		}
	}
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}

// IPAddresses maps each attached network to its address, or NoIP
func IPAddresses(networks []container.NetworkAttachment) map[string]string {
	result := make(map[string]string, len(networks))
	for _, n := range networks {
		if n.IPAddress == "" {
			result[n.Name] = NoIP
			continue
		}
		result[n.Name] = n.IPAddress
	}
	return result
}

// StoppedRAM is reported instead of a reading for containers that are not running
const StoppedRAM = "0 MB"

// MemoryMB renders a byte count the way the ram endpoint reports it
func MemoryMB(bytes uint64) string {
	return fmt.Sprintf("%.2f MB", float64(bytes)/1024/1024)
}

// RAMDisplay renders a memory reading, falling back to StoppedRAM
func RAMDisplay(bytes uint64, running bool) string {
	if !running {
		return StoppedRAM
	}
	return MemoryMB(bytes)
}
