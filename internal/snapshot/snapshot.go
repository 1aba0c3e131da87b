// Package snapshot composes a one-shot report of a container and persists it
// to a single JSON file.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/sys/atomicwriter"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"dockwatch.sh/internal/metrics"
	"dockwatch.sh/internal/telemetry"
	"dockwatch.sh/internal/tracing"
)

// DefaultPath is where snapshots are written unless configured otherwise
const DefaultPath = "snapshot.json"

// Record is one collected snapshot
type Record struct {
	Home        telemetry.Status  `json:"home"`
	Images      []string          `json:"images"`
	ContainerID string            `json:"container_id"`
	IP          map[string]string `json:"ip"`
	CPUPercent  float64           `json:"cpu_percent"`
	RAM         string            `json:"ram"`
	Uptime      string            `json:"uptime"`
	CollectedAt time.Time         `json:"collected_at"`
}

// Source is the query surface the aggregator composes
type Source interface {
	Home(ctx context.Context) telemetry.Status
	Images(ctx context.Context) ([]string, error)
	Metrics(ctx context.Context, ref string) (*telemetry.DerivedMetrics, error)
}

// Store persists the latest record, replacing the previous one wholesale
type Store struct {
	path string
}

// NewStore creates a store writing to path
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the snapshot file location
func (s *Store) Path() string {
	return s.path
}

// Save writes rec atomically: readers see either the old file or the new
// one, never a partial write.
func (s *Store) Save(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	if err := atomicwriter.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", s.path, err)
	}
	return nil
}

// Load reads the last saved record
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", s.path, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", s.path, err)
	}
	return &rec, nil
}

// Aggregator builds snapshot records by calling the query service directly
type Aggregator struct {
	source Source
	store  *Store
	logger *zap.Logger
	now    func() time.Time
}

// NewAggregator creates an aggregator
func NewAggregator(source Source, store *Store, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		source: source,
		store:  store,
		logger: logger.Named("snapshot"),
		now:    time.Now,
	}
}

// Collect gathers a record for ref and saves it. Any failure aborts the
// collection and leaves the previous file untouched.
func (a *Aggregator) Collect(ctx context.Context, ref string) (rec *Record, err error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Collect", attribute.String("container", ref))
	defer func() { tracing.End(span, err) }()

	rec, err = a.collect(ctx, ref)
	if err == nil {
		err = a.store.Save(rec)
	}
	if err != nil {
		metrics.SnapshotsTotal.WithLabelValues("failed").Inc()
		a.logger.Warn("snapshot failed", zap.String("container", ref), zap.Error(err))
		return nil, err
	}

	metrics.SnapshotsTotal.WithLabelValues("written").Inc()
	a.logger.Info("snapshot written",
		zap.String("container", ref),
		zap.String("path", a.store.Path()))
	return rec, nil
}

func (a *Aggregator) collect(ctx context.Context, ref string) (*Record, error) {
	images, err := a.source.Images(ctx)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	m, err := a.source.Metrics(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("metrics of %s: %w", ref, err)
	}

	if images == nil {
		images = []string{}
	}
	return &Record{
		Home:        a.source.Home(ctx),
		Images:      images,
		ContainerID: ref,
		IP:          m.IPAddresses,
		CPUPercent:  m.CPUPercent,
		RAM:         telemetry.RAMDisplay(m.RAMBytes, m.Running),
		Uptime:      telemetry.FormatUptime(m.Uptime),
		CollectedAt: a.now().UTC(),
	}, nil
}
