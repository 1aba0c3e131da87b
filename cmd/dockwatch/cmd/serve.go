package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dockwatch.sh/internal/config"
	"dockwatch.sh/internal/container"
	"dockwatch.sh/internal/health"
	"dockwatch.sh/internal/observability"
	"dockwatch.sh/internal/server"
	"dockwatch.sh/internal/snapshot"
	"dockwatch.sh/internal/telemetry"
	"dockwatch.sh/internal/tracing"
	"dockwatch.sh/internal/version"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the telemetry HTTP server",
		Long: `Start the HTTP server. The Docker daemon is located by trying each
configured host in order and then DOCKER_HOST; the server keeps running and
answers 503 on container endpoints while no daemon is reachable.`,
		RunE: runServe,
	}

	flags := cmd.Flags()
	flags.String("host", "0.0.0.0", "Address to listen on")
	flags.Int("port", 8000, "Port to listen on")
	flags.StringSlice("docker-host", nil, "Docker daemon endpoints to try, in order")
	flags.String("snapshot-path", "snapshot.json", "File the collect endpoint writes to")
	flags.Duration("stream-interval", telemetry.DefaultStreamInterval, "Pause between uptime stream events")

	_ = v.BindPFlag("server.host", flags.Lookup("host"))
	_ = v.BindPFlag("server.port", flags.Lookup("port"))
	_ = v.BindPFlag("runtime.hosts", flags.Lookup("docker-host"))
	_ = v.BindPFlag("snapshot.path", flags.Lookup("snapshot-path"))
	_ = v.BindPFlag("stream.interval", flags.Lookup("stream-interval"))

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPath:  cfg.Log.Output,
		ServiceName: "dockwatch",
		Version:     version.Version,
	})
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()

	shutdownTracing := initTracing(ctx, cfg, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	connector := container.NewConnector(cfg.ConnectorConfig(), container.DialDocker, logger)
	defer connector.Close()

	// an unreachable daemon is not fatal; every request reconnects on demand
	if h, err := connector.Connect(ctx); err != nil {
		logger.Warn("Docker daemon not reachable", zap.Error(err))
	} else {
		logger.Info("Connected to Docker daemon", zap.String("host", h.Host))
	}

	svc := telemetry.NewService(connector, telemetry.NewSampler(cfg.Sampler.Interval), logger)
	publisher := telemetry.NewPublisher(svc, cfg.Stream.Interval, logger)
	aggregator := snapshot.NewAggregator(svc, snapshot.NewStore(cfg.Snapshot.Path), logger)

	checker := health.NewChecker(version.Version)
	checker.RegisterCheck(health.RuntimeCheckName, checker.RuntimeCheck(connector))
	checker.RegisterCheck("memory", checker.MemoryCheck())
	checker.RegisterCheck("disk_space", checker.DiskSpaceCheck(snapshotDir(cfg.Snapshot.Path)))

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		EnableTracing:   cfg.Tracing.Enabled,
	}, server.Deps{
		Service:   svc,
		Streamer:  publisher,
		Collector: aggregator,
		Health:    checker,
	}, logger)

	printBanner(cmd.OutOrStdout(), cfg)
	return srv.Run(ctx)
}

func initTracing(ctx context.Context, cfg *config.Config, logger *zap.Logger) func(context.Context) error {
	tc := tracing.DefaultConfig("dockwatch")
	tc.ServiceVersion = version.Version
	tc.Enabled = cfg.Tracing.Enabled
	tc.Endpoint = cfg.Tracing.Endpoint
	tc.Protocol = cfg.Tracing.Protocol
	tc.Insecure = cfg.Tracing.Insecure
	tc.SampleRate = cfg.Tracing.SampleRate
	tc.ApplyEnvironment()

	shutdown, err := tracing.Initialize(ctx, tc, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
		return func(context.Context) error { return nil }
	}
	return shutdown
}

// snapshotDir is the directory whose free space the health check watches
func snapshotDir(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "."
	}
	return filepath.Dir(abs)
}

func printBanner(w io.Writer, cfg *config.Config) {
	base := fmt.Sprintf("http://%s:%d", displayHost(cfg.Server.Host), cfg.Server.Port)
	fmt.Fprintf(w, "%s %s\n", bold("dockwatch"), version.Version)
	fmt.Fprintf(w, "  %s %s\n", green("listening on"), base)
	fmt.Fprintf(w, "  %s %s\n", cyan("containers  "), base+"/containers")
	fmt.Fprintf(w, "  %s %s\n", cyan("uptime sse  "), base+"/sse/container/{id}/uptime")
	fmt.Fprintf(w, "  %s %s\n", cyan("metrics     "), base+"/metrics")
}

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}
