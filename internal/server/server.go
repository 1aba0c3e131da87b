package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dockwatch.sh/internal/container"
	"dockwatch.sh/internal/health"
	"dockwatch.sh/internal/middleware"
	"dockwatch.sh/internal/snapshot"
	"dockwatch.sh/internal/telemetry"
)

const serviceName = "dockwatch"

// MetricsService answers the per-request container queries
type MetricsService interface {
	Home(ctx context.Context) telemetry.Status
	Containers(ctx context.Context) ([]container.ContainerSummary, error)
	Images(ctx context.Context) ([]string, error)
	IPAddresses(ctx context.Context, ref string) (map[string]string, error)
	Memory(ctx context.Context, ref string) (telemetry.MemoryReading, error)
	CPU(ctx context.Context, ref string) (float64, error)
	Uptime(ctx context.Context, ref string) (time.Duration, error)
	Create(ctx context.Context, req telemetry.CreateRequest) (*container.ContainerSummary, error)
	Remove(ctx context.Context, name string) error
}

// Streamer pushes events for one container until ctx is cancelled
type Streamer interface {
	Run(ctx context.Context, ref string, sink telemetry.EventSink) error
}

// Collector builds and persists a snapshot record
type Collector interface {
	Collect(ctx context.Context, ref string) (*snapshot.Record, error)
}

// HealthReporter runs the registered health checks
type HealthReporter interface {
	RunChecks(ctx context.Context) *health.Report
}

// Config holds the HTTP server configuration
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	EnableTracing   bool
}

// Deps are the components the handlers delegate to
type Deps struct {
	Service   MetricsService
	Streamer  Streamer
	Collector Collector
	Health    HealthReporter
}

// Server is the dockwatch HTTP API
type Server struct {
	config     Config
	deps       Deps
	logger     *zap.Logger
	handler    http.Handler
	httpServer *http.Server
}

// New creates the server and builds its handler chain
func New(config Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: logger.Named("server"),
	}
	s.handler = s.buildHandler()
	return s
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	router := mux.NewRouter()
	s.routes(router)

	// runs after route matching so metric labels use the route template
	router.Use(middleware.NewMetricsMiddleware(serviceName))

	var h http.Handler = router
	h = middleware.LoggingMiddleware(s.logger)(h)
	h = middleware.NewRequestIDMiddleware(s.logger)(h)
	h = middleware.RecoveryMiddleware(s.logger)(h)
	h = middleware.SecurityHeaders()(h)
	if s.config.EnableTracing {
		h = middleware.NewTracingMiddleware(serviceName)(h)
	}

	cors := middleware.NewCORS(middleware.DefaultCORSConfig(s.config.AllowedOrigins), s.logger)
	return cors.Handler(h)
}

func (s *Server) routes(r *mux.Router) {
	get := []string{http.MethodGet}
	mutate := []string{http.MethodGet, http.MethodPost}

	r.HandleFunc("/", s.handleHome).Methods(get...)
	r.HandleFunc("/containers", s.handleContainers).Methods(get...)
	r.HandleFunc("/images", s.handleImages).Methods(get...)

	r.HandleFunc("/container/{id}/ip", s.handleIP).Methods(get...)
	r.HandleFunc("/container/{id}/ram", s.handleRAM).Methods(get...)
	r.HandleFunc("/container/{id}/cpu", s.handleCPU).Methods(get...)
	r.HandleFunc("/container/{id}/uptime", s.handleUptime).Methods(get...)

	r.HandleFunc("/create", s.handleCreate).Methods(mutate...)
	r.HandleFunc("/remove", s.handleRemove).Methods(mutate...)
	r.HandleFunc("/collect/{id}", s.handleCollect).Methods(get...)
	r.HandleFunc("/sse/container/{id}/uptime", s.handleUptimeStream).Methods(get...)

	r.HandleFunc("/health", s.handleHealth).Methods(get...)
	r.Handle("/metrics", promhttp.Handler()).Methods(get...)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "Not Found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Detail: "Method Not Allowed"})
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// event streams stay open indefinitely
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.config.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		return err
	}
	return nil
}

// Run starts the server and handles shutdown signals
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		s.logger.Info("Received shutdown signal")
	}()

	return s.Start(ctx)
}
