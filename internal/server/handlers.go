package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dockwatch.sh/internal/ferrors"
	"dockwatch.sh/internal/health"
	"dockwatch.sh/internal/metrics"
	"dockwatch.sh/internal/observability"
	"dockwatch.sh/internal/telemetry"
)

type errorBody struct {
	Detail string `json:"detail"`
}

// containerRow is one entry of the /containers listing
type containerRow struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Image  string `json:"image"`
}

type ramResponse struct {
	RAM    string `json:"ram"`
	Status string `json:"status,omitempty"`
}

type cpuResponse struct {
	CPUPercent float64 `json:"cpu_percent"`
}

type uptimeResponse struct {
	Uptime string `json:"uptime"`
}

type createResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
	Name   string `json:"name"`
}

type removeResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports err with the status its kind maps to
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := ferrors.HTTPStatus(err)
	logger := observability.ContextLogger(r.Context(), s.logger)

	detail := err.Error()
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		metrics.RecordError(serviceName, "internal", op)
		detail = "internal server error"
	case status == http.StatusServiceUnavailable:
		logger.Warn("Container runtime unavailable", zap.String("op", op), zap.Error(err))
		metrics.RecordError(serviceName, "unavailable", op)
	default:
		logger.Debug("Request rejected", zap.String("op", op), zap.Int("status", status), zap.Error(err))
	}

	writeJSON(w, status, errorBody{Detail: detail})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Service.Home(r.Context()))
}

func (s *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Service.Containers(r.Context())
	if err != nil {
		s.writeError(w, r, "containers", err)
		return
	}

	rows := make([]containerRow, 0, len(list))
	for _, c := range list {
		rows = append(rows, containerRow{ID: c.ID, Name: c.Name, Status: string(c.Status), Image: c.Image})
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.deps.Service.Images(r.Context())
	if err != nil {
		s.writeError(w, r, "images", err)
		return
	}
	if images == nil {
		images = []string{}
	}
	writeJSON(w, http.StatusOK, images)
}

func (s *Server) handleIP(w http.ResponseWriter, r *http.Request) {
	ips, err := s.deps.Service.IPAddresses(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, "ip", err)
		return
	}
	writeJSON(w, http.StatusOK, ips)
}

func (s *Server) handleRAM(w http.ResponseWriter, r *http.Request) {
	reading, err := s.deps.Service.Memory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, "ram", err)
		return
	}
	resp := ramResponse{RAM: telemetry.RAMDisplay(reading.Bytes, reading.Running)}
	if !reading.Running {
		resp.Status = "stopped"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCPU(w http.ResponseWriter, r *http.Request) {
	percent, err := s.deps.Service.CPU(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, "cpu", err)
		return
	}
	writeJSON(w, http.StatusOK, cpuResponse{CPUPercent: percent})
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Service.Uptime(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, "uptime", err)
		return
	}
	writeJSON(w, http.StatusOK, uptimeResponse{Uptime: telemetry.FormatUptime(d)})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	created, err := s.deps.Service.Create(r.Context(), telemetry.CreateRequest{
		Name:    q.Get("name"),
		Image:   q.Get("image"),
		Command: q.Get("cmd"),
	})
	if err != nil {
		s.writeError(w, r, "create", err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{Status: "created", ID: created.ID, Name: created.Name})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if err := s.deps.Service.Remove(r.Context(), name); err != nil {
		s.writeError(w, r, "remove", err)
		return
	}
	writeJSON(w, http.StatusOK, removeResponse{Status: "removed", Name: name})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Collector.Collect(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, "collect", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleUptimeStream pushes uptime events as Server-Sent Events until the
// client disconnects. Failures after the headers are sent are reported
// in-band by the publisher.
func (s *Server) handleUptimeStream(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["id"]
	logger := observability.ContextLogger(r.Context(), s.logger)
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Error("Streaming unsupported", zap.Error(err))
		return
	}

	sink := telemetry.EventSinkFunc(func(ev telemetry.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	})

	if err := s.deps.Streamer.Run(r.Context(), ref, sink); err != nil {
		logger.Debug("Event stream ended", zap.String("container", ref), zap.Error(err))
	}
}

// handleHealth fails only when the runtime is unreachable. Host pressure is
// reported in the body but keeps the status at 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Health.RunChecks(r.Context())

	status := http.StatusOK
	if check, ok := report.Check(health.RuntimeCheckName); ok && check.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
