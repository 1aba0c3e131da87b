package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dockwatch.sh/internal/container"
	"dockwatch.sh/internal/container/containertest"
	"dockwatch.sh/internal/health"
	"dockwatch.sh/internal/snapshot"
	"dockwatch.sh/internal/telemetry"
)

type testEnv struct {
	rt           *containertest.Runtime
	server       *Server
	checker      *health.Checker
	snapshotPath string
}

func newTestEnv(t *testing.T, infos ...*container.ContainerInfo) *testEnv {
	t.Helper()

	rt := containertest.New(infos...)
	connector := container.NewConnector(container.ConnectorConfig{}, rt.Dialer(), zap.NewNop())
	svc := telemetry.NewService(connector, telemetry.NewSampler(time.Millisecond), zap.NewNop())

	path := filepath.Join(t.TempDir(), "snapshot.json")
	checker := health.NewChecker("test")
	checker.RegisterCheck(health.RuntimeCheckName, checker.RuntimeCheck(connector))

	srv := New(Config{AllowedOrigins: []string{"*"}}, Deps{
		Service:   svc,
		Streamer:  telemetry.NewPublisher(svc, 10*time.Millisecond, zap.NewNop()),
		Collector: snapshot.NewAggregator(svc, snapshot.NewStore(path), zap.NewNop()),
		Health:    checker,
	}, zap.NewNop())

	return &testEnv{rt: rt, server: srv, checker: checker, snapshotPath: path}
}

func (e *testEnv) get(t *testing.T, target string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func webContainer() *container.ContainerInfo {
	return &container.ContainerInfo{
		ID:        "abc123def456",
		Name:      "web",
		Image:     "nginx:latest",
		State:     container.ContainerStateRunning,
		Running:   true,
		StartedAt: time.Now().Add(-90 * time.Second).UTC().Format(time.RFC3339Nano),
		Networks: []container.NetworkAttachment{
			{Name: "bridge", IPAddress: "172.17.0.2"},
			{Name: "custom"},
		},
	}
}

func batchContainer() *container.ContainerInfo {
	return &container.ContainerInfo{ID: "fed654cba321", Name: "batch", Image: "busybox", State: container.ContainerStateExited}
}

func TestHome(t *testing.T) {
	env := newTestEnv(t)
	env.rt.SetDown(true)

	code, body := env.get(t, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"status": "Server is running", "docker_connected": false}, body)

	env.rt.SetDown(false)
	code, body = env.get(t, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["docker_connected"])
}

func TestRuntimeUnavailable(t *testing.T) {
	env := newTestEnv(t, webContainer())
	env.rt.SetDown(true)

	for _, target := range []string{
		"/containers",
		"/images",
		"/container/web/ip",
		"/container/web/ram",
		"/container/web/cpu",
		"/container/web/uptime",
		"/create?name=worker",
		"/remove?name=web",
		"/collect/web",
	} {
		t.Run(target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Contains(t, rec.Body.String(), `"detail"`)
		})
	}

	code, body := env.get(t, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["docker_connected"])

	code, body = env.get(t, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, string(health.StatusUnhealthy), body["status"])

	_, err := os.Stat(env.snapshotPath)
	assert.True(t, os.IsNotExist(err))
}

func TestContainerEndpoints(t *testing.T) {
	env := newTestEnv(t, webContainer(), batchContainer())
	env.rt.SetImages("nginx:latest", "busybox:latest")

	t.Run("Containers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/containers", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var rows []map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
		require.Len(t, rows, 2)
		assert.Equal(t, map[string]string{"id": "fed654cba321", "name": "batch", "status": "exited", "image": "busybox"}, rows[0])
		assert.Equal(t, "web", rows[1]["name"])
	})

	t.Run("Images", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/images", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `["nginx:latest","busybox:latest"]`, rec.Body.String())
	})

	t.Run("IP", func(t *testing.T) {
		code, body := env.get(t, "/container/web/ip")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, map[string]any{"bridge": "172.17.0.2", "custom": "No IP"}, body)
	})

	t.Run("RAMRunning", func(t *testing.T) {
		env.rt.SetStats(container.StatsSnapshot{MemoryUsage: 10 * 1024 * 1024})
		code, body := env.get(t, "/container/web/ram")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, map[string]any{"ram": "10.00 MB"}, body)
	})

	t.Run("RAMStopped", func(t *testing.T) {
		code, body := env.get(t, "/container/batch/ram")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, map[string]any{"ram": "0 MB", "status": "stopped"}, body)
	})

	t.Run("CPU", func(t *testing.T) {
		env.rt.SetStats(
			container.StatsSnapshot{},
			container.StatsSnapshot{CPUUsage: 200, SystemCPUUsage: 1000, PerCPUUsage: []uint64{100, 100}},
		)
		code, body := env.get(t, "/container/web/cpu")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, map[string]any{"cpu_percent": 40.0}, body)
	})

	t.Run("Uptime", func(t *testing.T) {
		code, body := env.get(t, "/container/web/uptime")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "1m 30s", body["uptime"])

		_, body = env.get(t, "/container/batch/uptime")
		assert.Equal(t, "0s", body["uptime"])
	})

	t.Run("NotFound", func(t *testing.T) {
		for _, metric := range []string{"ip", "ram", "cpu", "uptime"} {
			code, body := env.get(t, "/container/ghost/"+metric)
			assert.Equal(t, http.StatusNotFound, code, metric)
			assert.NotEmpty(t, body["detail"], metric)
		}
	})
}

func TestCreateAndRemove(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.get(t, "/create?name=worker")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"status": "created", "id": "c0ffeeworker", "name": "worker"}, body)
	require.Len(t, env.rt.Runs(), 1)
	assert.Equal(t, "ubuntu", env.rt.Runs()[0].Image)
	assert.Equal(t, []string{"sleep", "3600"}, env.rt.Runs()[0].Command)

	code, body = env.get(t, "/create?name=worker&image=alpine")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["detail"], "already in use")
	assert.Len(t, env.rt.Runs(), 1)

	code, _ = env.get(t, "/create")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = env.get(t, "/remove?name=worker")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"status": "removed", "name": "worker"}, body)

	code, _ = env.get(t, "/remove?name=worker")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateAcceptsPost(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/create?name=worker&cmd=top%20-b", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"top", "-b"}, env.rt.Runs()[0].Command)

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/create?name=worker", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCollect(t *testing.T) {
	env := newTestEnv(t, webContainer())
	env.rt.SetImages("nginx:latest")

	code, body := env.get(t, "/collect/web")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "web", body["container_id"])
	assert.Equal(t, map[string]any{"bridge": "172.17.0.2", "custom": "No IP"}, body["ip"])

	data, err := os.ReadFile(env.snapshotPath)
	require.NoError(t, err)
	var onDisk snapshot.Record
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, "web", onDisk.ContainerID)
	assert.Equal(t, []string{"nginx:latest"}, onDisk.Images)

	code, _ = env.get(t, "/collect/ghost")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealth(t *testing.T) {
	t.Run("HostPressureKeepsOK", func(t *testing.T) {
		env := newTestEnv(t)
		env.checker.RegisterCheck("memory", func(context.Context) health.Check {
			return health.Check{Status: health.StatusUnhealthy, Message: "Memory usage critical: 97.0%"}
		})

		code, body := env.get(t, "/health")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, string(health.StatusUnhealthy), body["status"])
	})

	t.Run("RuntimeDownFails", func(t *testing.T) {
		env := newTestEnv(t)
		env.rt.SetDown(true)

		code, _ := env.get(t, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})
}

func TestUptimeStream(t *testing.T) {
	env := newTestEnv(t, webContainer())
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	read := func(t *testing.T, ref string, n int) []telemetry.Event {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse/container/"+ref+"/uptime", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
		assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

		var events []telemetry.Event
		reader := bufio.NewReader(resp.Body)
		for len(events) < n {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
			if !ok {
				continue
			}
			var ev telemetry.Event
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			events = append(events, ev)
		}
		return events
	}

	t.Run("Metric", func(t *testing.T) {
		events := read(t, "web", 3)
		for _, ev := range events {
			assert.Equal(t, "web", ev.ContainerID)
			assert.NotEmpty(t, ev.Uptime)
			assert.Empty(t, ev.Error)
			assert.False(t, ev.Timestamp.IsZero())
		}
	})

	t.Run("ErrorsInBand", func(t *testing.T) {
		events := read(t, "ghost", 2)
		for _, ev := range events {
			assert.Equal(t, "ghost", ev.ContainerID)
			assert.Empty(t, ev.Uptime)
			assert.NotEmpty(t, ev.Error)
		}
	})
}

func TestMiddlewareChain(t *testing.T) {
	env := newTestEnv(t)

	t.Run("UnknownRoute", func(t *testing.T) {
		code, body := env.get(t, "/nope")
		assert.Equal(t, http.StatusNotFound, code)
		assert.Equal(t, "Not Found", body["detail"])
	})

	t.Run("Headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://example.com")
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)

		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "dockwatch_http_requests_total")
	})
}
