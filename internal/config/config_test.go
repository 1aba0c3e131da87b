package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.NotEmpty(t, cfg.Runtime.Hosts)
	assert.Equal(t, 2*time.Second, cfg.Runtime.PingTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Sampler.Interval)
	assert.Equal(t, 2*time.Second, cfg.Stream.Interval)
	assert.Equal(t, "snapshot.json", cfg.Snapshot.Path)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Tracing.Enabled)

	cc := cfg.ConnectorConfig()
	assert.Equal(t, cfg.Runtime.Hosts, cc.Hosts)
	assert.Equal(t, 2*time.Second, cc.PingTimeout)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("DOCKWATCH_SERVER_PORT", "9100")
	t.Setenv("DOCKWATCH_STREAM_INTERVAL", "5s")
	t.Setenv("DOCKWATCH_SNAPSHOT_PATH", "/tmp/dockwatch.json")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Stream.Interval)
	assert.Equal(t, "/tmp/dockwatch.json", cfg.Snapshot.Path)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dockwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
runtime:
  hosts:
    - tcp://10.0.0.5:2375
sampler:
  interval: 250ms
`), 0o644))

	v := New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"tcp://10.0.0.5:2375"}, cfg.Runtime.Hosts)
	assert.Equal(t, 250*time.Millisecond, cfg.Sampler.Interval)
	assert.Equal(t, 2*time.Second, cfg.Stream.Interval)
}

func TestValidate(t *testing.T) {
	v := New()
	v.Set("server.port", 0)
	v.Set("sampler.interval", "0s")
	v.Set("log.format", "xml")

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "sampler.interval")
	assert.Contains(t, err.Error(), "log.format")
}
