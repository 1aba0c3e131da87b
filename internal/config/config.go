package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dockwatch.sh/internal/container"
)

// EnvPrefix prefixes every environment override, e.g. DOCKWATCH_SERVER_PORT
const EnvPrefix = "DOCKWATCH"

// Config is the complete service configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Sampler  SamplerConfig  `mapstructure:"sampler"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RuntimeConfig struct {
	// Hosts are the candidate daemon endpoints, tried in order
	Hosts       []string      `mapstructure:"hosts"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

type SamplerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type StreamConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	Protocol   string  `mapstructure:"protocol"`
	Insecure   bool    `mapstructure:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// SetDefaults registers every key with its default value. Keys must be
// known to v for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("runtime.hosts", container.DefaultHosts())
	v.SetDefault("runtime.ping_timeout", 2*time.Second)

	v.SetDefault("sampler.interval", 500*time.Millisecond)
	v.SetDefault("stream.interval", 2*time.Second)
	v.SetDefault("snapshot.path", "snapshot.json")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.protocol", "grpc")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_rate", 1.0)
}

// BindEnv enables DOCKWATCH_* environment overrides on v
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// New returns a viper instance carrying defaults and environment bindings
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Runtime.PingTimeout <= 0 {
		errs = append(errs, errors.New("runtime.ping_timeout must be positive"))
	}
	if c.Sampler.Interval <= 0 {
		errs = append(errs, errors.New("sampler.interval must be positive"))
	}
	if c.Stream.Interval <= 0 {
		errs = append(errs, errors.New("stream.interval must be positive"))
	}
	if c.Snapshot.Path == "" {
		errs = append(errs, errors.New("snapshot.path must be set"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate %v must be within [0, 1]", c.Tracing.SampleRate))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ConnectorConfig returns the runtime discovery settings
func (c *Config) ConnectorConfig() container.ConnectorConfig {
	return container.ConnectorConfig{
		Hosts:       c.Runtime.Hosts,
		PingTimeout: c.Runtime.PingTimeout,
	}
}
