package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BackendURL        string        `yaml:"backend_url"`
	SocketURL         string        `yaml:"socket_url"`
	StreamPath        string        `yaml:"stream_path"`
	StoragePath       string        `yaml:"storage_path"`
	Actor             string        `yaml:"actor"`
	Admin             bool          `yaml:"admin"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	ReconnectCeiling  int           `yaml:"reconnect_ceiling"`
	StreamRetry       time.Duration `yaml:"stream_retry"`
	RefreshSettle     time.Duration `yaml:"refresh_settle"`
	RefreshCooldown   time.Duration `yaml:"refresh_cooldown"`
	DragDefer         time.Duration `yaml:"drag_defer"`
	TimerSweep        time.Duration `yaml:"timer_sweep"`
	UnaryTimeout      time.Duration `yaml:"unary_timeout"`
	EffectsQueueSize  int           `yaml:"effects_queue_size"`
	EffectsPerSecond  float64       `yaml:"effects_per_second"`
	EffectsBurst      int           `yaml:"effects_burst"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
	MetricsAddr       string        `yaml:"metrics_addr"`
}

func DefaultConfig() Config {
	return Config{
		BackendURL:        "http://127.0.0.1:8080",
		SocketURL:         "ws://127.0.0.1:8080/ws",
		StreamPath:        "/events",
		StoragePath:       defaultStoragePath(),
		Actor:             "dispatch",
		HeartbeatInterval: 30 * time.Second,
		ReconnectBase:     1 * time.Second,
		ReconnectCeiling:  5,
		StreamRetry:       3 * time.Second,
		RefreshSettle:     50 * time.Millisecond,
		RefreshCooldown:   400 * time.Millisecond,
		DragDefer:         250 * time.Millisecond,
		TimerSweep:        1 * time.Second,
		UnaryTimeout:      10 * time.Second,
		EffectsQueueSize:  256,
		EffectsPerSecond:  20,
		EffectsBurst:      5,
		LogLevel:          "info",
		LogFormat:         "auto",
	}
}

// Environment variables that override the file. Command-line flags win over
// both.
const (
	EnvBackendURL  = "BOARDSYNC_BACKEND_URL"
	EnvSocketURL   = "BOARDSYNC_SOCKET_URL"
	EnvStoragePath = "BOARDSYNC_DB"
	EnvActor       = "BOARDSYNC_ACTOR"
	EnvLogLevel    = "BOARDSYNC_LOG_LEVEL"
	EnvMetricsAddr = "BOARDSYNC_METRICS_ADDR"
)

// Load overlays the YAML file at path onto DefaultConfig, then applies the
// BOARDSYNC_* environment. An empty path skips the file.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(lookup)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for name, dst := range map[string]*string{
		EnvBackendURL:  &c.BackendURL,
		EnvSocketURL:   &c.SocketURL,
		EnvStoragePath: &c.StoragePath,
		EnvActor:       &c.Actor,
		EnvLogLevel:    &c.LogLevel,
		EnvMetricsAddr: &c.MetricsAddr,
	} {
		if v, ok := lookup(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
}

func (c Config) Validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.BackendURL); err != nil {
		errs = append(errs, fmt.Errorf("backend_url: %w", err))
	}
	if c.ReconnectBase <= 0 {
		errs = append(errs, errors.New("reconnect_base must be positive"))
	}
	if c.ReconnectCeiling <= 0 {
		errs = append(errs, errors.New("reconnect_ceiling must be positive"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat_interval must be positive"))
	}
	if c.RefreshCooldown < 0 || c.RefreshSettle < 0 || c.DragDefer < 0 {
		errs = append(errs, errors.New("refresh delays must not be negative"))
	}
	if c.EffectsQueueSize <= 0 {
		errs = append(errs, errors.New("effects_queue_size must be positive"))
	}
	return errors.Join(errs...)
}

// StreamURL resolves the fallback event-stream path against the backend.
func (c Config) StreamURL() string {
	path := c.StreamPath
	if path == "" {
		path = "/events"
	}
	return strings.TrimRight(c.BackendURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "brigadeboard.db"
	}
	return filepath.Join(home, ".local", "state", "brigadeboard", "client.db")
}
