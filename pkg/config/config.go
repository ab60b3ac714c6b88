package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

// Config holds the runtime settings for the API service and the CLI.
type Config struct {
	ListenAddr     string         `yaml:"listen_addr"`
	DatabaseURL    string         `yaml:"database_url"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
	DB             DBConfig       `yaml:"db"`
	Bridge         BridgeConfig   `yaml:"bridge"`
	Dispatch       DispatchConfig `yaml:"dispatch"`
	Graph          GraphConfig    `yaml:"graph"`
	Log            LogConfig      `yaml:"log"`
	Timers         TimerConfig    `yaml:"timers"`
}

// DBConfig sizes the PostgreSQL pool. Zero values keep the pgx defaults.
type DBConfig struct {
	MaxConns        int32         `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// BridgeConfig describes the automation bridge endpoint.
type BridgeConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// DispatchConfig bounds how many workflows one event fires concurrently.
type DispatchConfig struct {
	MaxConcurrentFirings int `yaml:"max_concurrent_firings"`
}

// GraphConfig sets the edge rules applied to every workflow graph.
type GraphConfig struct {
	AllowChaining bool `yaml:"allow_chaining"`
}

// LogConfig selects the log level and the json or console encoder.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TimerConfig controls how timer-trigger schedules are interpreted.
type TimerConfig struct {
	Location string `yaml:"location"`
}

// Default returns a Config populated with development defaults.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		AllowedOrigins: []string{"http://localhost:3003"},
		Bridge: BridgeConfig{
			URL:     "http://localhost:3333",
			Timeout: 10 * time.Second,
		},
		Dispatch: DispatchConfig{MaxConcurrentFirings: 8},
		Graph:    GraphConfig{AllowChaining: true},
		Log:      LogConfig{Level: "info", Format: "json"},
		Timers:   TimerConfig{Location: "UTC"},
	}
}

// Load builds a Config from defaults, an optional YAML file and environment
// overrides, in that order. An empty path falls back to CONFIG_FILE.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, apperrors.Wrap(err, apperrors.CategoryBadInput, "invalid config file").
				WithTextCode("CONFIG_INVALID").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DATABASE_URL"); ok {
		c.DatabaseURL = v
	}
	if v, ok := lookup("LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup("BRIDGE_URL"); ok {
		c.Bridge.URL = v
	}
	if v, ok := lookup("BRIDGE_TOKEN"); ok {
		c.Bridge.Token = v
	}
	if v, ok := lookup("BRIDGE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CategoryBadInput, "invalid BRIDGE_TIMEOUT").
				WithTextCode("CONFIG_INVALID")
		}
		c.Bridge.Timeout = d
	}
	if v, ok := lookup("DB_MAX_CONNS"); ok {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CategoryBadInput, "invalid DB_MAX_CONNS").
				WithTextCode("CONFIG_INVALID")
		}
		c.DB.MaxConns = int32(n)
	}
	if v, ok := lookup("GRAPH_ALLOW_CHAINING"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CategoryBadInput, "invalid GRAPH_ALLOW_CHAINING").
				WithTextCode("CONFIG_INVALID")
		}
		c.Graph.AllowChaining = b
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := lookup("TIMERS_LOCATION"); ok {
		c.Timers.Location = v
	}
	return nil
}

// Validate checks the settings the HTTP service cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return apperrors.New("database_url is required", apperrors.CategoryValidation).
			WithTextCode("CONFIG_INVALID")
	}
	if c.Bridge.Timeout <= 0 {
		return apperrors.New("bridge.timeout must be positive", apperrors.CategoryValidation).
			WithTextCode("CONFIG_INVALID")
	}
	if c.DB.MaxConns < 0 {
		return apperrors.New("db.max_conns must not be negative", apperrors.CategoryValidation).
			WithTextCode("CONFIG_INVALID")
	}
	if c.Dispatch.MaxConcurrentFirings < 1 {
		return apperrors.New("dispatch.max_concurrent_firings must be at least 1", apperrors.CategoryValidation).
			WithTextCode("CONFIG_INVALID")
	}
	if _, err := c.TimerLocation(); err != nil {
		return apperrors.Wrap(err, apperrors.CategoryValidation, "timers.location is not a known time zone").
			WithTextCode("CONFIG_INVALID")
	}
	return nil
}

// TimerLocation returns the time zone timer schedules run in. Empty means UTC.
func (c Config) TimerLocation() (*time.Location, error) {
	if strings.TrimSpace(c.Timers.Location) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timers.Location)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
