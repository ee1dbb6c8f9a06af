// Package config loads mangatrack settings from ~/.mangatrack/config.yaml and
// MANGATRACK_* environment variables, in that order, over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/pevans/mangatrack/differ"
	"github.com/pevans/mangatrack/fetch"
	"github.com/pevans/mangatrack/navigator"
	"github.com/pevans/mangatrack/storage"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MANGATRACK_"

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path" env:"DB_PATH"`
}

// ServerConfig configures the dashboard API.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // text or json
}

// TrackerConfig configures tracking passes.
type TrackerConfig struct {
	Workers      int           `yaml:"workers" env:"WORKERS"`
	PassTimeout  time.Duration `yaml:"pass_timeout" env:"PASS_TIMEOUT"`
	MaxPages     int           `yaml:"max_pages" env:"MAX_PAGES"`
	GapThreshold int           `yaml:"gap_threshold" env:"GAP_THRESHOLD"`
	Interval     time.Duration `yaml:"interval" env:"INTERVAL"` // 0 disables scheduled passes
}

// FetchConfig configures the page fetcher.
type FetchConfig struct {
	Timeout           time.Duration `yaml:"timeout" env:"FETCH_TIMEOUT"`
	Attempts          int           `yaml:"attempts" env:"FETCH_ATTEMPTS"`
	Backoff           time.Duration `yaml:"backoff" env:"FETCH_BACKOFF"`
	UserAgent         string        `yaml:"user_agent" env:"USER_AGENT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int           `yaml:"burst" env:"FETCH_BURST"`
	RespectRobots     bool          `yaml:"respect_robots" env:"RESPECT_ROBOTS"`
	CloudflareBypass  bool          `yaml:"cloudflare_bypass" env:"CLOUDFLARE_BYPASS"`
}

// Config is the complete runtime configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Tracker TrackerConfig `yaml:"tracker"`
	Fetch   FetchConfig   `yaml:"fetch"`
}

// Default returns the built-in configuration.
func Default() *Config {
	fetchOpts := fetch.DefaultOptions()

	return &Config{
		Storage: StorageConfig{Path: storage.DefaultPath()},
		Server:  ServerConfig{Addr: ":8000"},
		Log:     LogConfig{Level: "info", Format: "text"},
		Tracker: TrackerConfig{
			Workers:      4,
			PassTimeout:  5 * time.Minute,
			MaxPages:     navigator.DefaultMaxPages,
			GapThreshold: differ.DefaultGapThreshold,
		},
		Fetch: FetchConfig{
			Timeout:           fetchOpts.Timeout,
			Attempts:          fetchOpts.Attempts,
			Backoff:           fetchOpts.Backoff,
			UserAgent:         fetchOpts.UserAgent,
			RequestsPerSecond: fetchOpts.RequestsPerSecond,
			Burst:             fetchOpts.Burst,
			RespectRobots:     fetchOpts.RespectRobots,
			CloudflareBypass:  fetchOpts.CloudflareBypass,
		},
	}
}

// DefaultPath returns ~/.mangatrack/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".mangatrack", "config.yaml"), nil
}

// Load builds the configuration from defaults, the config file at path (or
// DefaultPath when path is empty) and the environment. A missing file is not
// an error; a file that exists but cannot be parsed is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile overlays the YAML file onto cfg. Keys absent from the file keep
// their current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil // File doesn't exist -- not an error
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate rejects settings the tracker cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Tracker.Workers < 1 {
		errs = append(errs, errors.New("tracker.workers must be at least 1"))
	}
	if c.Tracker.PassTimeout <= 0 {
		errs = append(errs, errors.New("tracker.pass_timeout must be positive"))
	}
	if c.Tracker.MaxPages < 1 {
		errs = append(errs, errors.New("tracker.max_pages must be at least 1"))
	}
	if c.Tracker.Interval < 0 {
		errs = append(errs, errors.New("tracker.interval must not be negative"))
	}
	if c.Fetch.Attempts < 1 {
		errs = append(errs, errors.New("fetch.attempts must be at least 1"))
	}
	if c.Fetch.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("fetch.requests_per_second must not be negative"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// FetchOptions converts the fetch settings for fetch.NewClient.
func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:           c.Fetch.Timeout,
		Attempts:          c.Fetch.Attempts,
		Backoff:           c.Fetch.Backoff,
		UserAgent:         c.Fetch.UserAgent,
		RequestsPerSecond: c.Fetch.RequestsPerSecond,
		Burst:             c.Fetch.Burst,
		RespectRobots:     c.Fetch.RespectRobots,
		CloudflareBypass:  c.Fetch.CloudflareBypass,
	}
}
