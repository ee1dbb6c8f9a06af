// Command mangatrack tracks new manga chapters across configured sites.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pevans/mangatrack"
	"github.com/pevans/mangatrack/config"
)

var (
	flagConfig string
	flagDB     string
	flagDebug  bool
	flagJSON   bool
)

var rootCmd = &cobra.Command{
	Use:           "mangatrack",
	Short:         "Track new manga chapters across sites",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.mangatrack/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path, overrides storage.path")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print output as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	if flagDB != "" {
		cfg.Storage.Path = flagDB
	}
	if flagDebug {
		cfg.Log.Level = "debug"
	}

	return cfg, nil
}

// newLogger builds the process logger from the log settings. Logs go to
// stderr so stdout stays clean for command output.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStores loads the configuration and opens the database.
func openStores() (*config.Config, *mangatrack.Stores, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	stores, err := mangatrack.OpenStores(cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	return cfg, stores, nil
}

// trackerConfig converts the tracker settings.
func trackerConfig(cfg *config.Config) *mangatrack.TrackerConfig {
	return &mangatrack.TrackerConfig{
		Workers:      cfg.Tracker.Workers,
		PassTimeout:  cfg.Tracker.PassTimeout,
		MaxPages:     cfg.Tracker.MaxPages,
		GapThreshold: cfg.Tracker.GapThreshold,
		Interval:     cfg.Tracker.Interval,
	}
}
