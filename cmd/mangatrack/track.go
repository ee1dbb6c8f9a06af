package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pevans/mangatrack"
	"github.com/pevans/mangatrack/config"
	"github.com/pevans/mangatrack/fetch"
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Run one tracking pass and print its report",
	Long: `Run one tracking pass over every configured site and print the report.
The command exits non-zero when any site failed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, stores, err := openStores()
		if err != nil {
			return err
		}
		defer stores.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		tracker := newTracker(cfg, stores, newLogger(cfg.Log))
		report, err := tracker.RunPass(ctx)
		if err != nil {
			return err
		}

		if flagJSON {
			if err := printJSON(os.Stdout, report); err != nil {
				return err
			}
		} else {
			printPassReport(os.Stdout, report)
		}

		if failed := report.Count(mangatrack.SiteFailed); failed > 0 {
			return fmt.Errorf("%d of %d sites failed", failed, len(report.Sites))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trackCmd)
}

// newTracker wires a tracker to the stores with a fetch client built from
// the configuration.
func newTracker(cfg *config.Config, stores *mangatrack.Stores, logger *slog.Logger) *mangatrack.Tracker {
	opts := cfg.FetchOptions()
	opts.Logger = logger

	return mangatrack.NewTracker(
		stores.Sites,
		stores.Registry,
		stores.Sources,
		fetch.NewClient(opts),
		trackerConfig(cfg),
		logger,
	)
}
