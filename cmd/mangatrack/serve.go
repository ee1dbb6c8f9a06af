package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/pevans/mangatrack"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API and the scheduled tracker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, stores, err := openStores()
		if err != nil {
			return err
		}
		defer stores.Close()

		if flagAddr != "" {
			cfg.Server.Addr = flagAddr
		}

		logger := newLogger(cfg.Log)
		tracker := newTracker(cfg, stores, logger)

		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		server := mangatrack.NewAPIServer(stores.Sites, stores.Registry, stores.Sources, tracker, logger)

		httpServer := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           server.SetupRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		trackerDone := make(chan struct{})
		go func() {
			defer close(trackerDone)
			if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("tracker stopped", slog.Any("error", err))
			}
		}()

		serverErr := make(chan error, 1)
		go func() {
			logger.Info("starting API server", slog.String("addr", cfg.Server.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
			close(serverErr)
		}()

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
		case err := <-serverErr:
			if err != nil {
				stop()
				tracker.Stop()
				<-trackerDone
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", slog.Any("error", err))
		}

		tracker.Stop()
		<-trackerDone

		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address, overrides server.addr")
	rootCmd.AddCommand(serveCmd)
}
