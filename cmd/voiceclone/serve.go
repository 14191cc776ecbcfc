package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/voiceclone/internal/observe"
	"github.com/example/voiceclone/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voice cloning HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := slog.Default()

			mgr, closeMgr, err := openManager(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeMgr(); err != nil {
					logger.Warn("shutdown cleanup failed", slog.String("error", err.Error()))
				}
			}()

			opts := []server.Option{server.WithLogger(logger)}

			if cfg.Metrics.Enabled {
				provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: server.Version()})
				if err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = provider.Shutdown(shutdownCtx)
				}()

				metrics, err := observe.NewMetrics(provider.MeterProvider)
				if err != nil {
					return err
				}
				_, samples := mgr.Stats()
				metrics.StoredSamples.Add(ctx, int64(samples))

				opts = append(opts, server.WithMetrics(metrics, provider.Handler()))
			}

			logger.Info("starting server",
				slog.String("addr", cfg.Server.ListenAddr),
				slog.String("backend", cfg.Model.Backend),
				slog.Int("workers", cfg.Server.Workers),
				slog.Bool("metrics", cfg.Metrics.Enabled),
				slog.Bool("events", cfg.Events.NATSURL != ""),
				slog.Any("voices", mgr.VoiceIDs()),
			)

			return server.New(cfg, mgr, opts...).Start(ctx)
		},
	}

	return cmd
}
