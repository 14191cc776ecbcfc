package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/voiceclone/internal/config"
	"github.com/example/voiceclone/internal/events"
	"github.com/example/voiceclone/internal/model"
	"github.com/example/voiceclone/internal/tts"
)

// Seams for tests.
var (
	newModel      = model.New
	connectEvents = func(cfg config.EventsConfig, logger *slog.Logger) (tts.Publisher, func() error, error) {
		p, err := events.Connect(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
)

// openManager builds the configured model backend, the optional NATS
// publisher and the voice manager. The returned closer releases all three.
func openManager(ctx context.Context, cfg config.Config, logger *slog.Logger) (*tts.Manager, func() error, error) {
	m, err := newModel(cfg.Model, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []tts.ManagerOption{tts.WithManagerLogger(logger)}
	closeEvents := func() error { return nil }

	if cfg.Events.NATSURL != "" {
		pub, closer, err := connectEvents(cfg.Events, logger)
		if err != nil {
			_ = m.Close()
			return nil, nil, err
		}
		opts = append(opts, tts.WithPublisher(pub))
		closeEvents = closer
	}

	mgr, err := tts.NewManager(ctx, tts.ManagerConfig{
		ModelPath:  cfg.Paths.ModelPath,
		VoicesDir:  cfg.Paths.VoicesDir,
		FFmpegPath: cfg.Audio.FFmpegPath,
		TempDir:    cfg.Paths.TempDir,
	}, m, opts...)
	if err != nil {
		_ = m.Close()
		_ = closeEvents()
		return nil, nil, err
	}

	closer := func() error {
		return errors.Join(mgr.Close(), closeEvents())
	}

	return mgr, closer, nil
}
