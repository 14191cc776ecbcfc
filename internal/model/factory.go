package model

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/example/voiceclone/internal/config"
	"github.com/example/voiceclone/internal/tts"
)

// New builds the backend selected by cfg.Backend. The returned model is not
// loaded; tts.NewManager calls Load.
func New(cfg config.ModelConfig, logger *slog.Logger) (tts.Model, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := config.NormalizeBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendPocket:
		return NewPocket(PocketOptions{
			ExecutablePath: cfg.CLIPath,
			ConfigPath:     cfg.CLIConfigPath,
			Quiet:          cfg.Quiet,
			CacheDir:       cfg.CacheDir,
			Logger:         logger.With(slog.String("backend", backend)),
		}), nil
	case BackendHTTP:
		remote, err := NewRemote(RemoteOptions{
			URL:     cfg.URL,
			Timeout: time.Duration(cfg.Timeout) * time.Second,
			Logger:  logger.With(slog.String("backend", backend)),
		})
		if err != nil {
			return nil, err
		}
		return remote, nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", backend)
	}
}
