package main

import (
	"errors"
	"io"
	"log/slog"

	"github.com/example/voiceclone/internal/config"
	"github.com/example/voiceclone/internal/server"
	"github.com/spf13/cobra"
)

// Loaded once per invocation by the root pre-run; subcommands read it through
// requireConfig.
var (
	cfgFile   string
	envFile   string
	activeCfg config.Config
	cfgLoaded bool
)

var errConfigNotLoaded = errors.New("voiceclone: configuration not loaded")

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "voiceclone",
		Short: "Clone voices from short samples and synthesize speech with them",
		Long: `voiceclone keeps per-voice collections of 3-9 s reference samples and
synthesizes text conditioned on one of them.

Run "voiceclone serve" for the HTTP API, or use "clone" and "voices" to work
on the same voices directory offline. Settings come from flags, VOICECLONE_*
environment variables, an optional voiceclone.{yaml,toml,json} and .env.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				EnvFile:    envFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg, cfgLoaded = loaded, true
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), loaded.LogLevel))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "voiceclone config file (yaml|toml|json); default ./voiceclone.* when present")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with VOICECLONE_* variables (default: ./.env when present)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(
		newServeCmd(),
		newCloneCmd(),
		newVoicesCmd(),
		newHealthCmd(),
		newDoctorCmd(),
	)

	return cmd
}

// newLogger returns a JSON logger tagged with the service name. Unknown
// levels fall back to info.
func newLogger(w io.Writer, level string) *slog.Logger {
	lvl, err := server.ParseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).With(slog.String("service", "voiceclone"))
}

func requireConfig() (config.Config, error) {
	if !cfgLoaded {
		return config.Config{}, errConfigNotLoaded
	}
	return activeCfg, nil
}
