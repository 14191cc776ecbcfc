package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/example/voiceclone/internal/config"
	"github.com/example/voiceclone/internal/doctor"
	"github.com/example/voiceclone/internal/model"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and storage checks",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(os.Stdout, "backend: %s\n", cfg.Model.Backend)

			result := doctor.Run(doctorConfig(cfg), os.Stdout)

			if result.Failed() {
				for _, f := range result.Failures() {
					// #nosec G705 -- Writes plain diagnostic text to stderr for CLI output, not HTML rendering.
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

// doctorConfig selects the checks that apply to the configured backend.
func doctorConfig(cfg config.Config) doctor.Config {
	exe := cfg.Model.CLIPath
	if exe == "" {
		exe = "pocket-tts"
	}

	remote := cfg.Model.Backend == config.BackendHTTP

	dcfg := doctor.Config{
		PocketTTSVersion: func() (string, error) {
			return probeVersion(exe, "--version")
		},
		SkipPocketTTS: remote,
		PythonVersion: func() (string, error) {
			return probePythonVersion(model.DetectPython(exe))
		},
		SkipPython: remote,
		ModelPath:  cfg.Paths.ModelPath,
		VoicesDir:  cfg.Paths.VoicesDir,
	}

	if remote {
		dcfg.RemoteHealth = func() (string, error) {
			return probeRemote(cfg.Model)
		}
	}
	if cfg.Audio.FFmpegPath != "" {
		dcfg.FFmpegVersion = func() (string, error) {
			return probeVersion(cfg.Audio.FFmpegPath, "-version")
		}
	}

	return dcfg
}

// probeVersion runs exe with flag and returns the first line of its output.
func probeVersion(exe, flag string) (string, error) {
	out, err := exec.CommandContext(context.Background(), exe, flag).Output()
	if err != nil {
		return "", fmt.Errorf("%s %s failed: %w", exe, flag, err)
	}

	s := bufio.NewScanner(bytes.NewReader(out))
	if s.Scan() {
		return strings.TrimSpace(s.Text()), nil
	}

	return "", fmt.Errorf("%s %s printed nothing", exe, flag)
}

// probePythonVersion asks the interpreter behind pocket-tts for its version,
// falling back to python3 then python.
func probePythonVersion(preferred string) (string, error) {
	for _, bin := range []string{preferred, "python3", "python"} {
		if bin == "" {
			continue
		}
		out, err := exec.CommandContext(context.Background(), bin, "--version").Output()
		if err != nil {
			continue
		}
		// Output is e.g. "Python 3.11.4\n"
		raw := strings.TrimSpace(string(out))

		raw = strings.TrimPrefix(raw, "Python ")
		if raw != "" {
			return raw, nil
		}
	}

	return "", errors.New("python3/python not found on PATH")
}

// probeRemote loads the HTTP backend, which checks its /health endpoint.
func probeRemote(cfg config.ModelConfig) (string, error) {
	r, err := model.NewRemote(model.RemoteOptions{
		URL:     cfg.URL,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = r.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.Load(ctx); err != nil {
		return "", err
	}

	info := r.Info()

	return fmt.Sprintf("%s (device %s)", cfg.URL, info.Device), nil
}
