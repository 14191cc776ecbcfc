package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/voiceclone/internal/audio"
	"github.com/example/voiceclone/internal/server"
	"github.com/example/voiceclone/internal/tts"
	"github.com/spf13/cobra"
)

func newCloneCmd() *cobra.Command {
	var (
		voiceID     string
		sampleName  string
		outPath     string
		temperature float64
		maxTokens   int
	)

	cmd := &cobra.Command{
		Use:   "clone [text]",
		Short: "Synthesize text offline, optionally in a stored voice",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			text, err := readCloneText(cmd, args)
			if err != nil {
				return err
			}
			if cfg.Server.MaxTextBytes > 0 && len(text) > cfg.Server.MaxTextBytes {
				return fmt.Errorf("text exceeds maximum size of %d bytes", cfg.Server.MaxTextBytes)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			logger := slog.Default()

			mgr, closeMgr, err := openManager(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeMgr() }()

			samples, err := mgr.CloneVoice(ctx, tts.CloneRequest{
				Text:        text,
				VoiceID:     voiceID,
				SampleName:  sampleName,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
			if err != nil {
				return err
			}

			wav, err := audio.EncodeWAV(samples)
			if err != nil {
				return err
			}

			if outPath == "" {
				outPath = filepath.Join(cfg.Paths.OutputDir, server.CloneFilename(text, voiceID, sampleName))
			}
			if outPath == "-" {
				_, err = cmd.OutOrStdout().Write(wav)
				return err
			}

			if dir := filepath.Dir(outPath); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
			}
			if err := os.WriteFile(outPath, wav, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), outPath)
			return err
		},
	}

	cmd.Flags().StringVar(&voiceID, "voice", "", "Voice collection to condition on (default: unconditioned)")
	cmd.Flags().StringVar(&sampleName, "sample", "", "Sample name within the voice (default: first sample)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output WAV path, or - for stdout (default: derived name in the output dir)")
	cmd.Flags().Float64Var(&temperature, "temperature", tts.DefaultTemperature, "Sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", tts.DefaultMaxTokens, "Maximum generated tokens")

	return cmd
}

// readCloneText takes the text from the positional argument, or from stdin
// when the argument is absent or "-".
func readCloneText(cmd *cobra.Command, args []string) (string, error) {
	var text string
	if len(args) == 1 && args[0] != "-" {
		text = args[0]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read text from stdin: %w", err)
		}
		text = string(data)
	}

	if strings.TrimSpace(text) == "" {
		return "", errors.New("text is required")
	}

	return text, nil
}
