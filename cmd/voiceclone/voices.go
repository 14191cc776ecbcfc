package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/example/voiceclone/internal/tts"
	"github.com/example/voiceclone/internal/voice"
	"github.com/spf13/cobra"
)

func newVoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "Manage stored voice collections",
	}

	cmd.AddCommand(newVoicesListCmd())
	cmd.AddCommand(newVoicesUploadCmd())

	return cmd
}

func newVoicesListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List voice collections on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			collections, err := voice.NewStore(cfg.Paths.VoicesDir, slog.Default()).LoadAll()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(collections)
			}

			return writeVoiceTable(cmd.OutOrStdout(), collections)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print full collections as JSON")

	return cmd
}

func writeVoiceTable(w io.Writer, collections map[string]*voice.Collection) error {
	ids := make([]string, 0, len(collections))
	for id := range collections {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VOICE\tSAMPLES\tAVG DURATION\tUPDATED")
	for _, id := range ids {
		c := collections[id]
		fmt.Fprintf(tw, "%s\t%d\t%.2fs\t%s\n", id, c.TotalSamples, c.AverageDuration, c.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	return tw.Flush()
}

func newVoicesUploadCmd() *cobra.Command {
	var (
		transcription string
		language      string
	)

	cmd := &cobra.Command{
		Use:   "upload <voice_id> <audio_file>",
		Short: "Validate, normalize and store a reference sample",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			voiceID, path := args[0], args[1]

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read sample: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			mgr, closeMgr, err := openManager(ctx, cfg, slog.Default())
			if err != nil {
				return err
			}
			defer func() { _ = closeMgr() }()

			profile, err := mgr.UploadSample(ctx, tts.UploadRequest{
				VoiceID:       voiceID,
				Audio:         data,
				Filename:      filepath.Base(path),
				ContentType:   mime.TypeByExtension(filepath.Ext(path)),
				Transcription: transcription,
				Language:      language,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(profile)
		},
	}

	cmd.Flags().StringVar(&transcription, "transcription", "", "Sample transcription (default: derived from the file name)")
	cmd.Flags().StringVar(&language, "language", "", "Sample language (default: es)")

	return cmd
}
