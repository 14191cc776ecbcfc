package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// transcode runs ffmpeg over a request-scoped copy of data and decodes the
// resulting PCM WAV. Both temporary files are removed on every return path.
func (d Decoder) transcode(ctx context.Context, data []byte, format Format) (Clip, error) {
	exe, err := exec.LookPath(d.FFmpegPath)
	if err != nil {
		return Clip{}, fmt.Errorf("ffmpeg not available: %w", err)
	}

	dir := d.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Clip{}, fmt.Errorf("create temp dir: %w", err)
	}

	ext := ".bin"
	if format != FormatUnknown {
		ext = "." + string(format)
	}

	base := filepath.Join(dir, "upload_"+uuid.NewString())
	inPath := base + ext
	outPath := base + ".wav"

	defer func() { _ = os.Remove(inPath) }()
	defer func() { _ = os.Remove(outPath) }()

	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		return Clip{}, fmt.Errorf("write temp upload: %w", err)
	}

	cmd := exec.CommandContext(ctx, exe,
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-i", inPath,
		"-vn", "-acodec", "pcm_s16le",
		outPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Clip{}, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	wavData, err := os.ReadFile(outPath)
	if err != nil {
		return Clip{}, fmt.Errorf("read transcoded audio: %w", err)
	}

	return decodeWAV(wavData)
}
