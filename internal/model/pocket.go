// Package model contains the generative model backends behind tts.Model.
package model

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	pockettts "github.com/cwbudde/go-call-pocket-tts"

	"github.com/example/voiceclone/internal/audio"
	"github.com/example/voiceclone/internal/config"
	"github.com/example/voiceclone/internal/tts"
)

// BackendPocket is the name reported by the pocket-tts backend.
const BackendPocket = config.BackendPocket

// Seams for tests.
var (
	pocketPreflight = pockettts.Preflight
	pocketGenerate  = pockettts.Generate
	pocketExport    = pockettts.ExportVoice
)

// PocketOptions configures the pocket-tts subprocess backend.
type PocketOptions struct {
	ExecutablePath string
	ConfigPath     string
	Quiet          bool
	// CacheDir holds exported voice embeddings. Empty uses a temporary
	// directory removed on Close.
	CacheDir  string
	LogWriter io.Writer
	Logger    *slog.Logger
}

// Pocket runs the pocket-tts CLI. Reference samples are exported once to a
// voice embedding and reused for every later request with the same audio.
type Pocket struct {
	opts    PocketOptions
	log     *slog.Logger
	ownsDir bool

	mu     sync.Mutex
	voices map[string]string
}

// NewPocket returns an unloaded pocket-tts backend.
func NewPocket(opts PocketOptions) *Pocket {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LogWriter == nil {
		opts.LogWriter = io.Discard
	}

	return &Pocket{opts: opts, log: logger, voices: make(map[string]string)}
}

func (p *Pocket) executable() string {
	if p.opts.ExecutablePath != "" {
		return p.opts.ExecutablePath
	}
	return "pocket-tts"
}

// Load verifies the executable and prepares the embedding cache.
func (p *Pocket) Load(_ context.Context) error {
	if err := pocketPreflight(p.opts.ExecutablePath); err != nil {
		var notFound *pockettts.ErrExecutableNotFound
		if errors.As(err, &notFound) {
			return fmt.Errorf("pocket-tts backend requires the pocket-tts CLI on PATH or --model-cli-path: %w", err)
		}
		return fmt.Errorf("pocket-tts preflight: %w", err)
	}

	if p.opts.CacheDir == "" {
		dir, err := os.MkdirTemp("", "voiceclone-embeddings-")
		if err != nil {
			return fmt.Errorf("create embedding cache: %w", err)
		}
		p.opts.CacheDir = dir
		p.ownsDir = true
	} else if err := os.MkdirAll(p.opts.CacheDir, 0o755); err != nil {
		return fmt.Errorf("create embedding cache: %w", err)
	}

	p.log.Info("pocket-tts backend ready",
		slog.String("executable", p.executable()),
		slog.String("python", detectPocketTTSPython(p.executable())),
		slog.String("cache_dir", p.opts.CacheDir),
	)

	return nil
}

// Generate synthesizes req.Text, conditioning on the reference when present.
func (p *Pocket) Generate(ctx context.Context, req tts.GenerateRequest) (tts.Output, error) {
	opts := &pockettts.Options{
		Config:         p.opts.ConfigPath,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		Quiet:          p.opts.Quiet,
		ExecutablePath: p.opts.ExecutablePath,
		LogWriter:      p.opts.LogWriter,
	}

	if req.Reference != nil {
		voicePath, err := p.embedding(ctx, req.Reference)
		if err != nil {
			return tts.Output{}, err
		}
		opts.Voice = voicePath
	}

	res, err := pocketGenerate(ctx, req.Text, opts)
	if err != nil {
		return tts.Output{}, fmt.Errorf("pocket-tts generate: %w", err)
	}

	samples, err := decodeResult(ctx, res.Data)
	if err != nil {
		return tts.Output{}, err
	}

	return tts.TensorOutput(samples), nil
}

// embedding returns the exported voice embedding for ref, exporting it on
// first use.
func (p *Pocket) embedding(ctx context.Context, ref *tts.Reference) (string, error) {
	key := referenceKey(ref)

	p.mu.Lock()
	defer p.mu.Unlock()

	if path, ok := p.voices[key]; ok {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	samples := ref.Samples
	if ref.SampleRate != audio.ExpectedSampleRate {
		samples = audio.Resample(samples, ref.SampleRate, audio.ExpectedSampleRate)
	}

	wav, err := audio.EncodeWAV(samples)
	if err != nil {
		return "", fmt.Errorf("encode reference: %w", err)
	}

	wavPath := filepath.Join(p.opts.CacheDir, key+".wav")
	outPath := filepath.Join(p.opts.CacheDir, key+".safetensors")

	if err := os.WriteFile(wavPath, wav, 0o600); err != nil {
		return "", fmt.Errorf("write reference: %w", err)
	}
	defer func() { _ = os.Remove(wavPath) }()

	err = pocketExport(ctx, wavPath, outPath, &pockettts.ExportVoiceOptions{
		Config:         p.opts.ConfigPath,
		Quiet:          p.opts.Quiet,
		ExecutablePath: p.opts.ExecutablePath,
		LogWriter:      p.opts.LogWriter,
	})
	if err != nil {
		return "", fmt.Errorf("pocket-tts export-voice: %w", err)
	}

	p.voices[key] = outPath
	p.log.Debug("exported voice embedding",
		slog.String("path", outPath),
		slog.Int("reference_samples", len(ref.Samples)),
	)

	return outPath, nil
}

// referenceKey hashes the reference waveform and rate.
func referenceKey(ref *tts.Reference) string {
	h := sha256.New()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(ref.SampleRate))
	h.Write(buf[:])
	for _, s := range ref.Samples {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(s))
		h.Write(buf[:])
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Info reports the backend. pocket-tts runs on the CPU.
func (p *Pocket) Info() tts.ModelInfo {
	return tts.ModelInfo{
		Backend: BackendPocket,
		Path:    p.executable(),
		Device:  "cpu",
	}
}

// Close removes the embedding cache when it was created by Load.
func (p *Pocket) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.voices = make(map[string]string)
	if p.ownsDir && p.opts.CacheDir != "" {
		dir := p.opts.CacheDir
		p.opts.CacheDir = ""
		p.ownsDir = false
		return os.RemoveAll(dir)
	}

	return nil
}

// decodeResult turns a WAV returned by a backend into 24 kHz mono samples.
func decodeResult(ctx context.Context, data []byte) ([]float32, error) {
	clip, err := audio.Decoder{}.Decode(ctx, data, audio.FormatWAV)
	if err != nil {
		return nil, fmt.Errorf("decode model audio: %w", err)
	}

	mono := audio.Downmix(clip.Samples, clip.Channels)

	return audio.Resample(mono, clip.SampleRate, audio.ExpectedSampleRate), nil
}
