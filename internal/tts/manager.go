package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/voiceclone/internal/audio"
	"github.com/example/voiceclone/internal/observe"
	"github.com/example/voiceclone/internal/voice"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Generation defaults applied when a request leaves them unset.
const (
	DefaultTemperature = 0.8
	DefaultMaxTokens   = 512
)

// Publisher is told about every sample that was durably stored.
type Publisher interface {
	SampleUploaded(ctx context.Context, voiceID string, p voice.Profile, wav []byte) error
}

type nopPublisher struct{}

func (nopPublisher) SampleUploaded(context.Context, string, voice.Profile, []byte) error { return nil }

// ManagerConfig holds the filesystem locations the manager works with.
type ManagerConfig struct {
	// ModelPath is checked for existence before the model is loaded. Empty
	// skips the check for backends that manage their own weights.
	ModelPath  string
	VoicesDir  string
	FFmpegPath string
	TempDir    string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger used by the manager and its store.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithPublisher sets the sink notified after successful uploads.
func WithPublisher(p Publisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

// Manager owns the voice index and the model handle. Reads are concurrent;
// uploads to one voice are serialized; model calls are serialized.
type Manager struct {
	cfg        ManagerConfig
	model      Model
	store      *voice.Store
	normalizer audio.Normalizer
	publisher  Publisher
	log        *slog.Logger
	now        func() time.Time

	mu          sync.RWMutex
	collections map[string]*voice.Collection

	locksMu    sync.Mutex
	voiceLocks map[string]*sync.Mutex

	// gen holds one token; whoever owns it may call the model.
	gen chan struct{}
}

// NewManager verifies the model path, loads the model and indexes every voice
// collection under cfg.VoicesDir.
func NewManager(ctx context.Context, cfg ManagerConfig, model Model, opts ...ManagerOption) (*Manager, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	if cfg.VoicesDir == "" {
		return nil, errors.New("voices directory is required")
	}

	m := &Manager{
		cfg:        cfg,
		model:      model,
		publisher:  nopPublisher{},
		log:        slog.Default(),
		now:        time.Now,
		voiceLocks: make(map[string]*sync.Mutex),
		gen:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.normalizer = audio.Normalizer{Decoder: audio.Decoder{FFmpegPath: cfg.FFmpegPath, TempDir: cfg.TempDir}}
	m.store = voice.NewStore(cfg.VoicesDir, m.log)

	if cfg.ModelPath != "" {
		if _, err := os.Stat(cfg.ModelPath); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrModelNotFound, cfg.ModelPath, err)
		}
	}

	if err := model.Load(ctx); err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	collections, err := m.store.LoadAll()
	if err != nil {
		return nil, err
	}
	m.collections = collections

	info := model.Info()
	m.log.Info("voice manager ready",
		slog.String("backend", info.Backend),
		slog.String("device", info.Device),
		slog.String("voices_dir", cfg.VoicesDir),
		slog.Int("collections", len(collections)),
	)

	return m, nil
}

// UploadRequest is one raw sample upload.
type UploadRequest struct {
	VoiceID       string
	Audio         []byte
	Filename      string
	ContentType   string
	Transcription string
	Language      string
}

// UploadSample normalizes an uploaded clip, stores it under the voice's
// directory and appends it to the collection, creating the collection on
// first use. Validation errors from the audio package are returned unchanged.
func (m *Manager) UploadSample(ctx context.Context, req UploadRequest) (voice.Profile, error) {
	if err := ValidateVoiceID(req.VoiceID); err != nil {
		return voice.Profile{}, err
	}

	transcription := strings.TrimSpace(req.Transcription)
	if transcription == "" {
		transcription = strings.TrimSpace(DeriveTranscription(req.Filename))
	}
	name := SanitizeName(transcription)
	if transcription == "" {
		transcription = name
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = voice.DefaultLanguage
	}

	format := audio.DetectFormat(req.Filename, req.ContentType, req.Audio)
	norm, err := m.normalizer.Normalize(ctx, req.Audio, format)
	if err != nil {
		return voice.Profile{}, err
	}

	wav, err := audio.EncodeWAV(norm.Samples)
	if err != nil {
		return voice.Profile{}, fmt.Errorf("encode sample: %w", err)
	}

	profile, total, err := m.storeSample(req.VoiceID, voice.Profile{
		Name:          name,
		Transcription: transcription,
		Language:      language,
		QualityScore:  voice.DefaultQualityScore,
		Duration:      norm.Duration,
		SampleRate:    norm.SampleRate,
	}, wav)
	if err != nil {
		return voice.Profile{}, err
	}

	m.log.Info("voice sample added",
		slog.String("voice_id", req.VoiceID),
		slog.String("name", profile.Name),
		slog.Float64("duration", norm.Duration),
		slog.Int("total_samples", total),
	)

	// Publish outside the voice lock.
	if err := m.publisher.SampleUploaded(ctx, req.VoiceID, profile, wav); err != nil {
		m.log.Warn("failed to publish upload event",
			slog.String("voice_id", req.VoiceID),
			slog.String("error", err.Error()),
		)
	}

	return profile, nil
}

// storeSample writes wav under the voice directory and appends profile to the
// collection, serialized per voice id. It fills in AudioPath and CreatedAt and
// returns the stored profile with the collection's new sample count.
func (m *Manager) storeSample(voiceID string, profile voice.Profile, wav []byte) (voice.Profile, int, error) {
	lock := m.voiceLock(voiceID)
	lock.Lock()
	defer lock.Unlock()

	dir := m.store.Dir(voiceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return voice.Profile{}, 0, &PersistenceError{VoiceID: voiceID, Err: err}
	}

	path, err := writeUnique(dir, profile.Name, wav)
	if err != nil {
		return voice.Profile{}, 0, &PersistenceError{VoiceID: voiceID, Err: err}
	}

	now := m.now()
	profile.AudioPath = path
	profile.CreatedAt = voice.Timestamp{Time: now}

	m.mu.RLock()
	current := m.collections[voiceID]
	m.mu.RUnlock()

	if current == nil {
		current = voice.NewCollection(voiceID, now)
	}
	next := current.WithProfile(profile, now)

	if err := m.store.Save(voiceID, next); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			m.log.Warn("failed to remove orphaned sample",
				slog.String("path", path),
				slog.String("error", rmErr.Error()),
			)
		}
		return voice.Profile{}, 0, &PersistenceError{VoiceID: voiceID, Err: err}
	}

	m.mu.Lock()
	m.collections[voiceID] = next
	m.mu.Unlock()

	return profile, next.TotalSamples, nil
}

// CloneRequest is one synthesis call.
type CloneRequest struct {
	Text       string
	VoiceID    string
	SampleName string
	// Temperature 0 selects greedy decoding; a negative value means
	// DefaultTemperature.
	Temperature float64
	// MaxTokens <= 0 means DefaultMaxTokens.
	MaxTokens int
}

// CloneVoice synthesizes req.Text, conditioned on a stored sample when
// req.VoiceID names a collection with samples. An unknown non-empty voice id
// returns ErrNotFound. Generation failures are returned as *SynthesisError.
func (m *Manager) CloneVoice(ctx context.Context, req CloneRequest) ([]float32, error) {
	ref, err := m.reference(ctx, req.VoiceID, req.SampleName)
	if err != nil {
		return nil, err
	}

	temperature := req.Temperature
	if temperature < 0 {
		temperature = DefaultTemperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	select {
	case m.gen <- struct{}{}:
	case <-ctx.Done():
		return nil, &SynthesisError{Err: ctx.Err()}
	}

	start := time.Now()
	genCtx, span := observe.StartSpan(ctx, "model.generate", trace.WithAttributes(
		attribute.String("voice.id", req.VoiceID),
		attribute.Bool("voice.conditioned", ref != nil),
		attribute.Int("text.length", len(req.Text)),
	))
	out, err := m.model.Generate(genCtx, GenerateRequest{
		Text:        req.Text,
		Reference:   ref,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	<-m.gen

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		span.End()
		return nil, &SynthesisError{Err: err}
	}
	span.End()

	samples, err := out.Audio()
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}

	if len(samples) == 0 {
		m.log.Warn("model returned empty audio, generating silence")
		samples = make([]float32, audio.ExpectedSampleRate)
	}

	samples = audio.LimitPeak(samples)

	observe.Logger(ctx, m.log).Info("voice cloned",
		slog.String("voice_id", req.VoiceID),
		slog.Bool("conditioned", ref != nil),
		slog.Int("samples", len(samples)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return samples, nil
}

// reference picks the conditioning sample for a clone request. A nil
// reference with a nil error means unconditioned generation.
func (m *Manager) reference(ctx context.Context, voiceID, sampleName string) (*Reference, error) {
	if voiceID == "" {
		return nil, nil
	}

	m.mu.RLock()
	c := m.collections[voiceID]
	m.mu.RUnlock()

	if c == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, voiceID)
	}
	if len(c.Profiles) == 0 {
		return nil, nil
	}

	profile := c.Profiles[0]
	if sampleName != "" {
		if p, ok := c.Profile(sampleName); ok {
			profile = p
		}
	}

	samples, err := m.loadReferenceAudio(ctx, voiceID, profile)
	if err != nil {
		m.log.Error("failed to load reference audio",
			slog.String("voice_id", voiceID),
			slog.String("sample", profile.Name),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	m.log.Info("using voice reference",
		slog.String("voice_id", voiceID),
		slog.String("sample", profile.Name),
	)

	return &Reference{
		Transcription: profile.Transcription,
		Samples:       samples,
		SampleRate:    audio.ExpectedSampleRate,
	}, nil
}

func (m *Manager) loadReferenceAudio(ctx context.Context, voiceID string, p voice.Profile) ([]float32, error) {
	path := m.store.ResolveAudioPath(voiceID, p)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Stored samples are canonical; anything else goes through the general
	// decoder and is converted.
	if samples, err := audio.DecodeWAV(data); err == nil {
		return samples, nil
	}

	clip, err := m.normalizer.Decoder.Decode(ctx, data, audio.DetectFormat(path, "", data))
	if err != nil {
		return nil, err
	}

	mono := audio.Downmix(clip.Samples, clip.Channels)

	return audio.Resample(mono, clip.SampleRate, audio.ExpectedSampleRate), nil
}

func (m *Manager) voiceLock(voiceID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	l, ok := m.voiceLocks[voiceID]
	if !ok {
		l = &sync.Mutex{}
		m.voiceLocks[voiceID] = l
	}

	return l
}

// Collections returns copies of every collection keyed by voice id.
func (m *Manager) Collections() map[string]*voice.Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*voice.Collection, len(m.collections))
	for id, c := range m.collections {
		out[id] = c.Clone()
	}

	return out
}

// Collection returns a copy of one collection.
func (m *Manager) Collection(voiceID string) (*voice.Collection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[voiceID]
	if !ok {
		return nil, false
	}

	return c.Clone(), true
}

// VoiceIDs returns the known voice ids in sorted order.
func (m *Manager) VoiceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.collections))
	for id := range m.collections {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Stats reports the number of collections and samples.
func (m *Manager) Stats() (collections, samples int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.collections {
		samples += len(c.Profiles)
	}

	return len(m.collections), samples
}

// ModelInfo describes the loaded model.
func (m *Manager) ModelInfo() ModelInfo { return m.model.Info() }

// VoicesDir returns the voices root.
func (m *Manager) VoicesDir() string { return m.store.Root() }

// Close releases the model.
func (m *Manager) Close() error { return m.model.Close() }
