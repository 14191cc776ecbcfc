package server

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/example/voiceclone/internal/audio"
	"github.com/example/voiceclone/internal/config"
	"github.com/example/voiceclone/internal/observe"
	"github.com/example/voiceclone/internal/tts"
	"github.com/example/voiceclone/internal/voice"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// VoiceService is the voice manager surface used by the HTTP layer.
type VoiceService interface {
	UploadSample(ctx context.Context, req tts.UploadRequest) (voice.Profile, error)
	CloneVoice(ctx context.Context, req tts.CloneRequest) ([]float32, error)
	Collections() map[string]*voice.Collection
	Collection(voiceID string) (*voice.Collection, bool)
	Stats() (collections, samples int)
	ModelInfo() tts.ModelInfo
	VoicesDir() string
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	maxUploadBytes int64
	workers        int
	requestTimeout time.Duration
	outputDir      string
	modelPath      string
	logger         *slog.Logger
	metrics        *observe.Metrics
	metricsHandler http.Handler
}

func defaultOptions() options {
	return options{
		maxTextBytes:   4096,
		maxUploadBytes: 25 << 20,
		workers:        2,
		requestTimeout: 120 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes for POST /clone.
// Zero or less disables the limit.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithMaxUploadBytes caps the request body of sample uploads.
func WithMaxUploadBytes(n int64) Option {
	return func(o *options) { o.maxUploadBytes = n }
}

// WithWorkers sets the maximum number of concurrent clone calls. Zero
// disables the limit.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request synthesis deadline. Zero or less
// leaves synthesis bound only to the client connection.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithOutputDir saves a copy of every clone result under dir.
func WithOutputDir(dir string) Option {
	return func(o *options) { o.outputDir = dir }
}

// WithModelPath overrides the model path reported by /health.
func WithModelPath(p string) Option {
	return func(o *options) { o.modelPath = p }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records upload, clone and HTTP metrics and mounts h on
// /metrics when h is non-nil.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(o *options) {
		o.metrics = m
		o.metricsHandler = h
	}
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	svc  VoiceService
	opts options
	sem  chan struct{} // bounds concurrent clone calls
	log  *slog.Logger
}

// NewHandler returns an http.Handler serving /health, /voices,
// /voices/{voice_id}, POST /voices/{voice_id}/upload, POST /clone and,
// with WithMetrics, /metrics.
func NewHandler(svc VoiceService, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		svc:  svc,
		opts: opts,
		log:  opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /voices", h.handleVoices)
	mux.HandleFunc("GET /voices/{voice_id}", h.handleVoice)
	mux.HandleFunc("POST /voices/{voice_id}/upload", h.handleUpload)
	mux.HandleFunc("POST /clone", h.handleClone)
	if opts.metricsHandler != nil {
		mux.Handle("GET /metrics", opts.metricsHandler)
	}

	if opts.metrics == nil {
		return mux
	}
	return observe.Middleware(opts.metrics, opts.logger)(mux)
}

// Version reports the module version from build info, or "dev".
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

type healthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	Backend           string `json:"backend"`
	ModelLoaded       bool   `json:"model_loaded"`
	Accelerator       bool   `json:"accelerator"`
	Device            string `json:"device"`
	VoiceCollections  int    `json:"voice_collections"`
	TotalVoiceSamples int    `json:"total_voice_samples"`
	ModelPath         string `json:"model_path"`
	VoicesDirectory   string `json:"voices_directory"`
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	info := h.svc.ModelInfo()
	collections, samples := h.svc.Stats()

	modelPath := h.opts.modelPath
	if modelPath == "" {
		modelPath = info.Path
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:            "healthy",
		Version:           Version(),
		Backend:           info.Backend,
		ModelLoaded:       true,
		Accelerator:       info.Accelerator,
		Device:            info.Device,
		VoiceCollections:  collections,
		TotalVoiceSamples: samples,
		ModelPath:         modelPath,
		VoicesDirectory:   h.svc.VoicesDir(),
	})
}

type sampleSummary struct {
	Name          string  `json:"name"`
	Transcription string  `json:"transcription"`
	Duration      float64 `json:"duration"`
	Language      string  `json:"language"`
}

type collectionSummary struct {
	TotalSamples    int             `json:"total_samples"`
	AverageDuration float64         `json:"average_duration"`
	CreatedAt       voice.Timestamp `json:"created_at"`
	UpdatedAt       voice.Timestamp `json:"updated_at"`
	Samples         []sampleSummary `json:"samples"`
}

type voicesResponse struct {
	VoiceCollections map[string]collectionSummary `json:"voice_collections"`
	TotalCollections int                          `json:"total_collections"`
	TotalSamples     int                          `json:"total_samples"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (h *handler) handleVoices(w http.ResponseWriter, _ *http.Request) {
	collections := h.svc.Collections()

	resp := voicesResponse{
		VoiceCollections: make(map[string]collectionSummary, len(collections)),
	}
	for id, c := range collections {
		samples := make([]sampleSummary, 0, len(c.Profiles))
		for _, p := range c.Profiles {
			samples = append(samples, sampleSummary{
				Name:          p.Name,
				Transcription: p.Transcription,
				Duration:      round2(p.Duration),
				Language:      p.Language,
			})
		}
		resp.VoiceCollections[id] = collectionSummary{
			TotalSamples:    c.TotalSamples,
			AverageDuration: round2(c.AverageDuration),
			CreatedAt:       c.CreatedAt,
			UpdatedAt:       c.UpdatedAt,
			Samples:         samples,
		}
		resp.TotalSamples += c.TotalSamples
	}
	resp.TotalCollections = len(resp.VoiceCollections)

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("voice_id")

	c, ok := h.svc.Collection(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("voice collection %q not found", id))
		return
	}

	writeJSON(w, http.StatusOK, c)
}

type collectionStats struct {
	TotalSamples    int     `json:"total_samples"`
	AverageDuration float64 `json:"average_duration"`
}

type uploadResponse struct {
	Message         string          `json:"message"`
	Profile         voice.Profile   `json:"profile"`
	CollectionStats collectionStats `json:"collection_stats"`
}

// uploadFields are the accepted multipart field names for the sample file.
var uploadFields = []string{"audio_file", "audio"}

func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	voiceID := r.PathValue("voice_id")

	if h.opts.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.recordUpload(r.Context(), "too_large", start)
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds maximum size of %d bytes", h.opts.maxUploadBytes))
			return
		}
		h.recordUpload(r.Context(), "bad_request", start)
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var (
		file        io.ReadCloser
		filename    string
		contentType string
	)
	for _, field := range uploadFields {
		f, hdr, err := r.FormFile(field)
		if err == nil {
			file, filename, contentType = f, hdr.Filename, hdr.Header.Get("Content-Type")
			break
		}
	}
	if file == nil {
		h.recordUpload(r.Context(), "bad_request", start)
		writeError(w, http.StatusBadRequest, "audio_file field is required")
		return
	}
	defer func() { _ = file.Close() }()

	if !audio.Accepted(filename, contentType) {
		h.recordUpload(r.Context(), string(audio.UnsupportedFormat), start)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file must be an audio file. Supported formats: %s",
			strings.Join(audio.SupportedExtensions(), ", ")))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.recordUpload(r.Context(), "bad_request", start)
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	profile, err := h.svc.UploadSample(r.Context(), tts.UploadRequest{
		VoiceID:       voiceID,
		Audio:         data,
		Filename:      filename,
		ContentType:   contentType,
		Transcription: r.FormValue("transcription"),
		Language:      r.FormValue("language"),
	})
	if err != nil {
		h.writeUploadError(w, r, voiceID, filename, err, start)
		return
	}

	h.recordUpload(r.Context(), "", start)

	stats := collectionStats{}
	if c, ok := h.svc.Collection(voiceID); ok {
		stats = collectionStats{
			TotalSamples:    c.TotalSamples,
			AverageDuration: round2(c.AverageDuration),
		}
	}

	h.log.InfoContext(r.Context(), "sample uploaded",
		slog.String("voice_id", voiceID),
		slog.String("name", profile.Name),
		slog.Float64("duration", profile.Duration),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	writeJSON(w, http.StatusOK, uploadResponse{
		Message:         fmt.Sprintf("Voice sample uploaded successfully to '%s'", voiceID),
		Profile:         profile,
		CollectionStats: stats,
	})
}

func (h *handler) writeUploadError(w http.ResponseWriter, r *http.Request, voiceID, filename string, err error, start time.Time) {
	var verr *audio.ValidationError
	switch {
	case errors.As(err, &verr):
		h.recordUpload(r.Context(), string(verr.Code), start)
		h.log.WarnContext(r.Context(), "sample rejected",
			slog.String("voice_id", voiceID),
			slog.String("filename", filename),
			slog.String("code", string(verr.Code)),
			slog.Float64("duration", verr.Duration),
		)
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, tts.ErrInvalidVoiceID):
		h.recordUpload(r.Context(), "invalid_voice_id", start)
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.recordUpload(r.Context(), "internal", start)
		h.log.ErrorContext(r.Context(), "sample upload failed",
			slog.String("voice_id", voiceID),
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "voice upload failed")
	}
}

func (h *handler) recordUpload(ctx context.Context, reason string, start time.Time) {
	if h.opts.metrics == nil {
		return
	}
	status := observe.StatusOK
	if reason != "" {
		status = observe.StatusError
	}
	h.opts.metrics.RecordUpload(ctx, status, reason, time.Since(start))
}

// parseFormFloat returns def when the field is absent.
func parseFormFloat(r *http.Request, field string, def float64) (float64, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a number", field)
	}
	return v, nil
}

func parseFormInt(r *http.Request, field string, def int) (int, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", field)
	}
	return v, nil
}

// CloneFilename is the attachment name for a clone result:
// cloned_<voice|default>[_<sample>]_<md5(text)[:8]>.wav.
func CloneFilename(text, voiceID, sampleName string) string {
	sum := md5.Sum([]byte(text))

	var b strings.Builder
	b.WriteString("cloned_")
	if voiceID != "" {
		b.WriteString(tts.SanitizeName(voiceID))
	} else {
		b.WriteString("default")
	}
	if sampleName != "" {
		b.WriteString("_")
		b.WriteString(tts.SanitizeName(sampleName))
	}
	b.WriteString("_")
	b.WriteString(hex.EncodeToString(sum[:])[:8])
	b.WriteString(".wav")

	return strings.ReplaceAll(b.String(), " ", "_")
}

func (h *handler) handleClone(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}

	text := r.FormValue("text")
	voiceID := strings.TrimSpace(r.FormValue("voice_id"))
	sampleName := strings.TrimSpace(r.FormValue("sample_name"))

	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "text field is required")
		return
	}
	if h.opts.maxTextBytes > 0 && len(text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return
	}

	if format := strings.ToLower(strings.TrimSpace(r.FormValue("output_format"))); format != "" && format != "wav" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported output_format %q (only wav)", format))
		return
	}

	temperature, err := parseFormFloat(r, "temperature", tts.DefaultTemperature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxTokens, err := parseFormInt(r, "max_tokens", tts.DefaultMaxTokens)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if voiceID != "" {
		if _, ok := h.svc.Collection(voiceID); !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("voice collection %q not found", voiceID))
			return
		}
	}

	// Acquire a worker slot, honouring cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if h.opts.requestTimeout > 0 {
		ctx, cancel = context.WithTimeout(r.Context(), h.opts.requestTimeout)
	} else {
		ctx, cancel = context.WithCancel(r.Context())
	}
	defer cancel()

	start := time.Now()
	samples, err := h.svc.CloneVoice(ctx, tts.CloneRequest{
		Text:        text,
		VoiceID:     voiceID,
		SampleName:  sampleName,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	elapsed := time.Since(start)

	if err != nil {
		h.recordClone(r.Context(), observe.StatusError, voiceID != "", elapsed, 0)
		h.writeCloneError(w, r, voiceID, text, err, elapsed)
		return
	}

	wav, err := audio.EncodeWAV(samples)
	if err != nil {
		h.recordClone(r.Context(), observe.StatusError, voiceID != "", elapsed, 0)
		h.log.ErrorContext(r.Context(), "encode clone result failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "voice cloning failed")
		return
	}

	seconds := float64(len(samples)) / audio.ExpectedSampleRate
	h.recordClone(r.Context(), observe.StatusOK, voiceID != "", elapsed, seconds)

	filename := CloneFilename(text, voiceID, sampleName)
	h.saveOutput(r.Context(), filename, wav)

	h.log.InfoContext(r.Context(), "clone complete",
		slog.String("voice_id", voiceID),
		slog.String("sample_name", sampleName),
		slog.Int("text_len", len(text)),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
		slog.Float64("audio_seconds", seconds),
		slog.Int("wav_bytes", len(wav)),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (h *handler) writeCloneError(w http.ResponseWriter, r *http.Request, voiceID, text string, err error, elapsed time.Duration) {
	switch {
	case errors.Is(err, tts.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("voice collection %q not found", voiceID))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.log.WarnContext(r.Context(), "synthesis timed out",
			slog.String("voice_id", voiceID),
			slog.Int("text_len", len(text)),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusGatewayTimeout, "synthesis timed out")
	default:
		h.log.ErrorContext(r.Context(), "synthesis failed",
			slog.String("voice_id", voiceID),
			slog.Int("text_len", len(text)),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "voice cloning failed")
	}
}

func (h *handler) recordClone(ctx context.Context, status string, conditioned bool, elapsed time.Duration, seconds float64) {
	if h.opts.metrics == nil {
		return
	}
	h.opts.metrics.RecordClone(ctx, status, conditioned, elapsed, seconds)
}

// saveOutput writes a copy of the clone result to the output directory. A
// failure is logged and does not affect the response.
func (h *handler) saveOutput(ctx context.Context, filename string, wav []byte) {
	if h.opts.outputDir == "" {
		return
	}
	if err := os.MkdirAll(h.opts.outputDir, 0o755); err != nil {
		h.log.WarnContext(ctx, "create output dir failed", slog.String("error", err.Error()))
		return
	}
	path := filepath.Join(h.opts.outputDir, filename)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		h.log.WarnContext(ctx, "save clone output failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server: net/http.Server lifecycle
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	svc             VoiceService
	extra           []Option
	shutdownTimeout time.Duration
}

// New returns a server for svc configured from cfg. opts are applied after
// the config-derived options.
func New(cfg config.Config, svc VoiceService, opts ...Option) *Server {
	shutdown := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}

	return &Server{
		cfg:             cfg,
		svc:             svc,
		extra:           opts,
		shutdownTimeout: shutdown,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Handler builds the HTTP handler for the server's configuration.
func (s *Server) Handler() http.Handler {
	handlerOpts := []Option{
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithMaxUploadBytes(s.cfg.Server.MaxUploadBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second),
		WithOutputDir(s.cfg.Paths.OutputDir),
		WithModelPath(s.cfg.Paths.ModelPath),
	}
	handlerOpts = append(handlerOpts, s.extra...)

	return NewHandler(s.svc, handlerOpts...)
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	if s.svc == nil {
		return errors.New("server requires a voice service")
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

// ProbeHTTP checks that a server answers GET /health with 200.
func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
