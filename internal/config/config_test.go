package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their defaults.
func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Paths.ModelPath != "" {
		t.Errorf("ModelPath = %q; want empty", cfg.Paths.ModelPath)
	}

	if cfg.Paths.VoicesDir != "voices" {
		t.Errorf("VoicesDir = %q; want %q", cfg.Paths.VoicesDir, "voices")
	}

	if cfg.Server.ListenAddr != ":7860" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":7860")
	}

	if cfg.Server.Workers != 2 {
		t.Errorf("Server.Workers = %d; want 2", cfg.Server.Workers)
	}

	if cfg.Server.MaxUploadBytes != 25<<20 {
		t.Errorf("Server.MaxUploadBytes = %d; want %d", cfg.Server.MaxUploadBytes, 25<<20)
	}

	if cfg.Model.Backend != BackendPocket {
		t.Errorf("Model.Backend = %q; want %q", cfg.Model.Backend, BackendPocket)
	}

	if !cfg.Model.Quiet {
		t.Error("Model.Quiet = false; want true")
	}

	if cfg.Audio.FFmpegPath != "ffmpeg" {
		t.Errorf("Audio.FFmpegPath = %q; want %q", cfg.Audio.FFmpegPath, "ffmpeg")
	}

	if cfg.Events.NATSURL != "" {
		t.Errorf("Events.NATSURL = %q; want empty", cfg.Events.NATSURL)
	}

	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false; want true")
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}
}

// --- NormalizeBackend ---

func TestNormalizeBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: BackendPocket},
		{in: "pocket-tts", want: BackendPocket},
		{in: " Pocket-TTS ", want: BackendPocket},
		{in: "pocket", want: BackendPocket},
		{in: "cli", want: BackendPocket},
		{in: "http", want: BackendHTTP},
		{in: "remote", want: BackendHTTP},
		{in: "onnx", wantErr: true},
	}

	for _, tt := range tests {
		got, err := NormalizeBackend(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeBackend(%q) = %q; want error", tt.in, got)
			}

			continue
		}

		if err != nil {
			t.Errorf("NormalizeBackend(%q) error = %v", tt.in, err)
			continue
		}

		if got != tt.want {
			t.Errorf("NormalizeBackend(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	cases := []struct {
		flag string
		want string
	}{
		{"log-level", "info"},
		{"paths-voices-dir", "voices"},
		{"server-listen-addr", ":7860"},
		{"workers", "2"},
		{"backend", BackendPocket},
		{"model-quiet", "true"},
		{"audio-ffmpeg-path", "ffmpeg"},
		{"events-subject", "voiceclone.samples.uploaded"},
		{"metrics-enabled", "true"},
	}

	for _, c := range cases {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

func TestRegisterFlags_CoversEveryKey(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	for _, fk := range flagKeys {
		if fs.Lookup(fk.flag) == nil {
			t.Errorf("flag %q for key %q not registered", fk.flag, fk.key)
		}
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)

	cfg, err := Load(LoadOptions{
		Cmd:      binder,
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg != defaults {
		t.Errorf("Load() = %+v; want defaults %+v", cfg, defaults)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	err := fs.Parse([]string{
		"--backend=remote",
		"--model-url=http://127.0.0.1:9000",
		"--workers=8",
		"--log-level=debug",
		"--paths-voices-dir=/srv/voices",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      &fakeBinder{fs: fs},
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Model.Backend != BackendHTTP {
		t.Errorf("Model.Backend = %q; want %q", cfg.Model.Backend, BackendHTTP)
	}

	if cfg.Model.URL != "http://127.0.0.1:9000" {
		t.Errorf("Model.URL = %q", cfg.Model.URL)
	}

	if cfg.Server.Workers != 8 {
		t.Errorf("Server.Workers = %d; want 8", cfg.Server.Workers)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}

	if cfg.Paths.VoicesDir != "/srv/voices" {
		t.Errorf("Paths.VoicesDir = %q; want %q", cfg.Paths.VoicesDir, "/srv/voices")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("VOICECLONE_LOG_LEVEL", "warn")
	t.Setenv("VOICECLONE_SERVER_LISTEN_ADDR", ":9999")
	t.Setenv("VOICECLONE_SERVER_MAX_UPLOAD_BYTES", "1024")

	cfg, err := Load(LoadOptions{
		Defaults: DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":9999")
	}

	if cfg.Server.MaxUploadBytes != 1024 {
		t.Errorf("Server.MaxUploadBytes = %d; want 1024", cfg.Server.MaxUploadBytes)
	}
}

func TestLoad_NATSURLFallbackEnv(t *testing.T) {
	t.Setenv("VOICECLONE_EVENTS_NATS_URL", "")
	t.Setenv("NATS_URL", "nats://127.0.0.1:4222")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Events.NATSURL != "nats://127.0.0.1:4222" {
		t.Errorf("Events.NATSURL = %q; want NATS_URL value", cfg.Events.NATSURL)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	const key = "VOICECLONE_EVENTS_SUBJECT"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s already set", key)
	}
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	envFile := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(envFile, []byte(key+"=voices.events\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(LoadOptions{
		EnvFile:  envFile,
		Defaults: DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Events.Subject != "voices.events" {
		t.Errorf("Events.Subject = %q; want %q", cfg.Events.Subject, "voices.events")
	}
}

func TestLoad_MissingEnvFile(t *testing.T) {
	_, err := Load(LoadOptions{
		EnvFile:  filepath.Join(t.TempDir(), "missing.env"),
		Defaults: DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit env file")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "voiceclone.yaml")

	content := `
log_level: error
paths:
  voices_dir: /data/voices
server:
  workers: 16
  listen_addr: ":7777"
model:
  backend: http
  url: http://model:8000
events:
  nats_url: nats://bus:4222
  bucket: samples
`

	err := os.WriteFile(cfgFile, []byte(content), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        newFlagBinder(defaults),
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}

	if cfg.Paths.VoicesDir != "/data/voices" {
		t.Errorf("Paths.VoicesDir = %q; want %q", cfg.Paths.VoicesDir, "/data/voices")
	}

	if cfg.Server.Workers != 16 {
		t.Errorf("Server.Workers = %d; want 16", cfg.Server.Workers)
	}

	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":7777")
	}

	if cfg.Model.Backend != BackendHTTP {
		t.Errorf("Model.Backend = %q; want %q", cfg.Model.Backend, BackendHTTP)
	}

	if cfg.Events.Bucket != "samples" {
		t.Errorf("Events.Bucket = %q; want %q", cfg.Events.Bucket, "samples")
	}

	// Unset flags keep their file values; an explicitly set flag wins.
	if cfg.Server.MaxTextBytes != defaults.Server.MaxTextBytes {
		t.Errorf("Server.MaxTextBytes = %d; want default", cfg.Server.MaxTextBytes)
	}
}

func TestLoad_FlagBeatsConfigFile(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "voiceclone.yaml")
	if err := os.WriteFile(cfgFile, []byte("server:\n  workers: 16\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)
	if err := binder.fs.Parse([]string{"--workers=3"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:        binder,
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Workers != 3 {
		t.Errorf("Server.Workers = %d; want 3", cfg.Server.Workers)
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Setenv("VOICECLONE_MODEL_BACKEND", "onnx")

	_, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err == nil {
		t.Error("Load() = nil; want error for unknown backend")
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")
	// Write invalid YAML
	err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/voiceclone.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}

func TestLoad_NilCmd(t *testing.T) {
	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Model.Backend != BackendPocket {
		t.Errorf("Model.Backend = %q; want %q", cfg.Model.Backend, BackendPocket)
	}
}
