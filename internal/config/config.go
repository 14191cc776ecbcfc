package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Paths    PathsConfig   `mapstructure:"paths"`
	Server   ServerConfig  `mapstructure:"server"`
	Model    ModelConfig   `mapstructure:"model"`
	Audio    AudioConfig   `mapstructure:"audio"`
	Events   EventsConfig  `mapstructure:"events"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

type PathsConfig struct {
	// ModelPath must exist when set; backends that fetch their own weights
	// leave it empty.
	ModelPath string `mapstructure:"model_path"`
	VoicesDir string `mapstructure:"voices_dir"`
	// OutputDir receives a copy of every clone result when set.
	OutputDir string `mapstructure:"output_dir"`
	TempDir   string `mapstructure:"temp_dir"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	MaxUploadBytes  int64  `mapstructure:"max_upload_bytes"`
}

type ModelConfig struct {
	Backend       string `mapstructure:"backend"`
	CLIPath       string `mapstructure:"cli_path"`
	CLIConfigPath string `mapstructure:"cli_config_path"`
	Quiet         bool   `mapstructure:"quiet"`
	CacheDir      string `mapstructure:"cache_dir"`
	URL           string `mapstructure:"url"`
	Timeout       int    `mapstructure:"timeout"`
}

type AudioConfig struct {
	FFmpegPath string `mapstructure:"ffmpeg_path"`
}

type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
	// Bucket names a JetStream object store that receives a copy of every
	// stored sample. Empty disables archiving.
	Bucket string `mapstructure:"bucket"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	// EnvFile is loaded into the process environment before variables are
	// read. Empty tries ./.env and ignores its absence.
	EnvFile  string
	Defaults Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Paths: PathsConfig{
			ModelPath: "",
			VoicesDir: "voices",
			OutputDir: "",
			TempDir:   "",
		},
		Server: ServerConfig{
			ListenAddr:      ":7860",
			Workers:         2,
			ShutdownTimeout: 30,
			RequestTimeout:  120,
			MaxTextBytes:    4096,
			MaxUploadBytes:  25 << 20,
		},
		Model: ModelConfig{
			Backend:       BackendPocket,
			CLIPath:       "",
			CLIConfigPath: "",
			Quiet:         true,
			CacheDir:      "",
			URL:           "",
			Timeout:       120,
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
		},
		Events: EventsConfig{
			NATSURL: "",
			Subject: "voiceclone.samples.uploaded",
			Bucket:  "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// flagKeys maps config keys to their command-line flag names.
var flagKeys = []struct{ key, flag string }{
	{"log_level", "log-level"},
	{"paths.model_path", "paths-model-path"},
	{"paths.voices_dir", "paths-voices-dir"},
	{"paths.output_dir", "paths-output-dir"},
	{"paths.temp_dir", "paths-temp-dir"},
	{"server.listen_addr", "server-listen-addr"},
	{"server.workers", "workers"},
	{"server.shutdown_timeout", "server-shutdown-timeout"},
	{"server.request_timeout", "server-request-timeout"},
	{"server.max_text_bytes", "server-max-text-bytes"},
	{"server.max_upload_bytes", "server-max-upload-bytes"},
	{"model.backend", "backend"},
	{"model.cli_path", "model-cli-path"},
	{"model.cli_config_path", "model-cli-config-path"},
	{"model.quiet", "model-quiet"},
	{"model.cache_dir", "model-cache-dir"},
	{"model.url", "model-url"},
	{"model.timeout", "model-timeout"},
	{"audio.ffmpeg_path", "audio-ffmpeg-path"},
	{"events.nats_url", "events-nats-url"},
	{"events.subject", "events-subject"},
	{"events.bucket", "events-bucket"},
	{"metrics.enabled", "metrics-enabled"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("paths-model-path", defaults.Paths.ModelPath, "Model path that must exist before startup (optional)")
	fs.String("paths-voices-dir", defaults.Paths.VoicesDir, "Directory holding one sub-directory per voice collection")
	fs.String("paths-output-dir", defaults.Paths.OutputDir, "Directory receiving a copy of every cloned clip (optional)")
	fs.String("paths-temp-dir", defaults.Paths.TempDir, "Directory for transcoder scratch files (default: system temp)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent clone requests")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request synthesis deadline in seconds (0 disables)")
	fs.Int("server-max-text-bytes", defaults.Server.MaxTextBytes, "Maximum clone text size in bytes (0 disables)")
	fs.Int64("server-max-upload-bytes", defaults.Server.MaxUploadBytes, "Maximum upload request size in bytes")
	fs.String("backend", defaults.Model.Backend, "Model backend (pocket-tts|http)")
	fs.String("model-cli-path", defaults.Model.CLIPath, "Path to pocket-tts executable")
	fs.String("model-cli-config-path", defaults.Model.CLIConfigPath, "Path to pocket-tts config file")
	fs.Bool("model-quiet", defaults.Model.Quiet, "Pass --quiet to pocket-tts")
	fs.String("model-cache-dir", defaults.Model.CacheDir, "Directory for exported voice embeddings (default: temporary)")
	fs.String("model-url", defaults.Model.URL, "Base URL of the model server (http backend)")
	fs.Int("model-timeout", defaults.Model.Timeout, "Model server request timeout in seconds (http backend)")
	fs.String("audio-ffmpeg-path", defaults.Audio.FFmpegPath, "ffmpeg executable used for M4A and fallback decoding (empty disables)")
	fs.String("events-nats-url", defaults.Events.NATSURL, "NATS server URL for upload events (empty disables)")
	fs.String("events-subject", defaults.Events.Subject, "NATS subject for upload events")
	fs.String("events-bucket", defaults.Events.Bucket, "JetStream object store bucket archiving stored samples (optional)")
	fs.Bool("metrics-enabled", defaults.Metrics.Enabled, "Expose Prometheus metrics on /metrics")
}

func Load(opts LoadOptions) (Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return Config{}, err
	}

	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("VOICECLONE")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("events.nats_url", "VOICECLONE_EVENTS_NATS_URL", "NATS_URL"); err != nil {
		return Config{}, fmt.Errorf("bind nats env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("voiceclone")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	backend, err := NormalizeBackend(cfg.Model.Backend)
	if err != nil {
		return Config{}, err
	}
	cfg.Model.Backend = backend

	return cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		_ = godotenv.Load()
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}

	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("paths.model_path", c.Paths.ModelPath)
	v.SetDefault("paths.voices_dir", c.Paths.VoicesDir)
	v.SetDefault("paths.output_dir", c.Paths.OutputDir)
	v.SetDefault("paths.temp_dir", c.Paths.TempDir)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.max_upload_bytes", c.Server.MaxUploadBytes)
	v.SetDefault("model.backend", c.Model.Backend)
	v.SetDefault("model.cli_path", c.Model.CLIPath)
	v.SetDefault("model.cli_config_path", c.Model.CLIConfigPath)
	v.SetDefault("model.quiet", c.Model.Quiet)
	v.SetDefault("model.cache_dir", c.Model.CacheDir)
	v.SetDefault("model.url", c.Model.URL)
	v.SetDefault("model.timeout", c.Model.Timeout)
	v.SetDefault("audio.ffmpeg_path", c.Audio.FFmpegPath)
	v.SetDefault("events.nats_url", c.Events.NATSURL)
	v.SetDefault("events.subject", c.Events.Subject)
	v.SetDefault("events.bucket", c.Events.Bucket)
	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
}

// bindFlags binds each registered flag to its nested key. Only flags the user
// actually set override config file and environment values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", fk.flag, err)
		}
	}

	return nil
}
