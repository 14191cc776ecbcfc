package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/voiceclone/internal/config"
)

func TestDoctorConfig_PocketBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.VoicesDir = t.TempDir()

	dcfg := doctorConfig(cfg)

	if dcfg.SkipPocketTTS || dcfg.SkipPython {
		t.Error("pocket-tts backend must check the CLI and Python")
	}
	if dcfg.RemoteHealth != nil {
		t.Error("pocket-tts backend must not probe a remote model")
	}
	if dcfg.FFmpegVersion == nil {
		t.Error("ffmpeg check expected with the default ffmpeg path")
	}
	if dcfg.VoicesDir != cfg.Paths.VoicesDir {
		t.Errorf("VoicesDir = %q", dcfg.VoicesDir)
	}
}

func TestDoctorConfig_RemoteBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","device":"cuda","accelerator":true}`))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Model.Backend = config.BackendHTTP
	cfg.Model.URL = srv.URL
	cfg.Audio.FFmpegPath = ""

	dcfg := doctorConfig(cfg)

	if !dcfg.SkipPocketTTS || !dcfg.SkipPython {
		t.Error("http backend must skip local runtime checks")
	}
	if dcfg.FFmpegVersion != nil {
		t.Error("empty ffmpeg path must skip the ffmpeg check")
	}
	if dcfg.RemoteHealth == nil {
		t.Fatal("http backend must probe the remote model")
	}

	status, err := dcfg.RemoteHealth()
	if err != nil {
		t.Fatalf("RemoteHealth: %v", err)
	}
	if !strings.Contains(status, "cuda") {
		t.Errorf("status = %q; want device", status)
	}
}

func TestProbeVersion_MissingExecutable(t *testing.T) {
	if _, err := probeVersion("/nonexistent/ffmpeg", "-version"); err == nil {
		t.Fatal("want error for missing executable")
	}
}
