package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/example/voiceclone/internal/config"
	"github.com/example/voiceclone/internal/testutil"
	"github.com/example/voiceclone/internal/tts"
	"github.com/example/voiceclone/internal/voice"
)

type recordingPublisher struct {
	voiceIDs []string
	closed   bool
}

func (p *recordingPublisher) SampleUploaded(_ context.Context, voiceID string, _ voice.Profile, _ []byte) error {
	p.voiceIDs = append(p.voiceIDs, voiceID)
	return nil
}

func withFakeEvents(t *testing.T, pub *recordingPublisher, connErr error) {
	t.Helper()

	orig := connectEvents
	connectEvents = func(config.EventsConfig, *slog.Logger) (tts.Publisher, func() error, error) {
		if connErr != nil {
			return nil, nil, connErr
		}
		return pub, func() error { pub.closed = true; return nil }, nil
	}
	t.Cleanup(func() { connectEvents = orig })
}

func TestOpenManager_WiresPublisherWhenNATSConfigured(t *testing.T) {
	fm := withFakeModel(t)
	pub := &recordingPublisher{}
	withFakeEvents(t, pub, nil)

	cfg := config.DefaultConfig()
	cfg.Paths.VoicesDir = t.TempDir()
	cfg.Events.NATSURL = "nats://127.0.0.1:4222"

	mgr, closer, err := openManager(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("openManager: %v", err)
	}

	if _, err := mgr.UploadSample(context.Background(), tts.UploadRequest{
		VoiceID:  "ana",
		Audio:    testutil.ToneWAV(t, 4, 24000, 1, 220),
		Filename: "hola.wav",
	}); err != nil {
		t.Fatalf("UploadSample: %v", err)
	}

	if err := closer(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(pub.voiceIDs) != 1 || pub.voiceIDs[0] != "ana" {
		t.Errorf("published = %v; want [ana]", pub.voiceIDs)
	}
	if !pub.closed || !fm.closed {
		t.Error("closer must release the publisher and the model")
	}
}

func TestOpenManager_EventsFailureClosesModel(t *testing.T) {
	fm := withFakeModel(t)
	withFakeEvents(t, nil, errors.New("no servers available"))

	cfg := config.DefaultConfig()
	cfg.Paths.VoicesDir = t.TempDir()
	cfg.Events.NATSURL = "nats://127.0.0.1:4222"

	if _, _, err := openManager(context.Background(), cfg, slog.Default()); err == nil {
		t.Fatal("want error when NATS is unreachable")
	}
	if !fm.closed {
		t.Error("model must be closed when startup fails")
	}
}

func TestOpenManager_MissingModelPath(t *testing.T) {
	fm := withFakeModel(t)

	cfg := config.DefaultConfig()
	cfg.Paths.VoicesDir = t.TempDir()
	cfg.Paths.ModelPath = "/nonexistent/weights"

	_, _, err := openManager(context.Background(), cfg, slog.Default())
	if !errors.Is(err, tts.ErrModelNotFound) {
		t.Fatalf("err = %v; want ErrModelNotFound", err)
	}
	if !fm.closed {
		t.Error("model must be closed when startup fails")
	}
}
