package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/example/voiceclone/internal/config"
	"github.com/example/voiceclone/internal/voice"
)

const testSubject = "voiceclone.test.uploaded"

// startTestServer starts an in-process NATS server with JetStream enabled.
func startTestServer(t *testing.T) *server.Server {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	return natsServer
}

func subscribe(t *testing.T, url string) *nats.Subscription {
	t.Helper()

	conn, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	sub, err := conn.SubscribeSync(testSubject)
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	return sub
}

func testProfile() voice.Profile {
	return voice.Profile{
		Name:          "saludo",
		AudioPath:     "/data/voices/ana/saludo.wav",
		Transcription: "hola a todos",
		Language:      "es",
		QualityScore:  1,
		Duration:      4.5,
		SampleRate:    24000,
	}
}

func TestConnect_Validation(t *testing.T) {
	_, err := Connect(config.EventsConfig{Subject: testSubject}, nil)
	require.Error(t, err)

	_, err = Connect(config.EventsConfig{NATSURL: "nats://127.0.0.1:1"}, nil)
	require.Error(t, err)
}

func TestPublisher_PublishesEvent(t *testing.T) {
	natsServer := startTestServer(t)
	sub := subscribe(t, natsServer.ClientURL())

	pub, err := Connect(config.EventsConfig{NATSURL: natsServer.ClientURL(), Subject: testSubject}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return fixed }

	err = pub.SampleUploaded(context.Background(), "ana", testProfile(), []byte("RIFF"))
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var ev SampleUploaded
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	require.NotEmpty(t, ev.EventID)
	require.Equal(t, "ana", ev.VoiceID)
	require.Equal(t, "saludo", ev.Name)
	require.Equal(t, "hola a todos", ev.Transcription)
	require.Equal(t, 24000, ev.SampleRate)
	require.InDelta(t, 4.5, ev.Duration, 1e-9)
	require.Empty(t, ev.ObjectName)
	require.True(t, fixed.Equal(ev.Timestamp))
}

func TestPublisher_ArchivesToObjectStore(t *testing.T) {
	natsServer := startTestServer(t)
	sub := subscribe(t, natsServer.ClientURL())

	cfg := config.EventsConfig{NATSURL: natsServer.ClientURL(), Subject: testSubject, Bucket: "samples"}
	pub, err := Connect(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	wav := []byte("RIFF....WAVEfmt fake payload")
	err = pub.SampleUploaded(context.Background(), "ana", testProfile(), wav)
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var ev SampleUploaded
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	require.Equal(t, "ana/saludo.wav", ev.ObjectName)

	conn, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	js, err := conn.JetStream()
	require.NoError(t, err)

	store, err := js.ObjectStore("samples")
	require.NoError(t, err)

	got, err := store.GetBytes(ev.ObjectName)
	require.NoError(t, err)
	require.Equal(t, wav, got)
}

func TestPublisher_ReusesExistingBucket(t *testing.T) {
	natsServer := startTestServer(t)

	cfg := config.EventsConfig{NATSURL: natsServer.ClientURL(), Subject: testSubject, Bucket: "samples"}

	first, err := Connect(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Connect(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestPublisher_CanceledContext(t *testing.T) {
	natsServer := startTestServer(t)

	pub, err := Connect(config.EventsConfig{NATSURL: natsServer.ClientURL(), Subject: testSubject}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, pub.SampleUploaded(ctx, "ana", testProfile(), nil), context.Canceled)
}

func TestObjectName(t *testing.T) {
	require.Equal(t, "bob/take_1.wav", ObjectName("bob", voice.Profile{AudioPath: "voices/bob/take_1.wav"}))
}
