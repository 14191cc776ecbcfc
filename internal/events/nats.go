// Package events publishes voice sample notifications over NATS.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/example/voiceclone/internal/config"
	"github.com/example/voiceclone/internal/voice"
)

// SampleUploaded is the JSON payload published after a sample is stored.
type SampleUploaded struct {
	EventID       string    `json:"event_id"`
	VoiceID       string    `json:"voice_id"`
	Name          string    `json:"name"`
	AudioPath     string    `json:"audio_path"`
	Transcription string    `json:"transcription"`
	Language      string    `json:"language"`
	Duration      float64   `json:"duration"`
	SampleRate    int       `json:"sample_rate"`
	ObjectName    string    `json:"object_name,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publisher sends SampleUploaded events and optionally archives the stored
// WAV into a JetStream object store.
type Publisher struct {
	conn    *nats.Conn
	subject string
	bucket  string
	store   nats.ObjectStore
	log     *slog.Logger
	now     func() time.Time
}

// Connect dials cfg.NATSURL and, when cfg.Bucket is set, binds the archive
// bucket, creating it if needed.
func Connect(cfg config.EventsConfig, logger *slog.Logger) (*Publisher, error) {
	if cfg.NATSURL == "" {
		return nil, errors.New("nats url must not be empty")
	}
	if cfg.Subject == "" {
		return nil, errors.New("event subject must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.NATSURL, nats.Name("voiceclone"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.NATSURL, err)
	}

	p, err := newPublisher(conn, cfg.Subject, cfg.Bucket, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("event publisher connected",
		slog.String("url", conn.ConnectedUrlRedacted()),
		slog.String("subject", cfg.Subject),
		slog.String("bucket", cfg.Bucket),
	)

	return p, nil
}

func newPublisher(conn *nats.Conn, subject, bucket string, logger *slog.Logger) (*Publisher, error) {
	p := &Publisher{
		conn:    conn,
		subject: subject,
		bucket:  bucket,
		log:     logger,
		now:     time.Now,
	}

	if bucket == "" {
		return p, nil
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("open jetstream: %w", err)
	}

	store, err := openBucket(js, bucket)
	if err != nil {
		return nil, err
	}
	p.store = store

	return p, nil
}

func openBucket(js nats.JetStreamContext, bucket string) (nats.ObjectStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Reference samples stored by voiceclone.",
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err == nil {
		return store, nil
	}

	if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("create object store bucket %q: %w", bucket, err)
	}

	store, err = js.ObjectStore(bucket)
	if err != nil {
		return nil, fmt.Errorf("bind object store bucket %q: %w", bucket, err)
	}

	return store, nil
}

// ObjectName is the archive key for a stored sample.
func ObjectName(voiceID string, p voice.Profile) string {
	return path.Join(voiceID, filepath.Base(p.AudioPath))
}

// SampleUploaded archives wav when a bucket is configured and publishes the
// event. The archive is attempted first so the event can name the object.
func (p *Publisher) SampleUploaded(ctx context.Context, voiceID string, profile voice.Profile, wav []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ev := SampleUploaded{
		EventID:       uuid.NewString(),
		VoiceID:       voiceID,
		Name:          profile.Name,
		AudioPath:     profile.AudioPath,
		Transcription: profile.Transcription,
		Language:      profile.Language,
		Duration:      profile.Duration,
		SampleRate:    profile.SampleRate,
		Timestamp:     p.now().UTC(),
	}

	var archiveErr error
	if p.store != nil && len(wav) > 0 {
		name := ObjectName(voiceID, profile)
		_, err := p.store.Put(&nats.ObjectMeta{
			Name:        name,
			Description: profile.Transcription,
			Metadata: map[string]string{
				"voice_id": voiceID,
				"language": profile.Language,
			},
		}, bytes.NewReader(wav))
		if err != nil {
			archiveErr = fmt.Errorf("put object %q to bucket %q: %w", name, p.bucket, err)
		} else {
			ev.ObjectName = name
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Join(archiveErr, fmt.Errorf("encode event: %w", err))
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return errors.Join(archiveErr, fmt.Errorf("publish to %s: %w", p.subject, err))
	}

	p.log.Debug("published sample event",
		slog.String("event_id", ev.EventID),
		slog.String("voice_id", voiceID),
		slog.String("object", ev.ObjectName),
	)

	return archiveErr
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}

	err := p.conn.Drain()
	if err != nil {
		p.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}

	return nil
}
