package voice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// MetadataFile is the per-voice metadata document name.
const MetadataFile = "profiles.json"

// ErrMalformed reports a profiles.json that exists but cannot be interpreted.
var ErrMalformed = errors.New("malformed voice metadata")

// Store persists collections as <root>/<voice_id>/profiles.json.
type Store struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore returns a Store rooted at root. A nil logger uses slog.Default.
func NewStore(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{root: root, logger: logger, now: time.Now}
}

// Root returns the voices directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory holding voiceID's samples and metadata.
func (s *Store) Dir(voiceID string) string {
	return filepath.Join(s.root, voiceID)
}

// Load reads the collection for voiceID. It returns nil, nil when the voice
// directory or its metadata file is absent, and also when the metadata is
// malformed; the latter is logged.
func (s *Store) Load(voiceID string) (*Collection, error) {
	path := filepath.Join(s.Dir(voiceID), MetadataFile)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read voice metadata %s: %w", path, err)
	}

	c, err := decodeCollection(voiceID, data, s.now())
	if err != nil {
		s.logger.Warn("ignoring voice metadata",
			slog.String("voice_id", voiceID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	return c, nil
}

// Save writes every profile of c to voiceID's metadata file, creating the
// voice directory when needed. UpdatedAt is refreshed to the current time on
// c before writing. The write is not atomic with respect to concurrent readers.
func (s *Store) Save(voiceID string, c *Collection) error {
	if c == nil {
		return errors.New("save voice metadata: nil collection")
	}

	dir := s.Dir(voiceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create voice directory: %w", err)
	}

	c.VoiceID = voiceID
	c.UpdatedAt = Timestamp{s.now()}
	c.RecomputeStats()
	if c.Profiles == nil {
		c.Profiles = []Profile{}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode voice metadata: %w", err)
	}

	path := filepath.Join(dir, MetadataFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write voice metadata %s: %w", path, err)
	}

	return nil
}

// LoadAll loads every collection under the root, keyed by directory name.
// The root is created if missing. A collection that fails to load is logged
// and skipped.
func (s *Store) LoadAll() (map[string]*Collection, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("create voices directory: %w", err)
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read voices directory: %w", err)
	}

	out := make(map[string]*Collection, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		c, err := s.Load(e.Name())
		if err != nil {
			s.logger.Error("failed to load voice collection",
				slog.String("voice_id", e.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if c == nil {
			continue
		}

		out[e.Name()] = c
		s.logger.Info("loaded voice collection",
			slog.String("voice_id", e.Name()),
			slog.Int("samples", len(c.Profiles)),
		)
	}

	return out, nil
}

// ResolveAudioPath returns the on-disk location of p's audio. Relative paths
// that do not exist as given are looked up inside the voice directory.
func (s *Store) ResolveAudioPath(voiceID string, p Profile) string {
	path := filepath.Clean(p.AudioPath)
	if filepath.IsAbs(path) {
		return path
	}

	if _, err := os.Stat(path); err == nil {
		return path
	}

	return filepath.Join(s.Dir(voiceID), filepath.Base(path))
}

// storedCollection accepts both metadata shapes: the current "profiles" list
// and the legacy single-profile object under "voices".
type storedCollection struct {
	Profiles  []storedProfile `json:"profiles"`
	Voices    json.RawMessage `json:"voices"`
	CreatedAt *Timestamp      `json:"created_at"`
	UpdatedAt *Timestamp      `json:"updated_at"`
}

type storedProfile struct {
	Name          *string    `json:"name"`
	AudioPath     *string    `json:"audio_path"`
	Transcription *string    `json:"transcription"`
	Language      *string    `json:"language"`
	QualityScore  *float64   `json:"quality_score"`
	Duration      *float64   `json:"duration"`
	SampleRate    *int       `json:"sample_rate"`
	CreatedAt     *Timestamp `json:"created_at"`
}

func decodeCollection(voiceID string, data []byte, now time.Time) (*Collection, error) {
	var raw storedCollection
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var stored []storedProfile

	switch legacy := bytes.TrimSpace(raw.Voices); {
	case len(legacy) > 0 && legacy[0] == '{':
		var p storedProfile
		if err := json.Unmarshal(legacy, &p); err != nil {
			return nil, fmt.Errorf("%w: legacy profile: %w", ErrMalformed, err)
		}
		if p.Name == nil {
			p.Name = &voiceID
		}
		stored = []storedProfile{p}
	default:
		stored = raw.Profiles
	}

	c := &Collection{
		VoiceID:   voiceID,
		Profiles:  make([]Profile, 0, len(stored)),
		CreatedAt: timestampOr(raw.CreatedAt, now),
		UpdatedAt: timestampOr(raw.UpdatedAt, now),
	}

	for i, sp := range stored {
		p, err := sp.profile(now)
		if err != nil {
			return nil, fmt.Errorf("%w: profile %d: %w", ErrMalformed, i, err)
		}
		c.Profiles = append(c.Profiles, p)
	}

	c.RecomputeStats()

	return c, nil
}

func (sp storedProfile) profile(now time.Time) (Profile, error) {
	switch {
	case sp.Name == nil:
		return Profile{}, errors.New("missing name")
	case sp.AudioPath == nil:
		return Profile{}, errors.New("missing audio_path")
	case sp.Transcription == nil:
		return Profile{}, errors.New("missing transcription")
	case sp.Duration == nil:
		return Profile{}, errors.New("missing duration")
	case sp.SampleRate == nil:
		return Profile{}, errors.New("missing sample_rate")
	}

	p := Profile{
		Name:          *sp.Name,
		AudioPath:     *sp.AudioPath,
		Transcription: *sp.Transcription,
		Language:      DefaultLanguage,
		QualityScore:  DefaultQualityScore,
		Duration:      *sp.Duration,
		SampleRate:    *sp.SampleRate,
		CreatedAt:     timestampOr(sp.CreatedAt, now),
	}
	if sp.Language != nil {
		p.Language = *sp.Language
	}
	if sp.QualityScore != nil {
		p.QualityScore = *sp.QualityScore
	}

	return p, nil
}

func timestampOr(ts *Timestamp, now time.Time) Timestamp {
	if ts == nil || ts.IsZero() {
		return Timestamp{now}
	}

	return *ts
}
