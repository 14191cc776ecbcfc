// Package voice holds the voice collection data model and its on-disk store.
package voice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultLanguage is applied to samples uploaded or loaded without a language.
const DefaultLanguage = "es"

// DefaultQualityScore is stored on every new profile.
const DefaultQualityScore = 1.0

// Profile is one stored reference sample. Profiles are immutable once created.
type Profile struct {
	Name          string    `json:"name"`
	AudioPath     string    `json:"audio_path"`
	Transcription string    `json:"transcription"`
	Language      string    `json:"language"`
	QualityScore  float64   `json:"quality_score"`
	Duration      float64   `json:"duration"`
	SampleRate    int       `json:"sample_rate"`
	CreatedAt     Timestamp `json:"created_at"`
}

// Collection is the set of samples recorded for one speaker.
type Collection struct {
	VoiceID         string    `json:"voice_id"`
	Profiles        []Profile `json:"profiles"`
	TotalSamples    int       `json:"total_samples"`
	AverageDuration float64   `json:"average_duration"`
	CreatedAt       Timestamp `json:"created_at"`
	UpdatedAt       Timestamp `json:"updated_at"`
}

// NewCollection returns an empty collection stamped with now.
func NewCollection(voiceID string, now time.Time) *Collection {
	return &Collection{
		VoiceID:   voiceID,
		Profiles:  []Profile{},
		CreatedAt: Timestamp{now},
		UpdatedAt: Timestamp{now},
	}
}

// Clone returns a deep copy of c. The profile slice is never shared.
func (c *Collection) Clone() *Collection {
	if c == nil {
		return nil
	}

	out := *c
	out.Profiles = append(make([]Profile, 0, len(c.Profiles)+1), c.Profiles...)

	return &out
}

// WithProfile returns a copy of c with p appended, stats recomputed and
// UpdatedAt set to now. c itself is left untouched.
func (c *Collection) WithProfile(p Profile, now time.Time) *Collection {
	out := c.Clone()
	out.Profiles = append(out.Profiles, p)
	out.UpdatedAt = Timestamp{now}
	out.RecomputeStats()

	return out
}

// RecomputeStats derives TotalSamples and AverageDuration from Profiles.
func (c *Collection) RecomputeStats() {
	c.TotalSamples = len(c.Profiles)
	if c.TotalSamples == 0 {
		c.AverageDuration = 0
		return
	}

	var sum float64
	for _, p := range c.Profiles {
		sum += p.Duration
	}

	c.AverageDuration = sum / float64(c.TotalSamples)
}

// Profile returns the first profile whose Name equals name.
func (c *Collection) Profile(name string) (Profile, bool) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, true
		}
	}

	return Profile{}, false
}

// Timestamp is a time.Time that reads both RFC 3339 and the zone-less
// ISO-8601 form found in older profiles.json files.
type Timestamp struct {
	time.Time
}

// isoLocal is Python's datetime.isoformat() for naive datetimes.
const isoLocal = "2006-01-02T15:04:05.999999999"

// ParseTimestamp parses s as RFC 3339 or as zone-less ISO-8601 in local time.
func ParseTimestamp(s string) (Timestamp, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{t}, nil
	}

	t, err := time.ParseInLocation(isoLocal, s, time.Local)
	if err != nil {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}

	return Timestamp{t}, nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}
