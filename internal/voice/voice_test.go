package voice

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestCollectionWithProfile(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	base := NewCollection("fran", start)

	durations := []float64{3.0, 4.5, 9.0}
	c := base
	for i, d := range durations {
		c = c.WithProfile(Profile{Name: "s", Duration: d}, start.Add(time.Duration(i+1)*time.Minute))
	}

	if c.TotalSamples != len(durations) || len(c.Profiles) != len(durations) {
		t.Fatalf("TotalSamples = %d, len(Profiles) = %d, want %d", c.TotalSamples, len(c.Profiles), len(durations))
	}
	if math.Abs(c.AverageDuration-5.5) > 1e-9 {
		t.Errorf("AverageDuration = %f, want 5.5", c.AverageDuration)
	}
	if !c.UpdatedAt.Equal(start.Add(3 * time.Minute)) {
		t.Errorf("UpdatedAt = %v, want last mutation time", c.UpdatedAt)
	}
	if !c.CreatedAt.Equal(start) {
		t.Errorf("CreatedAt = %v, want %v", c.CreatedAt, start)
	}
	if len(base.Profiles) != 0 || base.TotalSamples != 0 {
		t.Error("WithProfile modified the receiver")
	}
}

func TestCollectionClone_DoesNotShareProfiles(t *testing.T) {
	c := NewCollection("v", time.Now()).WithProfile(Profile{Name: "a"}, time.Now())
	cp := c.Clone()
	cp.Profiles[0].Name = "changed"

	if c.Profiles[0].Name != "a" {
		t.Error("Clone shares the profile backing array")
	}
	if (*Collection)(nil).Clone() != nil {
		t.Error("nil Clone should be nil")
	}
}

func TestCollectionProfile_FirstMatch(t *testing.T) {
	c := &Collection{Profiles: []Profile{
		{Name: "hola", AudioPath: "first.wav"},
		{Name: "adios", AudioPath: "second.wav"},
		{Name: "hola", AudioPath: "third.wav"},
	}}

	p, ok := c.Profile("hola")
	if !ok || p.AudioPath != "first.wav" {
		t.Errorf("Profile(hola) = %+v, %v; want first.wav", p, ok)
	}
	if _, ok := c.Profile("missing"); ok {
		t.Error("Profile(missing) found a match")
	}
}

func TestTimestamp_JSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339 nano", `"2025-03-01T10:20:30.123456789Z"`, time.Date(2025, 3, 1, 10, 20, 30, 123456789, time.UTC)},
		{"python isoformat", `"2025-03-01T10:20:30.123456"`, time.Date(2025, 3, 1, 10, 20, 30, 123456000, time.Local)},
		{"python isoformat no fraction", `"2025-03-01T10:20:30"`, time.Date(2025, 3, 1, 10, 20, 30, 0, time.Local)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.in), &ts); err != nil {
				t.Fatalf("Unmarshal error = %v", err)
			}
			if !ts.Equal(tt.want) {
				t.Errorf("got %v, want %v", ts.Time, tt.want)
			}
		})
	}

	t.Run("rejects garbage", func(t *testing.T) {
		var ts Timestamp
		if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
			t.Error("Unmarshal(yesterday) = nil; want error")
		}
	})

	t.Run("writes rfc3339", func(t *testing.T) {
		ts := Timestamp{time.Date(2025, 3, 1, 10, 20, 30, 5, time.UTC)}
		data, err := json.Marshal(ts)
		if err != nil {
			t.Fatalf("Marshal error = %v", err)
		}
		if string(data) != `"2025-03-01T10:20:30.000000005Z"` {
			t.Errorf("Marshal = %s", data)
		}
	})
}
