package testutil_test

import (
	"testing"

	"github.com/example/voiceclone/internal/audio"
	"github.com/example/voiceclone/internal/testutil"
)

func TestRequirePocketTTS_SkipsWhenAbsent(t *testing.T) {
	t.Setenv("VOICECLONE_MODEL_CLI_PATH", "/nonexistent/pocket-tts-binary")

	skipped := false
	fakeT := &skipTracker{TB: t, onSkip: func() { skipped = true }}
	if got := testutil.RequirePocketTTS(fakeT); got != "" {
		t.Errorf("RequirePocketTTS = %q; want empty path when skipped", got)
	}
	if !skipped {
		t.Error("expected RequirePocketTTS to skip when binary is absent")
	}
}

func TestRequireFFmpeg_SkipsWhenAbsent(t *testing.T) {
	t.Setenv("VOICECLONE_AUDIO_FFMPEG_PATH", "/nonexistent/ffmpeg")

	skipped := false
	fakeT := &skipTracker{TB: t, onSkip: func() { skipped = true }}
	testutil.RequireFFmpeg(fakeT)
	if !skipped {
		t.Error("expected RequireFFmpeg to skip when binary is absent")
	}
}

func TestToneWAV_IsCanonical(t *testing.T) {
	data := testutil.ToneWAV(t, 0.5, audio.ExpectedSampleRate, 1, 440)

	testutil.AssertValidWAV(t, data)
	testutil.AssertWAVDurationApprox(t, data, 0.49, 0.51)
}

func TestToneWAV_Stereo(t *testing.T) {
	data := testutil.ToneWAV(t, 1, 44100, 2, 440)

	testutil.AssertWAVFormat(t, data, 44100, 2)
	testutil.AssertWAVDurationApprox(t, data, 0.99, 1.01)

	clip, err := audio.Decoder{}.Decode(t.Context(), data, audio.FormatWAV)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.SampleRate != 44100 || clip.Channels != 2 || clip.Frames() != 44100 {
		t.Errorf("clip = %d Hz, %d ch, %d frames", clip.SampleRate, clip.Channels, clip.Frames())
	}
}

// skipTracker is a minimal testing.TB implementation that intercepts Skip calls.
type skipTracker struct {
	testing.TB
	onSkip func()
}

func (s *skipTracker) Helper() {}

func (s *skipTracker) Skipf(_ string, _ ...any) {
	s.onSkip()
	// Do NOT call s.TB.Skip, that would actually skip the outer test.
}
