// Package testutil provides shared skip helpers and audio fixtures for tests.
//
// Each Require helper calls t.Skip with a clear human-readable reason when the
// named prerequisite is absent, so integration tests remain runnable in
// partial environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    exe := testutil.RequirePocketTTS(t)
//	    ...
//	}
package testutil

import (
	"math"
	"os"
	"os/exec"
	"testing"

	"github.com/example/voiceclone/internal/audio"
)

// RequirePocketTTS skips the test if the pocket-tts binary is not found in
// PATH or the path given by VOICECLONE_MODEL_CLI_PATH, and returns the
// resolved executable otherwise.
func RequirePocketTTS(tb testing.TB) string {
	tb.Helper()

	return requireExecutable(tb, "VOICECLONE_MODEL_CLI_PATH", "pocket-tts")
}

// RequireFFmpeg skips the test if ffmpeg is not found in PATH or the path
// given by VOICECLONE_AUDIO_FFMPEG_PATH, and returns the resolved executable
// otherwise.
func RequireFFmpeg(tb testing.TB) string {
	tb.Helper()

	return requireExecutable(tb, "VOICECLONE_AUDIO_FFMPEG_PATH", "ffmpeg")
}

func requireExecutable(tb testing.TB, env, fallback string) string {
	tb.Helper()

	exe := os.Getenv(env)
	if exe == "" {
		exe = fallback
	}

	path, err := exec.LookPath(exe)
	if err != nil {
		tb.Skipf("%s not available (%q not in PATH); set %s to override", fallback, exe, env)
		return ""
	}

	return path
}

// ToneWAV encodes a 0.5 amplitude sine tone as a 16-bit PCM WAV upload.
func ToneWAV(tb testing.TB, seconds float64, rate, channels int, freq float64) []byte {
	tb.Helper()

	frames := int(seconds * float64(rate))
	samples := make([]float32, frames*channels)
	for i := range frames {
		v := float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		for ch := range channels {
			samples[i*channels+ch] = v
		}
	}

	data, err := audio.EncodeWAVFormat(samples, rate, channels)
	if err != nil {
		tb.Fatalf("EncodeWAVFormat: %v", err)
	}

	return data
}
