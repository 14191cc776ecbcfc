package audio

import (
	"context"
	"errors"
	"fmt"
)

// Normalization constants.
const (
	MinDuration = 3.0
	MaxDuration = 9.0
	TargetRMS   = 0.1
	FadeMillis  = 10.0
)

// ValidationCode classifies a rejected upload.
type ValidationCode string

const (
	TooShort          ValidationCode = "too_short"
	TooLong           ValidationCode = "too_long"
	UnsupportedFormat ValidationCode = "unsupported_format"
	DecodeFailed      ValidationCode = "decode_failed"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("audio validation failed")

// ValidationError reports user-correctable problems with uploaded audio.
type ValidationError struct {
	Code     ValidationCode
	Duration float64
	Msg      string
}

func newValidationError(code ValidationCode, duration float64, msg string) *ValidationError {
	return &ValidationError{Code: code, Duration: duration, Msg: msg}
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Normalized is canonical mono audio ready for storage.
type Normalized struct {
	Samples    []float32
	SampleRate int
	Duration   float64
}

// Normalizer decodes raw uploads and runs them through the normalization pipeline.
type Normalizer struct {
	Decoder Decoder
}

// Normalize decodes raw bytes and normalizes the result with NormalizeClip.
func (n Normalizer) Normalize(ctx context.Context, raw []byte, format Format) (Normalized, error) {
	clip, err := n.Decoder.Decode(ctx, raw, format)
	if err != nil {
		return Normalized{}, err
	}

	return NormalizeClip(clip)
}

// NormalizeClip validates the clip duration, then downmixes, resamples to
// 24 kHz, RMS-normalizes to TargetRMS and applies 10 ms fades. The input
// clip is not modified.
func NormalizeClip(clip Clip) (Normalized, error) {
	if clip.SampleRate < 1 || clip.Channels < 1 {
		return Normalized{}, newValidationError(DecodeFailed, 0,
			fmt.Sprintf("invalid audio stream (rate=%d channels=%d)", clip.SampleRate, clip.Channels))
	}

	duration := clip.Duration()
	switch {
	case duration < MinDuration:
		return Normalized{}, newValidationError(TooShort, duration,
			fmt.Sprintf("audio too short: %.2fs, minimum is %.1fs", duration, MinDuration))
	case duration > MaxDuration:
		return Normalized{}, newValidationError(TooLong, duration,
			fmt.Sprintf("audio too long: %.2fs, maximum is %.1fs", duration, MaxDuration))
	}

	var mono []float32
	if clip.Channels > 1 {
		mono = Downmix(clip.Samples, clip.Channels)
	} else {
		mono = append([]float32(nil), clip.Samples[:clip.Frames()]...)
	}

	mono = Resample(mono, clip.SampleRate, ExpectedSampleRate)
	mono = RMSNormalize(mono, TargetRMS)

	if len(mono) > 2*FadeSamples(ExpectedSampleRate, FadeMillis) {
		mono = ApplyHooks(mono,
			func(s []float32) []float32 { return FadeIn(s, ExpectedSampleRate, FadeMillis) },
			func(s []float32) []float32 { return FadeOut(s, ExpectedSampleRate, FadeMillis) },
		)
	}

	return Normalized{
		Samples:    mono,
		SampleRate: ExpectedSampleRate,
		Duration:   float64(len(mono)) / ExpectedSampleRate,
	}, nil
}
