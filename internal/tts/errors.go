package tts

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a voice id has no collection.
	ErrNotFound = errors.New("voice not found")

	// ErrModelNotFound is returned when the configured model path does not exist.
	ErrModelNotFound = errors.New("model not found")
)

// PersistenceError reports a failed durable write. The in-memory index is
// left as it was before the operation.
type PersistenceError struct {
	VoiceID string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist voice %q: %v", e.VoiceID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SynthesisError reports a failure during generation or post-processing.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return "synthesis failed: " + e.Err.Error()
}

func (e *SynthesisError) Unwrap() error { return e.Err }
