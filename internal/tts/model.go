package tts

import "context"

// Reference is the conditioning sample handed to the model: a transcription
// and its mono waveform.
type Reference struct {
	Transcription string
	Samples       []float32
	SampleRate    int
}

// GenerateRequest is a single synthesis call. Reference is nil for
// unconditioned generation.
type GenerateRequest struct {
	Text        string
	Reference   *Reference
	Temperature float64
	MaxTokens   int
}

// ModelInfo describes the loaded model for health reporting.
type ModelInfo struct {
	Backend     string `json:"backend"`
	Path        string `json:"model_path"`
	Device      string `json:"device"`
	Accelerator bool   `json:"accelerator"`
}

// Model abstracts the generative model so backends (subprocess, remote HTTP,
// test doubles) can be swapped without touching the voice manager.
type Model interface {
	// Load prepares the model; it is called once before any Generate.
	Load(ctx context.Context) error
	Generate(ctx context.Context, req GenerateRequest) (Output, error)
	Info() ModelInfo
	Close() error
}
