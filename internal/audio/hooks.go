package audio

// Hook transforms a block of samples. Hooks may modify their input in place.
type Hook func(samples []float32) []float32

// ApplyHooks runs hooks in order, feeding each the previous result.
func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}
