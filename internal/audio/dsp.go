package audio

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/resample"
)

// Downmix averages interleaved channels into a mono signal.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}

	return out
}

// Resample converts mono samples from srcRate to dstRate with a
// Kaiser-windowed polyphase FIR, so content above the target Nyquist is
// attenuated instead of folding back. The output holds
// floor(len*dstRate/srcRate) samples and is aligned with the input: the
// filter's group delay is removed.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	r, err := resample.NewForRates(float64(srcRate), float64(dstRate))
	if err != nil {
		return samples
	}

	up, down := r.Ratio()
	// Linear-phase prototype of TapsPerPhase*up taps centred on its midpoint.
	centre := float64(r.TapsPerPhase()*up-1) / 2
	delay := int(math.Round(centre / float64(down)))
	tail := int(math.Ceil(centre/float64(up))) + 1

	in := make([]float64, len(samples)+tail)
	for i, s := range samples {
		in[i] = float64(s)
	}

	filtered := r.Process(in)
	if delay < len(filtered) {
		filtered = filtered[delay:]
	} else {
		filtered = nil
	}

	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	out := make([]float32, n)
	for i := range min(n, len(filtered)) {
		out[i] = float32(filtered[i])
	}

	return out
}

// RMS returns the root-mean-square amplitude of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// RMSNormalize scales samples in place so their RMS equals target. Silent
// input is returned untouched.
func RMSNormalize(samples []float32, target float64) []float32 {
	rms := RMS(samples)
	if rms == 0 {
		return samples
	}

	gain := float32(target / rms)
	for i := range samples {
		samples[i] *= gain
	}

	return samples
}

// Peak returns the maximum absolute amplitude.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}

	return peak
}

// LimitPeak rescales samples in place by 1/peak when the peak exceeds 1.0.
// Signals already within [-1, 1] are left alone; quiet output is never amplified.
func LimitPeak(samples []float32) []float32 {
	peak := Peak(samples)
	if peak <= 1.0 {
		return samples
	}

	for i := range samples {
		samples[i] /= peak
	}

	return samples
}

// FadeSamples returns the number of samples covered by a fade of ms milliseconds.
func FadeSamples(sampleRate int, ms float64) int {
	return int(ms / 1000.0 * float64(sampleRate))
}

// FadeIn applies a linear fade-in ramp over the given duration in milliseconds.
// The ramp runs from 0 to 1 inclusive.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := min(FadeSamples(sampleRate, ms), len(samples))
	if n < 2 {
		return samples
	}

	for i := range n {
		samples[i] *= float32(i) / float32(n-1)
	}

	return samples
}

// FadeOut applies a linear fade-out ramp over the given duration in milliseconds.
// The ramp runs from 1 to 0 inclusive.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := min(FadeSamples(sampleRate, ms), len(samples))
	if n < 2 {
		return samples
	}

	start := len(samples) - n
	for i := range n {
		samples[start+i] *= 1 - float32(i)/float32(n-1)
	}

	return samples
}
