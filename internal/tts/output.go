package tts

import (
	"errors"
	"fmt"
)

// AudioValuesKey is the mapping key that carries generated audio.
const AudioValuesKey = "audio_values"

// Tensor is a dense float32 array with an optional shape. A nil Shape means a
// flat vector.
type Tensor struct {
	Data  []float32
	Shape []int
}

// OutputKind tags which field of Output is populated.
type OutputKind int

const (
	OutputTensor OutputKind = iota
	OutputMapping
	OutputPair
)

func (k OutputKind) String() string {
	switch k {
	case OutputTensor:
		return "tensor"
	case OutputMapping:
		return "mapping"
	case OutputPair:
		return "pair"
	default:
		return fmt.Sprintf("OutputKind(%d)", int(k))
	}
}

// Output is what a model returns: a bare tensor, a mapping holding the audio
// under AudioValuesKey, or a pair whose second element is the audio.
type Output struct {
	Kind    OutputKind
	Tensor  Tensor
	Mapping map[string]Tensor
	Pair    [2]Tensor
}

// TensorOutput wraps a flat waveform.
func TensorOutput(samples []float32) Output {
	return Output{Kind: OutputTensor, Tensor: Tensor{Data: samples}}
}

var errNoAudioValues = errors.New("model output mapping has no " + AudioValuesKey)

// Audio flattens the output into a mono waveform. Empty audio yields an
// empty, non-nil slice.
func (o Output) Audio() ([]float32, error) {
	var t Tensor

	switch o.Kind {
	case OutputTensor:
		t = o.Tensor
	case OutputMapping:
		v, ok := o.Mapping[AudioValuesKey]
		if !ok {
			return nil, errNoAudioValues
		}
		t = v
	case OutputPair:
		t = o.Pair[1]
	default:
		return nil, fmt.Errorf("unknown model output kind %s", o.Kind)
	}

	if len(t.Shape) > 0 {
		n := 1
		for _, d := range t.Shape {
			n *= d
		}
		if n != len(t.Data) {
			return nil, fmt.Errorf("tensor shape %v does not match %d values", t.Shape, len(t.Data))
		}
	}

	return append(make([]float32, 0, len(t.Data)), t.Data...), nil
}
