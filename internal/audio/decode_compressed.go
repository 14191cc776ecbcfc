package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// go-mp3 always produces 16-bit little-endian stereo.
const mp3Channels = 2

func decodeMP3(data []byte) (Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Clip{}, fmt.Errorf("open mp3 stream: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return Clip{}, fmt.Errorf("read mp3 stream: %w", err)
	}

	n := len(pcm) / 2
	n -= n % mp3Channels
	samples := make([]float32, n)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768
	}

	return Clip{Samples: samples, SampleRate: dec.SampleRate(), Channels: mp3Channels}, nil
}

func decodeFLAC(data []byte) (clip Clip, err error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return Clip{}, fmt.Errorf("open flac stream: %w", err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close flac stream: %w", cerr)
		}
	}()

	channels := int(stream.Info.NChannels)
	if channels < 1 || stream.Info.BitsPerSample < 1 {
		return Clip{}, fmt.Errorf("invalid flac stream info (channels=%d bits=%d)",
			channels, stream.Info.BitsPerSample)
	}

	scale := float32(int64(1) << (stream.Info.BitsPerSample - 1))
	samples := make([]float32, 0, int(stream.Info.NSamples)*channels)

	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Clip{}, fmt.Errorf("parse flac frame: %w", err)
		}
		if len(frame.Subframes) < channels {
			return Clip{}, fmt.Errorf("flac frame has %d subframes, want %d", len(frame.Subframes), channels)
		}

		for i := range frame.Subframes[0].Samples {
			for ch := range channels {
				samples = append(samples, float32(frame.Subframes[ch].Samples[i])/scale)
			}
		}
	}

	return Clip{Samples: samples, SampleRate: int(stream.Info.SampleRate), Channels: channels}, nil
}

func decodeOGG(data []byte) (Clip, error) {
	samples, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return Clip{}, fmt.Errorf("read ogg vorbis stream: %w", err)
	}

	return Clip{Samples: samples, SampleRate: format.SampleRate, Channels: format.Channels}, nil
}
