package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cwbudde/wav"
)

// Canonical format of every stored voice sample and every synthesis result.
const (
	ExpectedSampleRate = 24000
	ExpectedChannels   = 1
	ExpectedBitDepth   = 16
)

// Format identifies an upload container.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatOGG     Format = "ogg"
	FormatM4A     Format = "m4a"
)

var extFormats = map[string]Format{
	".wav":  FormatWAV,
	".wave": FormatWAV,
	".mp3":  FormatMP3,
	".flac": FormatFLAC,
	".ogg":  FormatOGG,
	".oga":  FormatOGG,
	".m4a":  FormatM4A,
	".mp4":  FormatM4A,
	".aac":  FormatM4A,
}

var mediaFormats = map[string]Format{
	"audio/wav":    FormatWAV,
	"audio/wave":   FormatWAV,
	"audio/x-wav":  FormatWAV,
	"audio/mpeg":   FormatMP3,
	"audio/mp3":    FormatMP3,
	"audio/flac":   FormatFLAC,
	"audio/x-flac": FormatFLAC,
	"audio/ogg":    FormatOGG,
	"audio/vorbis": FormatOGG,
	"audio/mp4":    FormatM4A,
	"audio/x-m4a":  FormatM4A,
	"audio/aac":    FormatM4A,
}

// SupportedExtensions lists the upload extensions accepted without an audio/* media type.
func SupportedExtensions() []string {
	return []string{".wav", ".mp3", ".flac", ".ogg", ".m4a"}
}

// Accepted reports whether an upload looks like audio, either by its declared
// media type or by a known file extension.
func Accepted(filename, contentType string) bool {
	if strings.HasPrefix(strings.ToLower(contentType), "audio/") {
		return true
	}

	_, ok := extFormats[strings.ToLower(filepath.Ext(filename))]

	return ok
}

// DetectFormat picks the container format from magic bytes, falling back to
// the file extension and then the declared media type.
func DetectFormat(filename, contentType string, data []byte) Format {
	if f := sniff(data); f != FormatUnknown {
		return f
	}

	if f, ok := extFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		return f
	}

	mediaType, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	if f, ok := mediaFormats[strings.TrimSpace(mediaType)]; ok {
		return f
	}

	return FormatUnknown
}

func sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return FormatFLAC
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return FormatOGG
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return FormatM4A
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// Clip is decoded PCM audio at its native rate. Samples are interleaved
// float32 values in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (c Clip) Frames() int {
	if c.Channels < 1 {
		return 0
	}

	return len(c.Samples) / c.Channels
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate < 1 {
		return 0
	}

	return float64(c.Frames()) / float64(c.SampleRate)
}

// Decoder turns container bytes into a Clip. Formats without a pure-Go
// decoder (M4A/AAC), and native decode failures, go through ffmpeg when
// FFmpegPath is set.
type Decoder struct {
	FFmpegPath string
	TempDir    string
}

// Decode decodes data according to format. Unknown formats are only
// attempted through ffmpeg.
func (d Decoder) Decode(ctx context.Context, data []byte, format Format) (Clip, error) {
	if len(data) == 0 {
		return Clip{}, newValidationError(DecodeFailed, 0, "empty audio input")
	}

	var (
		clip Clip
		err  error
	)

	switch format {
	case FormatWAV:
		clip, err = decodeWAV(data)
	case FormatMP3:
		clip, err = decodeMP3(data)
	case FormatFLAC:
		clip, err = decodeFLAC(data)
	case FormatOGG:
		clip, err = decodeOGG(data)
	case FormatM4A, FormatUnknown:
		err = fmt.Errorf("no native decoder for %q", format)
	default:
		return Clip{}, newValidationError(UnsupportedFormat, 0, fmt.Sprintf("unsupported audio format %q", format))
	}

	if err != nil && d.FFmpegPath != "" {
		transcoded, terr := d.transcode(ctx, data, format)
		switch {
		case terr == nil:
			clip, err = transcoded, nil
		case format == FormatM4A || format == FormatUnknown:
			err = terr
		}
	}

	if err != nil {
		if format == FormatUnknown {
			return Clip{}, newValidationError(UnsupportedFormat, 0,
				"unrecognised audio data; supported formats: "+strings.Join(SupportedExtensions(), ", "))
		}

		return Clip{}, newValidationError(DecodeFailed, 0, fmt.Sprintf("decode %s: %v", format, err))
	}

	if clip.SampleRate < 1 || clip.Channels < 1 {
		return Clip{}, newValidationError(DecodeFailed, 0,
			fmt.Sprintf("decode %s: invalid stream (rate=%d channels=%d)", format, clip.SampleRate, clip.Channels))
	}

	return clip, nil
}

// ErrFormatMismatch is returned when a decoded WAV does not match the canonical format.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// DecodeWAV decodes WAV bytes and returns float32 PCM samples.
// It validates that the format is 24000 Hz, mono, 16-bit PCM.
func DecodeWAV(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	if dec.SampleRate != ExpectedSampleRate {
		return nil, fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, dec.SampleRate, ExpectedSampleRate)
	}
	if dec.NumChans != ExpectedChannels {
		return nil, fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, dec.NumChans, ExpectedChannels)
	}
	if dec.BitDepth != ExpectedBitDepth {
		return nil, fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, dec.BitDepth, ExpectedBitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading PCM data: %w", err)
	}

	return buf.Data, nil
}

// decodeWAV accepts any PCM WAV regardless of rate, channel count or depth.
func decodeWAV(data []byte) (Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Clip{}, errors.New("invalid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("reading PCM data: %w", err)
	}

	return Clip{
		Samples:    buf.Data,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, nil
}
