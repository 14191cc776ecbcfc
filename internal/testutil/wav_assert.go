package testutil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/example/voiceclone/internal/audio"
)

// wavHeader is the subset of a PCM WAV header the assertions look at.
type wavHeader struct {
	format     uint16
	channels   int
	sampleRate int
	bitDepth   int
	dataBytes  int
}

func (h wavHeader) frames() int {
	frameBytes := h.channels * h.bitDepth / 8
	if frameBytes == 0 {
		return 0
	}
	return h.dataBytes / frameBytes
}

func (h wavHeader) seconds() float64 {
	if h.sampleRate == 0 {
		return 0
	}
	return float64(h.frames()) / float64(h.sampleRate)
}

// parseWAVHeader walks the RIFF chunk list and reads the fmt and data chunks.
func parseWAVHeader(data []byte) (wavHeader, error) {
	if len(data) < 12 {
		return wavHeader{}, fmt.Errorf("only %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return wavHeader{}, fmt.Errorf("missing RIFF/WAVE header (got %q/%q)", data[0:4], data[8:12])
	}

	var (
		h       wavHeader
		haveFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return wavHeader{}, fmt.Errorf("fmt chunk truncated (%d bytes)", size)
			}
			h.format = binary.LittleEndian.Uint16(data[body : body+2])
			h.channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			h.sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			h.bitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return wavHeader{}, errors.New("data chunk before fmt chunk")
			}
			h.dataBytes = size
			return h, nil
		}

		off = body + size + size%2
	}

	return wavHeader{}, errors.New("data chunk not found")
}

// AssertWAVFormat checks that data is 16-bit PCM WAV at the given rate and
// channel count.
func AssertWAVFormat(tb testing.TB, data []byte, sampleRate, channels int) {
	tb.Helper()

	h, err := parseWAVHeader(data)
	if err != nil {
		tb.Fatalf("WAV: %v", err)
	}
	if h.format != 1 {
		tb.Fatalf("WAV: format tag %d, want PCM (1)", h.format)
	}
	if h.bitDepth != 16 {
		tb.Fatalf("WAV: %d-bit samples, want 16", h.bitDepth)
	}
	if h.sampleRate != sampleRate || h.channels != channels {
		tb.Fatalf("WAV: %d Hz / %d ch, want %d Hz / %d ch", h.sampleRate, h.channels, sampleRate, channels)
	}
}

// AssertValidWAV checks that data is a canonical clip as stored and returned
// by the service: 24 kHz mono 16-bit PCM with at least one frame.
func AssertValidWAV(tb testing.TB, data []byte) {
	tb.Helper()

	AssertWAVFormat(tb, data, audio.ExpectedSampleRate, 1)

	h, _ := parseWAVHeader(data)
	if h.frames() == 0 {
		tb.Fatal("WAV: data chunk is empty")
	}
}

// AssertWAVDurationApprox asserts that the WAV duration is within
// [minSec, maxSec]. The rate and channel count come from the header.
func AssertWAVDurationApprox(tb testing.TB, data []byte, minSec, maxSec float64) {
	tb.Helper()

	h, err := parseWAVHeader(data)
	if err != nil {
		tb.Fatalf("WAV duration check: %v", err)
	}
	if d := h.seconds(); d < minSec || d > maxSec {
		tb.Fatalf("WAV duration %.3fs outside [%.3fs, %.3fs]", d, minSec, maxSec)
	}
}
