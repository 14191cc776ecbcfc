package tts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// MaxNameRunes bounds the length of a sample name.
const MaxNameRunes = 100

// fallbackName is used when a transcription sanitizes to nothing.
const fallbackName = "sample"

// ErrInvalidVoiceID is returned for voice ids that are not safe directory names.
var ErrInvalidVoiceID = errors.New("invalid voice id")

// ValidateVoiceID rejects ids that would escape the voices directory.
func ValidateVoiceID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidVoiceID)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidVoiceID, id)
	case strings.ContainsAny(id, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidVoiceID, id)
	}

	return nil
}

// DeriveTranscription turns an upload filename into a transcription: the
// stem with underscores and hyphens replaced by spaces.
func DeriveTranscription(filename string) string {
	base := filepath.Base(filepath.ToSlash(filename))
	if base == "." || base == "/" {
		return ""
	}

	stem := strings.TrimSuffix(base, filepath.Ext(base))

	return strings.NewReplacer("_", " ", "-", " ").Replace(stem)
}

// SanitizeName keeps letters, digits, spaces, hyphens and underscores, trims
// trailing whitespace and truncates to MaxNameRunes.
func SanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}

	name := []rune(strings.TrimRightFunc(b.String(), unicode.IsSpace))
	if len(name) > MaxNameRunes {
		name = name[:MaxNameRunes]
	}

	out := strings.TrimRightFunc(string(name), unicode.IsSpace)
	if strings.TrimSpace(out) == "" {
		return fallbackName
	}

	return out
}

// writeUnique writes data to dir/<name>.wav, or to the first free
// dir/<name>_N.wav (N >= 2) when that file already exists. Existing files are
// never overwritten.
func writeUnique(dir, name string, data []byte) (string, error) {
	for n := 1; ; n++ {
		filename := name + ".wav"
		if n > 1 {
			filename = fmt.Sprintf("%s_%d.wav", name, n)
		}
		path := filepath.Join(dir, filename)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", path, err)
		}

		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("close %s: %w", path, err)
		}

		return path, nil
	}
}
