// Package doctor provides environment preflight checks for voiceclone.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PassMark, WarnMark and FailMark are the prefix symbols printed for each
// check result. Warnings never fail the run.
const (
	PassMark = "✓"
	WarnMark = "!"
	FailMark = "✗"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// PocketTTSVersion returns the output of `pocket-tts --version`.
	PocketTTSVersion VersionFunc
	// SkipPocketTTS skips the pocket-tts check (remote backend mode).
	SkipPocketTTS bool
	// PythonVersion returns the Python version string (e.g. "3.11.4").
	PythonVersion VersionFunc
	// SkipPython skips the Python version check (remote backend mode).
	SkipPython bool
	// RemoteHealth probes the remote inference endpoint. Nil skips the check.
	RemoteHealth VersionFunc
	// FFmpegVersion reports the transcoder used for m4a uploads. A failure
	// is a warning since the other formats decode natively. Nil skips it.
	FFmpegVersion VersionFunc
	// ModelPath is stat-checked when non-empty.
	ModelPath string
	// VoicesDir must exist or be creatable, and be writable.
	VoicesDir string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
	warnings []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// Warnings returns the list of non-fatal findings.
func (r *Result) Warnings() []string { return append([]string(nil), r.warnings...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) warn(msg string) { r.warnings = append(r.warnings, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark, WarnMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- pocket-tts binary ------------------------------------------------
	if cfg.SkipPocketTTS || cfg.PocketTTSVersion == nil {
		fmt.Fprintf(w, "%s pocket-tts binary: skipped\n", PassMark)
	} else {
		ver, err := cfg.PocketTTSVersion()
		if err != nil {
			res.fail(fmt.Sprintf("pocket-tts binary: %v", err))
			fmt.Fprintf(w, "%s pocket-tts binary: not found (%v)\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s pocket-tts binary: %s\n", PassMark, ver)
		}
	}

	// ---- Python version ---------------------------------------------------
	if cfg.SkipPython || cfg.PythonVersion == nil {
		fmt.Fprintf(w, "%s python version: skipped\n", PassMark)
	} else {
		pyVer, err := cfg.PythonVersion()
		if err != nil {
			res.fail(fmt.Sprintf("python version: %v", err))
			fmt.Fprintf(w, "%s python version: not found (%v)\n", FailMark, err)
		} else if pyErr := checkPythonVersion(pyVer); pyErr != nil {
			res.fail(fmt.Sprintf("python version: %v", pyErr))
			fmt.Fprintf(w, "%s python version %s: %v\n", FailMark, pyVer, pyErr)
		} else {
			fmt.Fprintf(w, "%s python version: %s\n", PassMark, pyVer)
		}
	}

	// ---- remote inference endpoint ----------------------------------------
	if cfg.RemoteHealth != nil {
		status, err := cfg.RemoteHealth()
		if err != nil {
			res.fail(fmt.Sprintf("remote model: %v", err))
			fmt.Fprintf(w, "%s remote model: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s remote model: %s\n", PassMark, status)
		}
	}

	// ---- ffmpeg -----------------------------------------------------------
	if cfg.FFmpegVersion != nil {
		ver, err := cfg.FFmpegVersion()
		if err != nil {
			res.warn(fmt.Sprintf("ffmpeg: %v", err))
			fmt.Fprintf(w, "%s ffmpeg: not found, m4a uploads will be rejected (%v)\n", WarnMark, err)
		} else {
			fmt.Fprintf(w, "%s ffmpeg: %s\n", PassMark, ver)
		}
	}

	// ---- model path -------------------------------------------------------
	if cfg.ModelPath != "" {
		if _, err := os.Stat(cfg.ModelPath); err != nil {
			res.fail(fmt.Sprintf("model path %q: %v", cfg.ModelPath, err))
			fmt.Fprintf(w, "%s model path %s: not found\n", FailMark, cfg.ModelPath)
		} else {
			fmt.Fprintf(w, "%s model path: %s\n", PassMark, cfg.ModelPath)
		}
	}

	// ---- voices directory -------------------------------------------------
	if cfg.VoicesDir != "" {
		if err := checkWritableDir(cfg.VoicesDir); err != nil {
			res.fail(fmt.Sprintf("voices dir %q: %v", cfg.VoicesDir, err))
			fmt.Fprintf(w, "%s voices dir %s: %v\n", FailMark, cfg.VoicesDir, err)
		} else {
			fmt.Fprintf(w, "%s voices dir: %s\n", PassMark, cfg.VoicesDir)
		}
	}

	return res
}

// checkWritableDir creates dir if needed and proves it accepts new files.
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()

	return os.Remove(name)
}

// checkPythonVersion returns an error if ver is outside [3.10, 3.15).
// ver is expected to be a string like "3.11.4".
func checkPythonVersion(ver string) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 3 {
		return fmt.Errorf("requires Python 3, got %d", major)
	}
	if minor < 10 {
		return fmt.Errorf("requires Python >=3.10, got 3.%d", minor)
	}
	if minor >= 15 {
		return fmt.Errorf("requires Python <3.15, got 3.%d", minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
