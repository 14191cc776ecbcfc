package model

import (
	"bufio"
	"os"
	"os/exec"
	"strings"
)

// detectPocketTTSPython returns the interpreter named in the pocket-tts
// launcher's shebang, or "python3" when it cannot be determined.
func detectPocketTTSPython(executable string) string {
	pocketBin, err := exec.LookPath(executable)
	if err != nil {
		return "python3"
	}
	fh, err := os.Open(pocketBin)
	if err != nil {
		return "python3"
	}
	defer fh.Close()

	s := bufio.NewScanner(fh)
	if !s.Scan() {
		return "python3"
	}
	line := strings.TrimSpace(s.Text())
	if !strings.HasPrefix(line, "#!") {
		return "python3"
	}
	fields := strings.Fields(strings.TrimPrefix(line, "#!"))
	if len(fields) == 0 {
		return "python3"
	}
	interpreter := fields[0]
	// "#!/usr/bin/env python3" names the interpreter in the second field.
	if strings.HasSuffix(interpreter, "/env") && len(fields) > 1 {
		if resolved, err := exec.LookPath(fields[1]); err == nil {
			return resolved
		}
		return "python3"
	}
	if _, err := os.Stat(interpreter); err != nil {
		return "python3"
	}
	return interpreter
}

// DetectPython exposes the interpreter lookup for preflight checks.
func DetectPython(executable string) string {
	if executable == "" {
		executable = "pocket-tts"
	}
	return detectPocketTTSPython(executable)
}
