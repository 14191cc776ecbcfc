package config

import (
	"fmt"
	"strings"
)

const (
	BackendPocket = "pocket-tts"
	BackendHTTP   = "http"
)

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendPocket
	}
	switch backend {
	case BackendPocket, BackendHTTP:
		return backend, nil
	case "pocket", "cli":
		return BackendPocket, nil
	case "remote":
		return BackendHTTP, nil
	default:
		return "", fmt.Errorf(
			"invalid backend %q (expected %s|%s|pocket|cli|remote)",
			raw,
			BackendPocket,
			BackendHTTP,
		)
	}
}
