package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/example/voiceclone/internal/audio"
	"github.com/example/voiceclone/internal/config"
	"github.com/example/voiceclone/internal/tts"
)

// BackendHTTP is the name reported by the remote model backend.
const BackendHTTP = config.BackendHTTP

const (
	healthEndpoint   = "/health"
	generateEndpoint = "/generate"

	defaultRemoteTimeout = 120 * time.Second

	// maxErrorBody bounds how much of a failed response is quoted in errors.
	maxErrorBody = 512
)

// RemoteOptions configures the HTTP model backend.
type RemoteOptions struct {
	URL     string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Remote calls a model server over HTTP. The server receives the reference
// as base64 WAV and answers with either WAV bytes or JSON audio values.
type Remote struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger

	device      string
	accelerator bool
}

// NewRemote returns an unloaded HTTP backend.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("model url must not be empty")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Remote{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
		device:     "remote",
	}, nil
}

type remoteHealth struct {
	Status      string `json:"status"`
	Device      string `json:"device"`
	Accelerator bool   `json:"accelerator"`
}

// Load probes the server's health endpoint.
func (r *Remote) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+healthEndpoint, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model server unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model server: GET %s returned status %d", healthEndpoint, resp.StatusCode)
	}

	var h remoteHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err == nil {
		if h.Device != "" {
			r.device = h.Device
		}
		r.accelerator = h.Accelerator
	}

	r.log.Info("remote model ready",
		slog.String("url", r.baseURL),
		slog.String("device", r.device),
	)

	return nil
}

type generateReference struct {
	Audio      string `json:"audio"`
	Text       string `json:"text"`
	SampleRate int    `json:"sample_rate"`
}

type generateBody struct {
	Text         string              `json:"text"`
	References   []generateReference `json:"references"`
	Temperature  float64             `json:"temperature"`
	MaxNewTokens int                 `json:"max_new_tokens"`
}

// Generate posts the request and converts the response into a tts.Output.
func (r *Remote) Generate(ctx context.Context, req tts.GenerateRequest) (tts.Output, error) {
	body := generateBody{
		Text:         req.Text,
		References:   []generateReference{},
		Temperature:  req.Temperature,
		MaxNewTokens: req.MaxTokens,
	}

	if ref := req.Reference; ref != nil {
		wav, err := audio.EncodeWAVFormat(ref.Samples, ref.SampleRate, 1)
		if err != nil {
			return tts.Output{}, fmt.Errorf("encode reference: %w", err)
		}
		body.References = append(body.References, generateReference{
			Audio:      base64.StdEncoding.EncodeToString(wav),
			Text:       ref.Transcription,
			SampleRate: ref.SampleRate,
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return tts.Output{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+generateEndpoint, bytes.NewReader(data))
	if err != nil {
		return tts.Output{}, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav, application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return tts.Output{}, fmt.Errorf("model server: POST %s: %w", generateEndpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return tts.Output{}, fmt.Errorf("model server: POST %s returned status %d: %s",
			generateEndpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Output{}, fmt.Errorf("read model response: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "audio/") || audio.DetectFormat("", "", payload) == audio.FormatWAV {
		samples, err := decodeResult(ctx, payload)
		if err != nil {
			return tts.Output{}, err
		}
		return tts.TensorOutput(samples), nil
	}

	return parseJSONOutput(payload)
}

// parseJSONOutput accepts {"audio_values": [...]} or [sample_rate, [...]].
func parseJSONOutput(payload []byte) (tts.Output, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return tts.Output{}, fmt.Errorf("decode model response: %w", err)
	}

	switch v := raw.(type) {
	case map[string]any:
		mapping := make(map[string]tts.Tensor, len(v))
		for key, val := range v {
			t, err := toTensor(val)
			if err != nil {
				if key == tts.AudioValuesKey {
					return tts.Output{}, fmt.Errorf("model response %s: %w", key, err)
				}
				continue
			}
			mapping[key] = t
		}
		return tts.Output{Kind: tts.OutputMapping, Mapping: mapping}, nil

	case []any:
		if len(v) != 2 {
			return tts.Output{}, fmt.Errorf("model response pair has %d elements, want 2", len(v))
		}
		var pair [2]tts.Tensor
		for i := range pair {
			t, err := toTensor(v[i])
			if err != nil {
				return tts.Output{}, fmt.Errorf("model response element %d: %w", i, err)
			}
			pair[i] = t
		}
		return tts.Output{Kind: tts.OutputPair, Pair: pair}, nil

	default:
		return tts.Output{}, fmt.Errorf("unexpected model response type %T", raw)
	}
}

// toTensor converts a JSON number or (nested) array of numbers into a Tensor.
func toTensor(v any) (tts.Tensor, error) {
	if n, ok := v.(float64); ok {
		return tts.Tensor{Data: []float32{float32(n)}}, nil
	}

	var (
		data  []float32
		shape []int
	)

	var walk func(v any, depth int) error
	walk = func(v any, depth int) error {
		switch x := v.(type) {
		case float64:
			if depth != len(shape) {
				return errors.New("ragged array")
			}
			data = append(data, float32(x))
			return nil
		case []any:
			if depth == len(shape) {
				shape = append(shape, len(x))
			} else if depth > len(shape) || shape[depth] != len(x) {
				return errors.New("ragged array")
			}
			for _, e := range x {
				if err := walk(e, depth+1); err != nil {
					return err
				}
			}
			return nil
		default:
			return fmt.Errorf("unexpected element type %T", v)
		}
	}

	if err := walk(v, 0); err != nil {
		return tts.Tensor{}, err
	}

	return tts.Tensor{Data: data, Shape: shape}, nil
}

// Info reports the remote backend.
func (r *Remote) Info() tts.ModelInfo {
	return tts.ModelInfo{
		Backend:     BackendHTTP,
		Path:        r.baseURL,
		Device:      r.device,
		Accelerator: r.accelerator,
	}
}

// Close releases idle connections.
func (r *Remote) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}
