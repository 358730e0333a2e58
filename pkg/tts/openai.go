package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxhaven/voxgate/internal/httpc"
	vlog "github.com/voxhaven/voxgate/internal/log"
)

const (
	openAISpeechURL = "https://api.openai.com/v1/audio/speech"
	backendOpenAI   = "openai"

	// soundSubdir is the directory under the switch's sounds root where
	// synthesized files land; media refs are relative to the sounds root.
	soundSubdir = "voxgate"
)

// OpenAI synthesizes speech via an OpenAI-compatible speech endpoint and
// writes the resulting WAV into the switch's shared sounds directory so
// the switch can play it by reference.
type OpenAI struct {
	apiKey    string
	model     string
	voice     string
	baseURL   string
	soundsDir string
	client    *http.Client
	logger    *slog.Logger
}

// OpenAIOption customizes the OpenAI backend.
type OpenAIOption func(*OpenAI)

// WithVoice selects the synthesis voice.
func WithVoice(voice string) OpenAIOption {
	return func(o *OpenAI) { o.voice = voice }
}

// WithModel selects the speech model.
func WithModel(model string) OpenAIOption {
	return func(o *OpenAI) { o.model = model }
}

// WithBaseURL points the backend at a non-default endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(o *OpenAI) { o.baseURL = url }
}

// NewOpenAI creates the OpenAI speech backend. soundsDir is the switch's
// sounds root, mounted read-write by this process.
func NewOpenAI(apiKey, soundsDir string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if soundsDir == "" {
		return nil, fmt.Errorf("tts: sounds directory required")
	}

	o := &OpenAI{
		apiKey:    apiKey,
		model:     "tts-1",
		voice:     "alloy",
		baseURL:   openAISpeechURL,
		soundsDir: soundsDir,
		client:    httpc.NewClient(30 * time.Second),
		logger:    vlog.With("component", "tts.openai"),
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := os.MkdirAll(filepath.Join(soundsDir, soundSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("tts: prepare sounds dir: %w", err)
	}
	return o, nil
}

// Synthesize requests WAV audio and writes it next to the switch.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	payload := map[string]any{
		"model":           o.model,
		"voice":           o.voice,
		"input":           text,
		"response_format": "wav",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("tts: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
			Backend:    backendOpenAI,
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read audio: %w", err)
	}

	name := uuid.NewString()
	path := filepath.Join(o.soundsDir, soundSubdir, name+".wav")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return nil, fmt.Errorf("tts: write sound file: %w", err)
	}

	latency := time.Since(start)
	o.logger.Debug("synthesized",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency.Milliseconds(),
	)

	return &Result{
		MediaRef:   "sound:" + soundSubdir + "/" + name,
		Audio:      audio,
		SampleRate: 24000,
		CharCount:  len(text),
		Latency:    latency,
	}, nil
}

// Health verifies the endpoint accepts the credentials with a minimal
// request. A 4xx other than auth failures still counts as reachable.
func (o *OpenAI) Health(ctx context.Context) error {
	_, err := o.Synthesize(ctx, "ok")
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			return err
		}
		return nil
	}
	return err
}

// Close is a no-op; the backend holds no persistent connections.
func (o *OpenAI) Close() error { return nil }

var _ Synthesizer = (*OpenAI)(nil)
