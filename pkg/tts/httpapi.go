package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxhaven/voxgate/internal/httpc"
	vlog "github.com/voxhaven/voxgate/internal/log"
)

const backendHTTPAPI = "httpapi"

// HTTPAPI talks to a synthesis service that shares the switch's sounds
// volume. The service writes the file itself and answers with the media
// reference, so no audio bytes cross this hop.
type HTTPAPI struct {
	url      string
	language string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPAPI creates the HTTP synthesis backend. url is the service's
// synthesize endpoint; language is passed through on every request.
func NewHTTPAPI(url, language string) (*HTTPAPI, error) {
	if url == "" {
		return nil, fmt.Errorf("tts: synthesis service URL required")
	}
	return &HTTPAPI{
		url:      url,
		language: language,
		client:   httpc.NewClient(15 * time.Second),
		logger:   vlog.With("component", "tts.httpapi"),
	}, nil
}

type synthRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type synthResponse struct {
	MediaRef   string `json:"media_ref"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Synthesize posts the text and returns the service's media reference.
func (h *HTTPAPI) Synthesize(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	body, err := json.Marshal(synthRequest{Text: text, Language: h.language})
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("tts: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
			Backend:    backendHTTPAPI,
		}
	}

	var sr synthResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("tts: decode response: %w", err)
	}
	if sr.Error != "" {
		return nil, fmt.Errorf("tts: service error: %s", sr.Error)
	}
	if sr.MediaRef == "" {
		return nil, fmt.Errorf("tts: service returned no media reference")
	}

	latency := time.Since(start)
	h.logger.Debug("synthesized",
		"chars", len(text),
		"media", sr.MediaRef,
		"latency_ms", latency.Milliseconds(),
	)

	return &Result{
		MediaRef:   sr.MediaRef,
		SampleRate: sr.SampleRate,
		CharCount:  len(text),
		Latency:    latency,
	}, nil
}

// Health probes the service with an empty-text request; anything but a
// transport failure means the service is up.
func (h *HTTPAPI) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, strings.NewReader(`{"text":""}`))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("tts: service unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Close is a no-op.
func (h *HTTPAPI) Close() error { return nil }

var _ Synthesizer = (*HTTPAPI)(nil)
