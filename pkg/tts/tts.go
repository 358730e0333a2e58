// Package tts turns reply text into media the telephony switch can play.
//
// A Synthesizer produces a media reference (a sound URI resolvable by the
// switch) plus the raw audio when the backend returns it. Backends: an
// OpenAI-compatible speech endpoint that writes into the switch's shared
// sounds directory, an HTTP synthesis service that shares that directory
// itself, and a Mock for tests. Chain falls back across backends in order.
package tts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions.
var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("tts: API key required")

	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("tts: empty text")

	// ErrNoBackend is returned when a chain is built with no backends.
	ErrNoBackend = errors.New("tts: no backends available")
)

// Synthesizer converts one chunk of reply text into playable media.
type Synthesizer interface {
	// Synthesize converts text to audio and returns a playable reference.
	// The returned MediaRef is always usable with the switch's play verb.
	Synthesize(ctx context.Context, text string) (*Result, error)

	// Health checks backend connectivity and credential validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}

// Result is one synthesized utterance.
type Result struct {
	// MediaRef is the switch-resolvable sound URI (e.g. "sound:voxgate/abc").
	MediaRef string

	// Audio holds the raw audio bytes when the backend returned them
	// directly; nil when the backend wrote straight to shared storage.
	Audio []byte

	// SampleRate in Hz of the produced audio.
	SampleRate int

	// CharCount is the number of characters synthesized.
	CharCount int

	// Latency is the time from request to usable media.
	Latency time.Duration
}

// APIError is a non-2xx response from a synthesis backend.
type APIError struct {
	StatusCode int
	Message    string
	Backend    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("tts %s: status %d: %s", e.Backend, e.StatusCode, e.Message)
}
