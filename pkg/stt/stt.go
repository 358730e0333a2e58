// Package stt bridges a call's raw audio to a streaming transcription
// backend. Each call owns one Session: an inbound audio queue, an
// outbound result queue, and a background goroutine that owns the
// backend stream. Backend errors are counted and surfaced as end of
// stream, never raised, so the orchestrator can reprompt instead of
// failing the call.
package stt

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/voxhaven/voxgate/internal/log"
)

// Common errors.
var (
	ErrSessionExists = errors.New("stt: session already exists")
	ErrNoSession     = errors.New("stt: no such session")
)

// audioQueueDepth bounds the inbound audio queue. The receive path must
// never block on a slow backend; on overflow the incoming chunk is dropped.
const audioQueueDepth = 512

// Result is one transcription event from the backend.
type Result struct {
	Transcript string
	IsFinal    bool
}

// StreamParams configures one backend stream.
type StreamParams struct {
	SampleRate int
	Language   string
	Hints      []string
}

// Stream is a live duplex transcription stream: PCM chunks in, results
// out. Recv returns io.EOF when the backend finishes.
type Stream interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (Result, error)
	Close() error
}

// Recognizer opens backend streams. Implementations: WSRecognizer
// (websocket vendor protocol) and Mock.
type Recognizer interface {
	OpenStream(ctx context.Context, p StreamParams) (Stream, error)
}

// Manager tracks one Session per call.
type Manager struct {
	rec      Recognizer
	language string

	// OnError is invoked with an error kind for counting. Optional.
	OnError func(kind string)

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	audio     chan []byte
	results   chan Result
	endInput  sync.Once
	sawSpeech atomic.Bool
	partial   atomic.Value // func(string)
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager builds a Manager over one Recognizer.
func NewManager(rec Recognizer, language string) *Manager {
	return &Manager{
		rec:      rec,
		language: language,
		sessions: make(map[string]*session),
	}
}

// Start opens a backend stream for the call in a background goroutine.
func (m *Manager) Start(ctx context.Context, callID string, sampleRate int, hints []string) error {
	m.mu.Lock()
	if _, ok := m.sessions[callID]; ok {
		m.mu.Unlock()
		return ErrSessionExists
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		audio:   make(chan []byte, audioQueueDepth),
		results: make(chan Result, 64),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.sessions[callID] = s
	m.mu.Unlock()

	go m.run(sctx, callID, s, StreamParams{
		SampleRate: sampleRate,
		Language:   m.language,
		Hints:      hints,
	})
	return nil
}

// SetPartialCallback registers fn to fire on every non-final non-empty
// transcript. Used only to trigger barge-in cancellation.
func (m *Manager) SetPartialCallback(callID string, fn func(transcript string)) error {
	s := m.get(callID)
	if s == nil {
		return ErrNoSession
	}
	s.partial.Store(fn)
	return nil
}

// PushAudio enqueues one PCM chunk. A nil chunk signals end of input.
// A full queue drops the chunk rather than stalling the media loop.
func (m *Manager) PushAudio(callID string, chunk []byte) error {
	s := m.get(callID)
	if s == nil {
		return ErrNoSession
	}
	if chunk == nil {
		s.endInput.Do(func() { close(s.audio) })
		return nil
	}
	select {
	case s.audio <- chunk:
	default:
		log.Debug("stt audio queue full, dropping chunk", "call_id", callID)
	}
	return nil
}

// NextUtterance blocks until the next final non-empty transcript. ok is
// false when the stream ended (caller hung up or backend finished) or
// ctx was cancelled.
func (m *Manager) NextUtterance(ctx context.Context, callID string) (string, bool) {
	s := m.get(callID)
	if s == nil {
		return "", false
	}
	for {
		select {
		case r, open := <-s.results:
			if !open {
				return "", false
			}
			if r.IsFinal && r.Transcript != "" {
				return r.Transcript, true
			}
		case <-ctx.Done():
			return "", false
		}
	}
}

// HasSpeech reports whether any transcript, partial or final, has been
// observed for the call. Drives the silence-reprompt decision.
func (m *Manager) HasSpeech(callID string) bool {
	s := m.get(callID)
	return s != nil && s.sawSpeech.Load()
}

// Stop cancels the background goroutine, waits for it, and releases the
// session. Idempotent.
func (m *Manager) Stop(callID string) {
	m.mu.Lock()
	s := m.sessions[callID]
	delete(m.sessions, callID)
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (m *Manager) get(callID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[callID]
}

func (m *Manager) countError(kind string) {
	if m.OnError != nil {
		m.OnError(kind)
	}
}

// run owns the backend stream for one session: one goroutine pumps the
// audio queue into the stream, this one pumps results out. The results
// channel close is the stream-end marker the consumer side relies on.
func (m *Manager) run(ctx context.Context, callID string, s *session, p StreamParams) {
	defer close(s.done)
	defer close(s.results)

	stream, err := m.rec.OpenStream(ctx, p)
	if err != nil {
		m.countError("open_error")
		log.Error("stt stream open failed", "call_id", callID, "error", err)
		return
	}
	defer stream.Close()

	go func() {
		for {
			select {
			case chunk, open := <-s.audio:
				if !open {
					_ = stream.CloseSend()
					return
				}
				if err := stream.Send(chunk); err != nil {
					log.Debug("stt send failed", "call_id", callID, "error", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		r, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				m.countError("api_error")
				log.Error("stt stream error", "call_id", callID, "error", err)
			}
			return
		}
		if r.Transcript != "" {
			s.sawSpeech.Store(true)
		}
		if !r.IsFinal && r.Transcript != "" {
			if fn, ok := s.partial.Load().(func(string)); ok && fn != nil {
				// Barge-in hook; runs off this goroutine so a slow
				// stop command cannot stall result delivery.
				go fn(r.Transcript)
			}
		}
		select {
		case s.results <- r:
		case <-ctx.Done():
			return
		}
	}
}
