package nlp

import (
	"context"
	"strings"
	"sync"
)

// Mock is a scripted Engine for tests. Each call to StreamReply consumes
// the next scripted response; when the script runs out, the last entry
// repeats.
type Mock struct {
	mu      sync.Mutex
	script  []MockReply
	calls   []string
	served  int
	OpenErr error
}

// MockReply is one scripted response.
type MockReply struct {
	Tokens  []string
	Intent  string // empty means keyword detection on the user text
	Emotion string
	Err     error // delivered mid-stream after Tokens
}

// NewMock builds a mock with the given script.
func NewMock(script ...MockReply) *Mock {
	return &Mock{script: script}
}

// Calls returns every user text passed to StreamReply.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// StreamReply serves the next scripted reply.
func (m *Mock) StreamReply(ctx context.Context, userText string, history []Message) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.calls = append(m.calls, userText)

	var r MockReply
	if len(m.script) > 0 {
		idx := m.served
		if idx >= len(m.script) {
			idx = len(m.script) - 1
		}
		r = m.script[idx]
		m.served++
	}
	return &mockStream{reply: r, userText: userText}, nil
}

type mockStream struct {
	reply    MockReply
	userText string
	pos      int
	full     strings.Builder
	failed   bool
}

func (s *mockStream) Next() (string, bool) {
	if s.pos < len(s.reply.Tokens) {
		tok := s.reply.Tokens[s.pos]
		s.pos++
		s.full.WriteString(tok)
		return tok, true
	}
	if s.reply.Err != nil {
		s.failed = true
	}
	return "", false
}

func (s *mockStream) Err() error {
	if s.failed {
		return s.reply.Err
	}
	return nil
}

func (s *mockStream) Result() Reply {
	intent := s.reply.Intent
	if intent == "" {
		intent = DetectIntent(s.userText)
	}
	emotion := s.reply.Emotion
	if emotion == "" {
		emotion = DetectEmotion(s.userText)
	}
	return Reply{
		Text:    strings.TrimSpace(s.full.String()),
		Intent:  intent,
		Emotion: emotion,
	}
}
