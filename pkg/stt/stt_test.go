package stt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// frame tags a chunk with its push order.
func frame(i int) []byte {
	return []byte{byte(i >> 8), byte(i)}
}

// stuckStream is a backend whose Send blocks until gate is closed,
// wedging the audio pump so the queue fills.
type stuckStream struct {
	gate    chan struct{}
	entered chan struct{}
	ended   chan struct{}
	endOnce sync.Once

	mu       sync.Mutex
	received [][]byte
}

func newStuckStream() *stuckStream {
	return &stuckStream{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
		ended:   make(chan struct{}),
	}
}

func (s *stuckStream) Send(pcm []byte) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.gate
	s.mu.Lock()
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)
	s.received = append(s.received, chunk)
	s.mu.Unlock()
	return nil
}

func (s *stuckStream) CloseSend() error {
	s.endOnce.Do(func() { close(s.ended) })
	return nil
}

func (s *stuckStream) Recv() (Result, error) {
	<-s.ended
	return Result{}, io.EOF
}

func (s *stuckStream) Close() error {
	s.endOnce.Do(func() { close(s.ended) })
	return nil
}

func (s *stuckStream) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func (s *stuckStream) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.received))
	copy(out, s.received)
	return out
}

type stuckRecognizer struct {
	stream *stuckStream
}

func (r *stuckRecognizer) OpenStream(ctx context.Context, p StreamParams) (Stream, error) {
	return r.stream, nil
}

func startSession(t *testing.T, m *Manager, callID string) {
	t.Helper()
	if err := m.Start(context.Background(), callID, 8000, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { m.Stop(callID) })
}

// awaitStream spins until the mock backend has an open stream, so tests
// can emit results without racing session startup.
func awaitStream(t *testing.T, rec *Mock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for rec.Opened() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("backend stream never opened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager(t *testing.T) {
	t.Run("duplicate start rejected", func(t *testing.T) {
		m := NewManager(NewMock(), "vi-VN")
		startSession(t, m, "call-1")
		if err := m.Start(context.Background(), "call-1", 8000, nil); !errors.Is(err, ErrSessionExists) {
			t.Errorf("expected ErrSessionExists, got %v", err)
		}
	})

	t.Run("audio reaches backend", func(t *testing.T) {
		rec := NewMock()
		m := NewManager(rec, "vi-VN")
		startSession(t, m, "call-1")

		if err := m.PushAudio("call-1", []byte{1, 2, 3}); err != nil {
			t.Fatalf("push: %v", err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for len(rec.Received()) == 0 {
			if time.Now().After(deadline) {
				t.Fatal("audio never reached the backend stream")
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	t.Run("nil chunk ends input", func(t *testing.T) {
		rec := NewMock()
		m := NewManager(rec, "vi-VN")
		startSession(t, m, "call-1")

		if err := m.PushAudio("call-1", nil); err != nil {
			t.Fatalf("push sentinel: %v", err)
		}
		// Idempotent: a second sentinel must not panic.
		if err := m.PushAudio("call-1", nil); err != nil {
			t.Fatalf("second sentinel: %v", err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for rec.CloseSendCount() == 0 {
			if time.Now().After(deadline) {
				t.Fatal("end of input never propagated")
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	t.Run("next utterance skips partials and empty finals", func(t *testing.T) {
		rec := NewMock()
		m := NewManager(rec, "vi-VN")
		startSession(t, m, "call-1")
		awaitStream(t, rec)

		rec.Emit(Result{Transcript: "xin", IsFinal: false})
		rec.Emit(Result{Transcript: "", IsFinal: true})
		rec.Emit(Result{Transcript: "xin chao", IsFinal: true})

		got, ok := m.NextUtterance(context.Background(), "call-1")
		if !ok || got != "xin chao" {
			t.Errorf("utterance = %q ok=%v, want \"xin chao\" true", got, ok)
		}
	})

	t.Run("stream end yields not ok", func(t *testing.T) {
		rec := NewMock()
		m := NewManager(rec, "vi-VN")
		startSession(t, m, "call-1")
		awaitStream(t, rec)

		rec.EndStream()
		if got, ok := m.NextUtterance(context.Background(), "call-1"); ok {
			t.Errorf("expected stream end, got %q", got)
		}
	})

	t.Run("backend error surfaces as end of stream and is counted", func(t *testing.T) {
		rec := NewMock()
		m := NewManager(rec, "vi-VN")
		var mu sync.Mutex
		kinds := []string{}
		m.OnError = func(kind string) {
			mu.Lock()
			kinds = append(kinds, kind)
			mu.Unlock()
		}
		startSession(t, m, "call-1")
		awaitStream(t, rec)

		rec.Fail(errors.New("quota exceeded"))
		if _, ok := m.NextUtterance(context.Background(), "call-1"); ok {
			t.Error("expected end of stream after backend error")
		}
		mu.Lock()
		defer mu.Unlock()
		if len(kinds) != 1 || kinds[0] != "api_error" {
			t.Errorf("error kinds = %v, want [api_error]", kinds)
		}
	})

	t.Run("partial callback fires and marks speech", func(t *testing.T) {
		rec := NewMock()
		m := NewManager(rec, "vi-VN")
		startSession(t, m, "call-1")
		awaitStream(t, rec)

		heard := make(chan string, 1)
		if err := m.SetPartialCallback("call-1", func(text string) { heard <- text }); err != nil {
			t.Fatalf("set callback: %v", err)
		}

		if m.HasSpeech("call-1") {
			t.Error("speech flag set before any transcript")
		}
		rec.Emit(Result{Transcript: "a lo", IsFinal: false})

		select {
		case text := <-heard:
			if text != "a lo" {
				t.Errorf("partial = %q, want \"a lo\"", text)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("partial callback never fired")
		}
		deadline := time.Now().Add(time.Second)
		for !m.HasSpeech("call-1") {
			if time.Now().After(deadline) {
				t.Fatal("speech flag never set")
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	t.Run("queue overflow drops newest and never stalls", func(t *testing.T) {
		stream := newStuckStream()
		m := NewManager(&stuckRecognizer{stream: stream}, "vi-VN")
		startSession(t, m, "call-1")

		// First chunk is pulled off the queue and blocks in Send.
		if err := m.PushAudio("call-1", frame(0)); err != nil {
			t.Fatalf("push: %v", err)
		}
		select {
		case <-stream.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("backend never saw the first chunk")
		}

		// With the backend wedged the queue fills; the excess must be
		// rejected immediately, not block the caller.
		extra := audioQueueDepth + 50
		for i := 1; i <= extra; i++ {
			if err := m.PushAudio("call-1", frame(i)); err != nil {
				t.Fatalf("push %d: %v", i, err)
			}
		}

		close(stream.gate)
		_ = m.PushAudio("call-1", nil)

		want := audioQueueDepth + 1 // wedged chunk plus a full queue
		deadline := time.Now().Add(2 * time.Second)
		for stream.Count() < want {
			if time.Now().After(deadline) {
				t.Fatalf("backend received %d chunks, want %d", stream.Count(), want)
			}
			time.Sleep(5 * time.Millisecond)
		}

		got := stream.Received()
		if len(got) != want {
			t.Fatalf("backend received %d chunks, want %d", len(got), want)
		}
		for i, chunk := range got {
			if !bytes.Equal(chunk, frame(i)) {
				t.Fatalf("chunk %d = %v, want %v", i, chunk, frame(i))
			}
		}
	})

	t.Run("operations on unknown call", func(t *testing.T) {
		m := NewManager(NewMock(), "vi-VN")
		if err := m.PushAudio("ghost", []byte{1}); !errors.Is(err, ErrNoSession) {
			t.Errorf("push: expected ErrNoSession, got %v", err)
		}
		if _, ok := m.NextUtterance(context.Background(), "ghost"); ok {
			t.Error("utterance on unknown call reported ok")
		}
		m.Stop("ghost") // must not panic
	})
}
