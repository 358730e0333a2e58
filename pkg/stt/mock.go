package stt

import (
	"context"
	"io"
	"sync"
)

// Mock is a scripted Recognizer for tests. Results are pushed through
// Emit and delivered to whichever stream is open; EndStream closes the
// result side the way a backend finishing would.
type Mock struct {
	mu       sync.Mutex
	streams  []*mockStream
	OpenErr  error
	received [][]byte
}

// NewMock returns an empty mock.
func NewMock() *Mock { return &Mock{} }

// OpenStream records the open and returns a stream fed by Emit.
func (m *Mock) OpenStream(ctx context.Context, p StreamParams) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := &mockStream{
		mock:    m,
		results: make(chan Result, 32),
		errs:    make(chan error, 1),
		ctx:     ctx,
	}
	m.streams = append(m.streams, s)
	return s, nil
}

// Emit delivers one result to the most recent open stream.
func (m *Mock) Emit(r Result) {
	if s := m.last(); s != nil {
		s.results <- r
	}
}

// Fail delivers a backend error to the most recent open stream.
func (m *Mock) Fail(err error) {
	if s := m.last(); s != nil {
		s.errs <- err
	}
}

// EndStream finishes the most recent open stream.
func (m *Mock) EndStream() {
	if s := m.last(); s != nil {
		s.closeOnce.Do(func() { close(s.results) })
	}
}

// Opened reports how many streams have been opened.
func (m *Mock) Opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Received returns every audio chunk sent to any stream.
func (m *Mock) Received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.received))
	copy(out, m.received)
	return out
}

// CloseSendCount reports how many streams saw end-of-input.
func (m *Mock) CloseSendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.streams {
		if s.sendClosed {
			n++
		}
	}
	return n
}

func (m *Mock) last() *mockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

type mockStream struct {
	mock       *Mock
	results    chan Result
	errs       chan error
	ctx        context.Context
	closeOnce  sync.Once
	sendClosed bool
}

func (s *mockStream) Send(pcm []byte) error {
	s.mock.mu.Lock()
	defer s.mock.mu.Unlock()
	s.mock.received = append(s.mock.received, pcm)
	return nil
}

func (s *mockStream) CloseSend() error {
	s.mock.mu.Lock()
	s.sendClosed = true
	s.mock.mu.Unlock()
	s.closeOnce.Do(func() { close(s.results) })
	return nil
}

func (s *mockStream) Recv() (Result, error) {
	select {
	case r, open := <-s.results:
		if !open {
			return Result{}, io.EOF
		}
		return r, nil
	case err := <-s.errs:
		return Result{}, err
	case <-s.ctx.Done():
		return Result{}, io.EOF
	}
}

func (s *mockStream) Close() error { return nil }
