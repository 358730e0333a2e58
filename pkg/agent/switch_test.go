package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxhaven/voxgate/pkg/ari"
)

// mockSwitch fakes the control protocol in-process. Subscriptions and
// command recording mirror what the real client exposes; AutoFinish
// emits PlaybackFinished for every play, simulating a fast switch.
type mockSwitch struct {
	mu         sync.Mutex
	answered   []string
	plays      []mockPlay
	stopped    []string
	hungup     []string
	mediaReqs  []mockMediaReq
	handlers   map[string]map[int]func(ari.Event)
	nextSub    int
	playSeq    int
	AutoFinish bool
	PlayErr    error
	StopErr    error
}

type mockPlay struct {
	ID      string
	Channel string
	Media   string
}

type mockMediaReq struct {
	Channel   string
	HostPort  string
	Format    string
	Direction string
}

func newMockSwitch() *mockSwitch {
	return &mockSwitch{handlers: map[string]map[int]func(ari.Event){}}
}

func (m *mockSwitch) Answer(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answered = append(m.answered, channelID)
	return nil
}

func (m *mockSwitch) Play(ctx context.Context, channelID, mediaRef string) (string, error) {
	m.mu.Lock()
	if m.PlayErr != nil {
		err := m.PlayErr
		m.mu.Unlock()
		return "", err
	}
	m.playSeq++
	id := fmt.Sprintf("pb-%d", m.playSeq)
	m.plays = append(m.plays, mockPlay{ID: id, Channel: channelID, Media: mediaRef})
	auto := m.AutoFinish
	m.mu.Unlock()

	if auto {
		go m.FinishPlayback(id)
	}
	return id, nil
}

func (m *mockSwitch) StopPlayback(ctx context.Context, playbackID string) error {
	m.mu.Lock()
	m.stopped = append(m.stopped, playbackID)
	err := m.StopErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.FinishPlayback(playbackID)
	return nil
}

func (m *mockSwitch) ExternalMedia(ctx context.Context, channelID, hostPort, format, direction string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mediaReqs = append(m.mediaReqs, mockMediaReq{
		Channel: channelID, HostPort: hostPort, Format: format, Direction: direction,
	})
	return channelID + ":media", nil
}

func (m *mockSwitch) Hangup(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hungup = append(m.hungup, channelID)
	return nil
}

func (m *mockSwitch) Subscribe(eventType string, fn func(ari.Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.handlers[eventType]
	if !ok {
		set = map[int]func(ari.Event){}
		m.handlers[eventType] = set
	}
	m.nextSub++
	id := m.nextSub
	set[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[eventType], id)
	}
}

// Emit delivers an event to current subscribers, serially like the real
// dispatch loop.
func (m *mockSwitch) Emit(ev ari.Event) {
	m.mu.Lock()
	set := m.handlers[ev.Type]
	fns := make([]func(ari.Event), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// FinishPlayback emits PlaybackFinished for one playback.
func (m *mockSwitch) FinishPlayback(id string) {
	m.Emit(ari.Event{
		Type:     ari.EventPlaybackFinished,
		Playback: &ari.Playback{ID: id},
	})
}

func (m *mockSwitch) Plays() []mockPlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPlay, len(m.plays))
	copy(out, m.plays)
	return out
}

func (m *mockSwitch) PlayedMedia() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.plays))
	for i, p := range m.plays {
		out[i] = p.Media
	}
	return out
}

func (m *mockSwitch) Stopped() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.stopped))
	copy(out, m.stopped)
	return out
}

func (m *mockSwitch) SubscriberCount(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[eventType])
}

func (m *mockSwitch) MediaReqs() []mockMediaReq {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockMediaReq, len(m.mediaReqs))
	copy(out, m.mediaReqs)
	return out
}

func (m *mockSwitch) Hungup() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.hungup))
	copy(out, m.hungup)
	return out
}

var _ Switch = (*mockSwitch)(nil)
