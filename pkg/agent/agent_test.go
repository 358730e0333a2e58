package agent

import (
	"context"
	"testing"
	"time"

	"github.com/voxhaven/voxgate/internal/metrics"
	"github.com/voxhaven/voxgate/pkg/ari"
	"github.com/voxhaven/voxgate/pkg/eval"
	"github.com/voxhaven/voxgate/pkg/nlp"
	"github.com/voxhaven/voxgate/pkg/stt"
	"github.com/voxhaven/voxgate/pkg/tts"
)

func TestHandler(t *testing.T) {
	cfg := testCallConfig()
	sw := newMockSwitch()
	sw.AutoFinish = true

	rec := stt.NewMock()
	manager := stt.NewManager(rec, cfg.LanguageCode)
	tracker, err := eval.NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	h := NewHandler(cfg, sw, manager, nlp.NewMock(), tts.NewMock(), metrics.New(), tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	waitFor(t, "subscriptions", func() bool {
		return sw.SubscriberCount(ari.EventStasisStart) == 1 && sw.SubscriberCount(ari.EventStasisEnd) == 1
	})

	t.Run("caller channel starts a call", func(t *testing.T) {
		sw.Emit(ari.Event{Type: ari.EventStasisStart, Channel: &ari.Channel{ID: "chan-1", Name: "SIP/trunk-001"}})
		waitFor(t, "active call", func() bool { return h.ActiveCalls() == 1 })
		waitFor(t, "answer", func() bool {
			sw.mu.Lock()
			defer sw.mu.Unlock()
			return len(sw.answered) == 1
		})
	})

	t.Run("media fork channel ignored", func(t *testing.T) {
		sw.Emit(ari.Event{Type: ari.EventStasisStart, Channel: &ari.Channel{ID: "media-1", Name: "UnicastRTP/127.0.0.1:4000"}})
		time.Sleep(20 * time.Millisecond)
		if h.ActiveCalls() != 1 {
			t.Errorf("active calls = %d, want 1", h.ActiveCalls())
		}
	})

	t.Run("duplicate arrival ignored", func(t *testing.T) {
		sw.Emit(ari.Event{Type: ari.EventStasisStart, Channel: &ari.Channel{ID: "chan-1", Name: "SIP/trunk-001"}})
		time.Sleep(20 * time.Millisecond)
		if h.ActiveCalls() != 1 {
			t.Errorf("active calls = %d, want 1", h.ActiveCalls())
		}
	})

	t.Run("caller hangup cancels the call", func(t *testing.T) {
		sw.Emit(ari.Event{Type: ari.EventStasisEnd, Channel: &ari.Channel{ID: "chan-1"}})
		waitFor(t, "call teardown", func() bool { return h.ActiveCalls() == 0 })
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not shut down")
	}
}
