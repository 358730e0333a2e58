// Package agent orchestrates voice calls end to end: it reacts to
// channels entering the application, forks their audio to the
// transcription pipeline, and runs the listen/speak loop against the
// language and synthesis backends until the conversation ends.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/voxhaven/voxgate/internal/config"
	vlog "github.com/voxhaven/voxgate/internal/log"
	"github.com/voxhaven/voxgate/internal/metrics"
	"github.com/voxhaven/voxgate/pkg/ari"
	"github.com/voxhaven/voxgate/pkg/eval"
	"github.com/voxhaven/voxgate/pkg/nlp"
	"github.com/voxhaven/voxgate/pkg/stt"
	"github.com/voxhaven/voxgate/pkg/tts"
)

// externalMediaPrefix marks channels the switch creates for the audio
// fork itself; those re-enter the application and must not be treated
// as callers.
const externalMediaPrefix = "UnicastRTP"

// Handler accepts incoming channels and runs one Call per caller.
type Handler struct {
	cfg     config.Config
	sw      Switch
	stt     *stt.Manager
	nlp     nlp.Engine
	tts     tts.Synthesizer
	pb      *Playbacks
	met     *metrics.Metrics
	tracker *eval.Tracker
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
	unsub  func()
}

// NewHandler wires the call orchestrator. The handler owns the playback
// registry; everything else is shared infrastructure passed in.
func NewHandler(cfg config.Config, sw Switch, sm *stt.Manager, eng nlp.Engine, syn tts.Synthesizer, met *metrics.Metrics, tracker *eval.Tracker) *Handler {
	return &Handler{
		cfg:     cfg,
		sw:      sw,
		stt:     sm,
		nlp:     eng,
		tts:     syn,
		pb:      NewPlaybacks(sw, cfg.PlaybackTimeout, met, vlog.With("component", "agent.playbacks")),
		met:     met,
		tracker: tracker,
		logger:  vlog.With("component", "agent"),
		active:  map[string]context.CancelFunc{},
	}
}

// Run subscribes to channel arrivals and blocks until ctx is cancelled,
// then waits for in-flight calls to finish their teardown.
func (h *Handler) Run(ctx context.Context) error {
	h.unsub = h.sw.Subscribe(ari.EventStasisStart, func(ev ari.Event) {
		h.onStasisStart(ctx, ev)
	})
	endUnsub := h.sw.Subscribe(ari.EventStasisEnd, h.onStasisEnd)

	<-ctx.Done()

	h.unsub()
	endUnsub()
	h.wg.Wait()
	h.pb.Close()
	return nil
}

func (h *Handler) onStasisStart(ctx context.Context, ev ari.Event) {
	channelID := ev.ChannelID()
	if channelID == "" {
		return
	}
	if ev.Channel != nil && strings.HasPrefix(ev.Channel.Name, externalMediaPrefix) {
		h.logger.Debug("ignoring media fork channel", "channel", channelID)
		return
	}

	h.mu.Lock()
	if _, exists := h.active[channelID]; exists {
		h.mu.Unlock()
		h.logger.Warn("duplicate channel arrival ignored", "channel", channelID)
		return
	}
	callCtx, cancel := context.WithCancel(ctx)
	h.active[channelID] = cancel
	h.mu.Unlock()

	call := NewCall(channelID, h.cfg, h.sw, h.stt, h.nlp, h.tts, h.pb, h.met, h.tracker)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			cancel()
			h.mu.Lock()
			delete(h.active, channelID)
			h.mu.Unlock()
		}()
		if err := call.Run(callCtx); err != nil {
			h.logger.Error("call failed", "channel", channelID, "error", err)
		}
	}()
}

// onStasisEnd cancels the call when the caller hangs up first; the
// call's own teardown handles the rest.
func (h *Handler) onStasisEnd(ev ari.Event) {
	channelID := ev.ChannelID()
	if channelID == "" {
		return
	}
	h.mu.Lock()
	cancel, ok := h.active[channelID]
	h.mu.Unlock()
	if ok {
		h.logger.Info("caller left, cancelling call", "channel", channelID)
		cancel()
	}
}

// ActiveCalls reports how many calls are currently in flight.
func (h *Handler) ActiveCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}
