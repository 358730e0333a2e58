package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voxhaven/voxgate/internal/metrics"
	"github.com/voxhaven/voxgate/pkg/ari"
)

// ErrPlaybackTimeout is returned when a playback never reports finished
// within the configured bound.
var ErrPlaybackTimeout = errors.New("agent: playback timed out")

// Switch is the subset of the control protocol the agent drives.
// *ari.Client satisfies it.
type Switch interface {
	Answer(ctx context.Context, channelID string) error
	Play(ctx context.Context, channelID, mediaRef string) (string, error)
	StopPlayback(ctx context.Context, playbackID string) error
	ExternalMedia(ctx context.Context, channelID, hostPort, format, direction string) (string, error)
	Hangup(ctx context.Context, channelID string) error
	Subscribe(eventType string, fn func(ari.Event)) func()
}

// Playbacks tracks in-flight playbacks by owner so a barge-in can stop
// everything one speaker has queued. Each playback gets a monitor that
// clears it on the switch's PlaybackFinished event or on timeout.
type Playbacks struct {
	sw      Switch
	timeout time.Duration
	met     *metrics.Metrics
	logger  *slog.Logger
	unsub   func()

	mu      sync.Mutex
	owners  map[string]map[string]struct{} // owner -> playback IDs
	waiters map[string]chan struct{}       // playback ID -> closed on finished
	early   map[string]time.Time           // finished before registration
}

// NewPlaybacks builds the registry and subscribes to playback lifecycle
// events. Call Close when done.
func NewPlaybacks(sw Switch, timeout time.Duration, met *metrics.Metrics, logger *slog.Logger) *Playbacks {
	p := &Playbacks{
		sw:      sw,
		timeout: timeout,
		met:     met,
		logger:  logger,
		owners:  map[string]map[string]struct{}{},
		waiters: map[string]chan struct{}{},
		early:   map[string]time.Time{},
	}
	p.unsub = sw.Subscribe(ari.EventPlaybackFinished, p.onFinished)
	return p
}

// Close unsubscribes from switch events.
func (p *Playbacks) Close() {
	if p.unsub != nil {
		p.unsub()
	}
}

func (p *Playbacks) onFinished(ev ari.Event) {
	id := ev.PlaybackID()
	if id == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.waiters[id]; ok {
		close(ch)
		delete(p.waiters, id)
		return
	}
	// Finished event beat the play response; remember it briefly.
	p.early[id] = time.Now()
	for eid, ts := range p.early {
		if time.Since(ts) > p.timeout {
			delete(p.early, eid)
		}
	}
}

// Start plays media on the channel and registers the playback under
// owner. The returned id can be passed to Wait.
func (p *Playbacks) Start(ctx context.Context, channelID, mediaRef, owner string) (string, error) {
	id, err := p.sw.Play(ctx, channelID, mediaRef)
	if err != nil {
		return "", err
	}
	done := p.register(owner, id)
	go p.monitor(owner, id, done)
	return id, nil
}

func (p *Playbacks) register(owner, id string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	done := make(chan struct{})
	if _, finished := p.early[id]; finished {
		delete(p.early, id)
		close(done)
		return done
	}
	set, ok := p.owners[owner]
	if !ok {
		set = map[string]struct{}{}
		p.owners[owner] = set
	}
	set[id] = struct{}{}
	p.waiters[id] = done
	return done
}

// monitor clears the playback from its owner once it finishes or times
// out, so StopAll never chases long-gone playbacks.
func (p *Playbacks) monitor(owner, id string, done chan struct{}) {
	select {
	case <-done:
	case <-time.After(p.timeout):
		p.met.PlaybackTimeouts.Inc()
		p.logger.Debug("playback monitor timed out", "playback_id", id)
	}
	p.forget(owner, id)
}

func (p *Playbacks) forget(owner, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.waiters, id)
	if set, ok := p.owners[owner]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(p.owners, owner)
		}
	}
}

// Wait blocks until the playback finishes, times out, or ctx ends.
func (p *Playbacks) Wait(ctx context.Context, id string) error {
	p.mu.Lock()
	done, ok := p.waiters[id]
	p.mu.Unlock()
	if !ok {
		return nil // already finished or never registered
	}
	select {
	case <-done:
		return nil
	case <-time.After(p.timeout):
		return ErrPlaybackTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll stops every playback registered under owner. Safe to call for
// an owner with nothing playing. The switch reporting a playback as
// already gone is not an error.
func (p *Playbacks) StopAll(ctx context.Context, owner, reason string) {
	p.mu.Lock()
	set := p.owners[owner]
	delete(p.owners, owner)
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
		if ch, ok := p.waiters[id]; ok {
			close(ch)
			delete(p.waiters, id)
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.sw.StopPlayback(ctx, id); err != nil && !ari.IsNotFound(err) {
			p.logger.Debug("stop playback failed",
				"playback_id", id,
				"reason", reason,
				"error", err,
			)
			continue
		}
		p.logger.Info("stopped playback",
			"playback_id", id,
			"owner", owner,
			"reason", reason,
		)
	}
}

// Active reports how many playbacks owner currently has registered.
func (p *Playbacks) Active(owner string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.owners[owner])
}
