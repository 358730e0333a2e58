package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxhaven/voxgate/internal/log"
	"github.com/voxhaven/voxgate/internal/metrics"
	"github.com/voxhaven/voxgate/pkg/ari"
)

func newTestPlaybacks(t *testing.T, sw Switch, timeout time.Duration) *Playbacks {
	t.Helper()
	p := NewPlaybacks(sw, timeout, metrics.New(), log.With("test", t.Name()))
	t.Cleanup(p.Close)
	return p
}

func TestPlaybacks(t *testing.T) {
	ctx := context.Background()

	t.Run("wait returns on finished event", func(t *testing.T) {
		sw := newMockSwitch()
		p := newTestPlaybacks(t, sw, time.Second)

		id, err := p.Start(ctx, "chan-1", "sound:hello", "owner-1")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		done := make(chan error, 1)
		go func() { done <- p.Wait(ctx, id) }()

		sw.FinishPlayback(id)
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Wait: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Wait did not return after finished event")
		}
		waitForActive(t, p, "owner-1", 0)
	})

	t.Run("finished event before registration", func(t *testing.T) {
		sw := newMockSwitch()
		sw.AutoFinish = true
		p := newTestPlaybacks(t, sw, time.Second)

		id, err := p.Start(ctx, "chan-1", "sound:hello", "owner-1")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := p.Wait(ctx, id); err != nil {
			t.Errorf("Wait: %v", err)
		}
		waitForActive(t, p, "owner-1", 0)
	})

	t.Run("wait times out", func(t *testing.T) {
		sw := newMockSwitch()
		p := newTestPlaybacks(t, sw, 50*time.Millisecond)

		id, _ := p.Start(ctx, "chan-1", "sound:hello", "owner-1")
		if err := p.Wait(ctx, id); !errors.Is(err, ErrPlaybackTimeout) {
			t.Errorf("Wait = %v, want ErrPlaybackTimeout", err)
		}
	})

	t.Run("stop all stops every owned playback", func(t *testing.T) {
		sw := newMockSwitch()
		p := newTestPlaybacks(t, sw, time.Second)

		a, _ := p.Start(ctx, "chan-1", "sound:a", "owner-1")
		b, _ := p.Start(ctx, "chan-1", "sound:b", "owner-1")
		other, _ := p.Start(ctx, "chan-2", "sound:c", "owner-2")

		p.StopAll(ctx, "owner-1", "barge-in")

		stopped := sw.Stopped()
		if len(stopped) != 2 {
			t.Fatalf("stopped = %v, want 2 entries", stopped)
		}
		for _, id := range stopped {
			if id == other {
				t.Errorf("stopped unrelated playback %s", id)
			}
			if id != a && id != b {
				t.Errorf("stopped unknown playback %s", id)
			}
		}
		if p.Active("owner-2") != 1 {
			t.Errorf("owner-2 active = %d, want 1", p.Active("owner-2"))
		}
	})

	t.Run("stop all is idempotent", func(t *testing.T) {
		sw := newMockSwitch()
		p := newTestPlaybacks(t, sw, time.Second)

		p.Start(ctx, "chan-1", "sound:a", "owner-1")
		p.StopAll(ctx, "owner-1", "first")
		p.StopAll(ctx, "owner-1", "second")
		p.StopAll(ctx, "never-played", "third")

		if got := len(sw.Stopped()); got != 1 {
			t.Errorf("stop commands = %d, want 1", got)
		}
	})

	t.Run("already-gone playback is not an error", func(t *testing.T) {
		sw := newMockSwitch()
		sw.StopErr = &ari.CommandError{StatusCode: 404, Method: "DELETE", Path: "/playbacks/x"}
		p := newTestPlaybacks(t, sw, time.Second)

		p.Start(ctx, "chan-1", "sound:a", "owner-1")
		p.StopAll(ctx, "owner-1", "teardown")
		if p.Active("owner-1") != 0 {
			t.Errorf("owner still has active playbacks after StopAll")
		}
	})
}

// waitForActive polls until the owner's registry drains; monitors clear
// entries asynchronously.
func waitForActive(t *testing.T, p *Playbacks, owner string, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Active(owner) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("owner %s active = %d, want %d", owner, p.Active(owner), want)
}
