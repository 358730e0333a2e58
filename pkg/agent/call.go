package agent

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/voxhaven/voxgate/internal/config"
	vlog "github.com/voxhaven/voxgate/internal/log"
	"github.com/voxhaven/voxgate/internal/metrics"
	"github.com/voxhaven/voxgate/pkg/ari"
	"github.com/voxhaven/voxgate/pkg/eval"
	"github.com/voxhaven/voxgate/pkg/media"
	"github.com/voxhaven/voxgate/pkg/nlp"
	"github.com/voxhaven/voxgate/pkg/stt"
	"github.com/voxhaven/voxgate/pkg/tts"
)

// Call lifecycle states.
const (
	StateAnswering  = "answering"
	StateMediaSetup = "media_setup"
	StateGreeting   = "greeting"
	StateListening  = "listening"
	StateSpeaking   = "speaking"
	StateEnding     = "ending"
	StateClosed     = "closed"
)

// newCallFSM wires the per-call state machine.
// Events: answered, media_ready, greeted, reply, listen, end, close.
func newCallFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateAnswering,
		fsm.Events{
			{Name: "answered", Src: []string{StateAnswering}, Dst: StateMediaSetup},
			{Name: "media_ready", Src: []string{StateMediaSetup}, Dst: StateGreeting},
			{Name: "greeted", Src: []string{StateGreeting}, Dst: StateListening},
			{Name: "reply", Src: []string{StateListening}, Dst: StateSpeaking},
			{Name: "listen", Src: []string{StateSpeaking}, Dst: StateListening},
			{Name: "end", Src: []string{StateGreeting, StateListening, StateSpeaking}, Dst: StateEnding},
			{Name: "close", Src: []string{
				StateAnswering, StateMediaSetup, StateGreeting,
				StateListening, StateSpeaking, StateEnding,
			}, Dst: StateClosed},
		}, nil,
	)
}

// Call runs one caller's conversation end to end: answer, media setup,
// greeting, the listen/speak loop and teardown. Teardown always runs,
// whatever stage the call died in, and hangs up the caller exactly once.
type Call struct {
	ID        string // session id, also the caller channel id
	ChannelID string

	cfg     config.Config
	sw      Switch
	stt     *stt.Manager
	nlp     nlp.Engine
	tts     tts.Synthesizer
	pb      *Playbacks
	met     *metrics.Metrics
	tracker *eval.Tracker
	logger  *slog.Logger
	machine *fsm.FSM

	endpoint     *media.Endpoint
	mediaChannel string
	sttStarted   bool

	turnsMu sync.Mutex
	turns   []Turn
}

// NewCall builds the orchestrator for one channel that entered the
// application.
func NewCall(channelID string, cfg config.Config, sw Switch, sm *stt.Manager, eng nlp.Engine, syn tts.Synthesizer, pb *Playbacks, met *metrics.Metrics, tracker *eval.Tracker) *Call {
	return &Call{
		ID:        channelID,
		ChannelID: channelID,
		cfg:       cfg,
		sw:        sw,
		stt:       sm,
		nlp:       eng,
		tts:       syn,
		pb:        pb,
		met:       met,
		tracker:   tracker,
		logger:    vlog.Call(channelID),
		machine:   newCallFSM(),
	}
}

// State returns the current lifecycle state.
func (c *Call) State() string { return c.machine.Current() }

// Turns returns a copy of the completed exchanges so far.
func (c *Call) Turns() []Turn {
	c.turnsMu.Lock()
	defer c.turnsMu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Call) appendTurn(t Turn) {
	c.turnsMu.Lock()
	c.turns = append(c.turns, t)
	c.turnsMu.Unlock()
}

// Run drives the call until the conversation ends, the caller hangs up,
// or ctx is cancelled.
func (c *Call) Run(ctx context.Context) error {
	start := time.Now()
	c.met.CallsStarted.Inc()
	c.logger.Info("call started")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.cleanup(start)

	if err := c.sw.Answer(ctx, c.ChannelID); err != nil {
		c.logger.Error("answer failed", "error", err)
		return err
	}
	c.event(ctx, "answered")

	if err := c.stt.Start(ctx, c.ID, c.cfg.SampleRate, nil); err != nil {
		c.logger.Error("transcription session failed", "error", err)
		return err
	}
	c.sttStarted = true
	// The first partial transcript doubles as a barge-in signal.
	_ = c.stt.SetPartialCallback(c.ID, func(string) {
		c.pb.StopAll(ctx, c.ID, "caller speech detected")
	})

	if err := c.attachMedia(ctx); err != nil {
		c.logger.Error("media setup failed", "error", err)
		return err
	}
	c.event(ctx, "media_ready")

	c.playGreeting(ctx)
	c.event(ctx, "greeted")

	repromptCtx, cancelReprompt := context.WithCancel(ctx)
	defer cancelReprompt()
	go c.repromptOnSilence(repromptCtx)

	c.conversationLoop(ctx)
	c.event(ctx, "end")
	return nil
}

// attachMedia binds the local RTP endpoint and asks the switch to fork
// the channel's audio to it.
func (c *Call) attachMedia(ctx context.Context) error {
	var vad *media.VAD
	if c.cfg.VADEnabled {
		vad = media.NewVAD(c.cfg.VADThreshold, c.cfg.VADActivationFrames, c.cfg.VADReleaseFrames)
	}

	ep, err := media.NewEndpoint(c.cfg.MediaBindIP, vad)
	if err != nil {
		return err
	}
	ep.Sink = func(chunk []byte) {
		_ = c.stt.PushAudio(c.ID, chunk)
	}
	ep.OnSpeech = func() {
		c.met.BargeIns.Inc()
		c.pb.StopAll(ctx, c.ID, "speech energy detected")
	}
	ep.OnDrop = func() {
		c.met.DroppedPackets.Inc()
	}
	c.endpoint = ep
	go func() {
		if err := ep.Run(ctx); err != nil {
			c.logger.Warn("media endpoint stopped", "error", err)
		}
	}()

	hostPort := net.JoinHostPort(c.cfg.MediaHost, strconv.Itoa(ep.Port()))
	c.logger.Info("requesting external media", "target", hostPort, "format", c.cfg.MediaFormat)
	mediaID, err := c.sw.ExternalMedia(ctx, c.ChannelID, hostPort, c.cfg.MediaFormat, c.cfg.MediaDirection)
	if err != nil {
		ep.Close()
		c.endpoint = nil
		return err
	}
	c.mediaChannel = mediaID
	c.logger.Info("external media established", "media_channel", mediaID)

	if c.cfg.MediaDirection == "both" {
		go c.runOutbound(ctx, ep)
	}
	return nil
}

// runOutbound keeps the bidirectional media leg fed: once the switch's
// source address is learned from its first packet, a paced stream of
// silence frames flows back so the leg's RTP clock never stalls between
// replies. The switch mixes injected audio, so silence is inert.
func (c *Call) runOutbound(ctx context.Context, ep *media.Endpoint) {
	for ep.Peer() == nil {
		select {
		case <-ctx.Done():
			return
		case <-time.After(media.DefaultFrameDuration):
		}
	}
	sender, err := ep.Sender(media.PayloadTypeFor(c.cfg.MediaFormat), c.cfg.SampleRate, media.DefaultFrameDuration)
	if err != nil {
		c.logger.Warn("outbound media unavailable", "error", err)
		return
	}
	samples := int(float64(c.cfg.SampleRate) * media.DefaultFrameDuration.Seconds())
	frame := media.SilenceFrame(c.cfg.MediaFormat, samples)
	c.logger.Info("outbound media started", "format", c.cfg.MediaFormat, "samples_per_frame", samples)

	ticker := time.NewTicker(media.DefaultFrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sender.WriteFrame(frame); err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("outbound media stopped", "error", err)
				}
				return
			}
		}
	}
}

// playGreeting plays the greeting and races it against caller input: a
// DTMF digit stops the greeting immediately so eager callers are not
// forced to sit through it.
func (c *Call) playGreeting(ctx context.Context) {
	owner := c.ID + ":greeting"
	dtmf := make(chan string, 1)
	unsub := c.sw.Subscribe(ari.EventDTMFReceived, func(ev ari.Event) {
		if ev.ChannelID() != c.ChannelID {
			return
		}
		select {
		case dtmf <- ev.Digit:
		default:
		}
	})
	defer unsub()
	defer c.pb.StopAll(ctx, owner, "greeting finished")

	c.logger.Info("playing greeting", "media", c.cfg.GreetingMedia)
	id, err := c.pb.Start(ctx, c.ChannelID, c.cfg.GreetingMedia, owner)
	if err != nil {
		c.logger.Error("greeting playback failed", "error", err)
		return
	}

	finished := make(chan error, 1)
	go func() { finished <- c.pb.Wait(ctx, id) }()

	select {
	case digit := <-dtmf:
		c.met.BargeIns.Inc()
		c.logger.Info("greeting interrupted", "digit", digit)
		c.pb.StopAll(ctx, owner, "greeting dtmf")
	case err := <-finished:
		if err != nil {
			c.logger.Debug("greeting wait ended", "error", err)
		}
	case <-ctx.Done():
	}
}

// repromptOnSilence plays the reprompt once if the caller said nothing
// after the greeting. Any detected speech, even a partial, suppresses it.
func (c *Call) repromptOnSilence(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(c.cfg.SilenceReprompt):
	}
	if c.stt.HasSpeech(c.ID) {
		c.logger.Debug("reprompt skipped, speech already detected")
		return
	}
	c.logger.Info("no speech after greeting, playing reprompt", "media", c.cfg.RepromptMedia)
	if _, err := c.pb.Start(ctx, c.ChannelID, c.cfg.RepromptMedia, c.ID); err != nil {
		c.logger.Warn("reprompt playback failed", "error", err)
	}
}

// cleanup tears the call down in dependency order. Every step tolerates
// the target already being gone.
func (c *Call) cleanup(start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.pb.StopAll(ctx, c.ID, "call ending")
	c.pb.StopAll(ctx, c.ID+":greeting", "call ending")

	if c.endpoint != nil {
		_ = c.endpoint.Close()
	}
	if c.mediaChannel != "" {
		if err := c.sw.Hangup(ctx, c.mediaChannel); err != nil && !ari.IsNotFound(err) {
			c.logger.Debug("media channel hangup failed", "error", err)
		}
	}
	if c.sttStarted {
		_ = c.stt.PushAudio(c.ID, nil)
		c.stt.Stop(c.ID)
	}
	if err := c.sw.Hangup(ctx, c.ChannelID); err != nil && !ari.IsNotFound(err) {
		c.logger.Debug("channel hangup failed", "error", err)
	}

	c.met.CallsEnded.Inc()
	c.event(ctx, "close")
	c.logger.Info("call finished", "duration_s", time.Since(start).Seconds())
}

func (c *Call) event(ctx context.Context, name string) {
	if err := c.machine.Event(ctx, name); err != nil {
		c.logger.Debug("state transition rejected",
			"event", name,
			"state", c.machine.Current(),
			"error", err,
		)
	}
}
