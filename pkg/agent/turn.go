package agent

import (
	"context"
	"strings"
	"time"

	"github.com/voxhaven/voxgate/pkg/guard"
	"github.com/voxhaven/voxgate/pkg/nlp"
)

// Turn is one completed exchange, recorded in call order. Records are
// never mutated after append and indices are gapless.
type Turn struct {
	Index   int
	User    string
	Agent   string
	Intent  string
	Emotion string
	Latency time.Duration
}

// turnResult is one completed exchange.
type turnResult struct {
	Text       string
	Intent     string
	Emotion    string
	LatencyMS  int64 // time to first audible chunk, -1 when nothing played
	Violations guard.Violations
}

// conversationLoop consumes caller utterances until the stream ends or
// an end intent is reached. Each turn is logged for offline review.
func (c *Call) conversationLoop(ctx context.Context) {
	var history []nlp.Message
	turnIndex := 0
	for {
		utterance, ok := c.stt.NextUtterance(ctx, c.ID)
		if !ok {
			c.logger.Info("no more utterances, ending conversation")
			return
		}
		c.logger.Info("caller utterance", "turn", turnIndex, "text", utterance)
		c.event(ctx, "reply")

		turnStart := time.Now()
		result := c.speakReply(ctx, utterance, history, turnStart)
		c.met.TurnsTotal.Inc()

		if result.Text != "" {
			history = append(history, nlp.Message{Role: "assistant", Content: result.Text})
		}

		var latency time.Duration
		if result.LatencyMS >= 0 {
			latency = time.Duration(result.LatencyMS) * time.Millisecond
		}
		c.appendTurn(Turn{
			Index:   turnIndex,
			User:    utterance,
			Agent:   result.Text,
			Intent:  result.Intent,
			Emotion: result.Emotion,
			Latency: latency,
		})

		meta := map[string]any{
			"response_text": result.Text,
			"intent":        result.Intent,
			"emotion":       result.Emotion,
		}
		if result.LatencyMS >= 0 {
			meta["latency_ms"] = result.LatencyMS
		}
		if !result.Violations.Empty() {
			meta["guardrail_violations"] = result.Violations
		}
		if err := c.tracker.LogTurn(c.ID, turnIndex, utterance, result.Text, meta); err != nil {
			c.logger.Warn("turn logging failed", "error", err)
		}
		turnIndex++
		c.event(ctx, "listen")

		if result.Intent == nlp.IntentEnd {
			c.logger.Info("end intent detected")
			return
		}
	}
}

// speakReply streams the engine's reply, playing chunks as they become
// speakable. Guard checks run on the accumulated text every token; a
// violation cuts playback over to the fallback line and hands off.
func (c *Call) speakReply(ctx context.Context, userText string, history []nlp.Message, turnStart time.Time) turnResult {
	redacted, piiMap := guard.RedactPII(userText)

	stream, err := c.nlp.StreamReply(ctx, redacted, history)
	if err != nil {
		c.met.NLPErrors.WithLabelValues("open_error").Inc()
		c.logger.Error("reply stream failed to open", "error", err)
		return turnResult{Intent: nlp.IntentContinue, Emotion: nlp.EmotionNeutral, LatencyMS: -1}
	}

	ck := NewChunker(c.cfg.ChunkMinChars, c.cfg.ChunkMaxChars, c.cfg.ChunkFlushPunct)
	var full strings.Builder
	var firstPlay time.Time

	for {
		token, ok := stream.Next()
		if !ok {
			break
		}
		full.WriteString(token)

		if safe, v := guard.CheckResponse(strings.TrimSpace(full.String())); !safe {
			c.logger.Warn("guard violation mid-stream, handing off")
			c.pb.StopAll(ctx, c.ID, "guardrail violation")
			c.playText(ctx, c.cfg.FallbackLine, &firstPlay)
			return turnResult{
				Text:       c.cfg.FallbackLine,
				Intent:     nlp.IntentHandoff,
				Emotion:    nlp.EmotionNeutral,
				LatencyMS:  latencyMS(turnStart, firstPlay),
				Violations: v,
			}
		}
		if chunk, ready := ck.Add(token); ready {
			c.playText(ctx, guard.UnredactPII(chunk, piiMap), &firstPlay)
		}
	}

	if err := stream.Err(); err != nil {
		c.met.NLPErrors.WithLabelValues("stream_error").Inc()
		c.logger.Error("reply stream failed", "error", err)
	}
	if chunk, ok := ck.Flush(); ok {
		c.playText(ctx, guard.UnredactPII(chunk, piiMap), &firstPlay)
	}

	reply := stream.Result()
	text := guard.Sanitize(guard.UnredactPII(reply.Text, piiMap))

	// The stream may pass token-by-token checks yet be unsafe as a whole.
	if safe, v := guard.CheckResponse(text); !safe {
		c.logger.Warn("guard violation on final text, handing off")
		c.pb.StopAll(ctx, c.ID, "guardrail violation")
		c.playText(ctx, c.cfg.FallbackLine, &firstPlay)
		return turnResult{
			Text:       c.cfg.FallbackLine,
			Intent:     nlp.IntentHandoff,
			Emotion:    nlp.EmotionNeutral,
			LatencyMS:  latencyMS(turnStart, firstPlay),
			Violations: v,
		}
	}

	if !firstPlay.IsZero() {
		c.met.NLPLatency.Observe(firstPlay.Sub(turnStart).Seconds())
	}
	return turnResult{
		Text:      text,
		Intent:    reply.Intent,
		Emotion:   reply.Emotion,
		LatencyMS: latencyMS(turnStart, firstPlay),
	}
}

// playText synthesizes one chunk and queues it on the caller's channel.
// Synthesis failures skip the chunk rather than abort the turn.
func (c *Call) playText(ctx context.Context, text string, firstPlay *time.Time) {
	text = guard.Sanitize(text)
	if text == "" {
		return
	}
	t0 := time.Now()
	res, err := c.tts.Synthesize(ctx, text)
	if err != nil {
		c.met.TTSErrors.Inc()
		c.logger.Error("synthesis failed", "error", err, "chars", len(text))
		return
	}
	c.met.TTSLatency.Observe(time.Since(t0).Seconds())

	if _, err := c.pb.Start(ctx, c.ChannelID, res.MediaRef, c.ID); err != nil {
		c.logger.Error("reply playback failed", "media", res.MediaRef, "error", err)
		return
	}
	if firstPlay.IsZero() {
		*firstPlay = time.Now()
	}
}

func latencyMS(turnStart, firstPlay time.Time) int64 {
	if firstPlay.IsZero() {
		return -1
	}
	return firstPlay.Sub(turnStart).Milliseconds()
}
