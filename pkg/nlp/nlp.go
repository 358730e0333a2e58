// Package nlp generates the agent's replies. An Engine streams tokens
// for low time-to-first-audio and reports, at stream end, the intent and
// emotion tags the orchestrator uses for turn-taking decisions.
//
// Variants: OpenAI (any OpenAI-compatible endpoint, including a local
// llama.cpp server), Gemini, and Mock. Selection is configuration, not
// runtime type discovery.
package nlp

import (
	"context"
	"strings"
)

// Intent tags driving the conversation loop.
const (
	IntentContinue = "continue_conversation"
	IntentEnd      = "end_conversation"
	IntentHandoff  = "handoff_to_agent"
)

// Emotion tags attached to each turn.
const (
	EmotionPositive = "positive"
	EmotionNegative = "negative"
	EmotionNeutral  = "neutral"
)

// Message is one prior exchange element.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// Reply is the completed response for one turn.
type Reply struct {
	Text    string
	Intent  string
	Emotion string
}

// Stream is an incremental token sequence. After Next reports false,
// Err distinguishes a clean end from a backend fault and Result carries
// the assembled reply with its tags.
type Stream interface {
	Next() (token string, ok bool)
	Err() error
	Result() Reply
}

// Engine produces a reply stream for the user's utterance given the
// prior turns.
type Engine interface {
	StreamReply(ctx context.Context, userText string, history []Message) (Stream, error)
}

// endKeywords closes the conversation when present in the user's text.
var endKeywords = []string{
	"tạm biệt", "kết thúc", "cảm ơn", "vậy thôi",
	"goodbye", "bye",
}

var positiveKeywords = []string{"vui", "tốt", "great", "thanks"}
var negativeKeywords = []string{"buồn", "không hài lòng", "angry", "bad"}

// DetectIntent classifies the user's utterance by keyword. A lightweight
// stand-in for an NLU model; backends may override it with their own tag.
func DetectIntent(userText string) string {
	lower := strings.ToLower(userText)
	for _, kw := range endKeywords {
		if strings.Contains(lower, kw) {
			return IntentEnd
		}
	}
	return IntentContinue
}

// DetectEmotion classifies the user's utterance by keyword.
func DetectEmotion(userText string) string {
	lower := strings.ToLower(userText)
	for _, kw := range positiveKeywords {
		if strings.Contains(lower, kw) {
			return EmotionPositive
		}
	}
	for _, kw := range negativeKeywords {
		if strings.Contains(lower, kw) {
			return EmotionNegative
		}
	}
	return EmotionNeutral
}
