package nlp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAI streams chat completions from any OpenAI-compatible endpoint.
// The original deployment points this at a local llama.cpp server.
type OpenAI struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
	system      string
}

// OpenAIOption configures an OpenAI engine.
type OpenAIOption func(*OpenAI)

// WithSystemPrompt sets the system instruction prepended to every turn.
func WithSystemPrompt(prompt string) OpenAIOption {
	return func(e *OpenAI) { e.system = prompt }
}

// WithMaxTokens bounds the response length.
func WithMaxTokens(n int64) OpenAIOption {
	return func(e *OpenAI) { e.maxTokens = n }
}

// NewOpenAI builds an engine. baseURL may be empty for the public API.
func NewOpenAI(baseURL, apiKey, model string, opts ...OpenAIOption) *OpenAI {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	e := &OpenAI{
		client:      openai.NewClient(reqOpts...),
		model:       model,
		temperature: 0.3,
		maxTokens:   256,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StreamReply opens a streaming completion for the turn.
func (e *OpenAI) StreamReply(ctx context.Context, userText string, history []Message) (Stream, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if e.system != "" {
		msgs = append(msgs, openai.SystemMessage(e.system))
	}
	for _, m := range history {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(userText))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(e.model),
		Messages:    msgs,
		Temperature: openai.Float(e.temperature),
		MaxTokens:   openai.Int(e.maxTokens),
	}
	raw := e.client.Chat.Completions.NewStreaming(ctx, params)
	if err := raw.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("nlp: open stream: %w", err)
	}
	return &oaStream{raw: raw, userText: userText}, nil
}

type oaStream struct {
	raw      *ssestream.Stream[openai.ChatCompletionChunk]
	userText string
	full     strings.Builder
	done     bool
}

func (s *oaStream) Next() (string, bool) {
	for s.raw.Next() {
		chunk := s.raw.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		s.full.WriteString(delta)
		return delta, true
	}
	s.done = true
	return "", false
}

func (s *oaStream) Err() error {
	if err := s.raw.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Result tags the assembled reply. The chat endpoint returns no intent
// or emotion of its own, so the keyword classifiers fill them in.
func (s *oaStream) Result() Reply {
	return Reply{
		Text:    strings.TrimSpace(s.full.String()),
		Intent:  DetectIntent(s.userText),
		Emotion: DetectEmotion(s.userText),
	}
}
