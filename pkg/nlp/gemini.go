package nlp

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"
)

// Gemini streams replies from the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	system string
}

// NewGemini builds an engine against the Gemini API.
func NewGemini(ctx context.Context, apiKey, model, systemPrompt string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("nlp: gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, system: systemPrompt}, nil
}

// StreamReply opens a streaming generation for the turn.
func (e *Gemini) StreamReply(ctx context.Context, userText string, history []Message) (Stream, error) {
	var contents []*genai.Content
	for _, m := range history {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: userText}},
	})

	var cfg *genai.GenerateContentConfig
	if e.system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: e.system}}},
		}
	}

	next, stop := iter.Pull2(e.client.Models.GenerateContentStream(ctx, e.model, contents, cfg))
	return &gmStream{next: next, stop: stop, userText: userText}, nil
}

type gmStream struct {
	next     func() (*genai.GenerateContentResponse, error, bool)
	stop     func()
	userText string
	full     strings.Builder
	err      error
}

func (s *gmStream) Next() (string, bool) {
	for {
		resp, err, ok := s.next()
		if !ok {
			s.stop()
			return "", false
		}
		if err != nil {
			s.err = err
			s.stop()
			return "", false
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		s.full.WriteString(text)
		return text, true
	}
}

func (s *gmStream) Err() error { return s.err }

func (s *gmStream) Result() Reply {
	return Reply{
		Text:    strings.TrimSpace(s.full.String()),
		Intent:  DetectIntent(s.userText),
		Emotion: DetectEmotion(s.userText),
	}
}
