package agent

import (
	"strings"
	"unicode/utf8"
)

// Chunker batches reply tokens into utterance-sized chunks for early
// synthesis. A chunk is released as soon as it ends in flush punctuation
// or reaches the size thresholds, so the caller hears the first part of
// a long reply while the rest is still streaming.
type Chunker struct {
	MinChars   int
	MaxChars   int
	FlushPunct string

	pending strings.Builder
}

// NewChunker builds a chunker with the given flush thresholds.
func NewChunker(minChars, maxChars int, flushPunct string) *Chunker {
	return &Chunker{MinChars: minChars, MaxChars: maxChars, FlushPunct: flushPunct}
}

// Add appends one token. When the accumulated text satisfies a flush
// rule, it is returned and the buffer resets.
func (c *Chunker) Add(token string) (chunk string, ok bool) {
	c.pending.WriteString(token)
	text := strings.TrimSpace(c.pending.String())
	if !c.shouldFlush(text) {
		return "", false
	}
	c.pending.Reset()
	return text, true
}

// Flush releases whatever remains, regardless of size. Called once the
// token stream ends.
func (c *Chunker) Flush() (chunk string, ok bool) {
	text := strings.TrimSpace(c.pending.String())
	c.pending.Reset()
	if text == "" {
		return "", false
	}
	return text, true
}

// Pending returns the not-yet-flushed text, for inspection.
func (c *Chunker) Pending() string {
	return strings.TrimSpace(c.pending.String())
}

func (c *Chunker) shouldFlush(text string) bool {
	if text == "" {
		return false
	}
	if r, _ := utf8.DecodeLastRuneInString(text); strings.ContainsRune(c.FlushPunct, r) {
		return true
	}
	n := utf8.RuneCountInString(text)
	if n >= c.MaxChars {
		return true
	}
	return n >= c.MinChars
}
