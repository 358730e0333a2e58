// Package eval records conversation turns for offline quality review.
// Each day's turns go to one JSONL file so log shipping and retention
// stay trivial.
package eval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one logged conversation turn.
type Record struct {
	TS        float64        `json:"ts"`
	SessionID string         `json:"session_id"`
	TurnIndex int            `json:"turn_index"`
	UserText  string         `json:"user_text"`
	BotText   string         `json:"bot_text"`
	Metadata  map[string]any `json:"metadata"`
}

// Summary aggregates one day's records.
type Summary struct {
	Turns         int            `json:"turns"`
	AvgBotLength  float64        `json:"avg_bot_length"`
	AvgUserLength float64        `json:"avg_user_length"`
	IntentCounts  map[string]int `json:"intent_counts"`
}

// Tracker appends turn records to per-day JSONL files.
type Tracker struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

// NewTracker creates a tracker writing under dir, creating it if needed.
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eval: create log dir: %w", err)
	}
	return &Tracker{dir: dir, now: time.Now}, nil
}

func (t *Tracker) fileForToday() string {
	day := t.now().UTC().Format("2006-01-02")
	return filepath.Join(t.dir, day+".jsonl")
}

// LogTurn appends one turn to today's file.
func (t *Tracker) LogTurn(sessionID string, turnIndex int, userText, botText string, metadata map[string]any) error {
	rec := Record{
		TS:        float64(t.now().UnixNano()) / float64(time.Second),
		SessionID: sessionID,
		TurnIndex: turnIndex,
		UserText:  userText,
		BotText:   botText,
		Metadata:  metadata,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("eval: marshal record: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(t.fileForToday(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("eval: open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("eval: append record: %w", err)
	}
	return nil
}

// Summarize reads back today's file. A missing file yields an empty
// summary, not an error.
func (t *Tracker) Summarize() (*Summary, error) {
	s := &Summary{IntentCounts: map[string]int{}}

	t.mu.Lock()
	path := t.fileForToday()
	t.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("eval: open log file: %w", err)
	}
	defer f.Close()

	var totalBot, totalUser int
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("eval: corrupt record: %w", err)
		}
		s.Turns++
		totalBot += len(rec.BotText)
		totalUser += len(rec.UserText)

		intent := "unknown"
		if v, ok := rec.Metadata["intent"].(string); ok && v != "" {
			intent = v
		}
		s.IntentCounts[intent]++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("eval: read log file: %w", err)
	}

	if s.Turns > 0 {
		s.AvgBotLength = float64(totalBot) / float64(s.Turns)
		s.AvgUserLength = float64(totalUser) / float64(s.Turns)
	}
	return s, nil
}
