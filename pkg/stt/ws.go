package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSRecognizer speaks a simple duplex websocket protocol: a JSON start
// frame, binary PCM frames up, JSON {"text","final"} frames down, and a
// JSON end frame when the caller is done sending. Transcription servers
// for several vendors expose this shape.
type WSRecognizer struct {
	// URL is the websocket endpoint, e.g. ws://host:port/stt.
	URL string
	// Dialer is swappable for tests; nil means the default dialer.
	Dialer *websocket.Dialer
}

type wsStartFrame struct {
	Type       string   `json:"type"`
	SampleRate int      `json:"sample_rate"`
	Language   string   `json:"language,omitempty"`
	Hints      []string `json:"hints,omitempty"`
}

type wsResultFrame struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
	Error string `json:"error,omitempty"`
}

type wsStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// OpenStream dials the endpoint and sends the start frame.
func (r *WSRecognizer) OpenStream(ctx context.Context, p StreamParams) (Stream, error) {
	if _, err := url.Parse(r.URL); err != nil {
		return nil, fmt.Errorf("stt: bad endpoint %q: %w", r.URL, err)
	}
	dialer := r.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, _, err := dialer.DialContext(ctx, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("stt: dial %s: %w", r.URL, err)
	}
	s := &wsStream{conn: conn}
	start := wsStartFrame{
		Type:       "start",
		SampleRate: p.SampleRate,
		Language:   p.Language,
		Hints:      p.Hints,
	}
	if err := s.writeJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stt: start frame: %w", err)
	}
	// Unwind the blocked read when the call is torn down.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	return s, nil
}

func (s *wsStream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsStream) Send(pcm []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *wsStream) CloseSend() error {
	return s.writeJSON(map[string]string{"type": "end"})
}

func (s *wsStream) Recv() (Result, error) {
	for {
		kind, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return Result{}, io.EOF
			}
			return Result{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		var frame wsResultFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.Error != "" {
			return Result{}, fmt.Errorf("stt: backend: %s", frame.Error)
		}
		return Result{Transcript: frame.Text, IsFinal: frame.Final}, nil
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
