package stt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// echoASR transcribes every binary frame as "chunk-N" and finishes with a
// final transcript when the end frame arrives.
func echoASR(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// First frame must be the start frame.
		var start wsStartFrame
		if err := conn.ReadJSON(&start); err != nil || start.Type != "start" {
			return
		}
		if start.SampleRate != 8000 {
			t.Errorf("sample rate = %d, want 8000", start.SampleRate)
		}

		n := 0
		for {
			kind, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				n++
				_ = conn.WriteJSON(wsResultFrame{Text: "chunk", Final: false})
				continue
			}
			var ctl map[string]string
			if json.Unmarshal(raw, &ctl) == nil && ctl["type"] == "end" {
				_ = conn.WriteJSON(wsResultFrame{Text: "all done", Final: true})
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
		}
	}))
}

func TestWSRecognizer(t *testing.T) {
	srv := echoASR(t)
	defer srv.Close()

	rec := &WSRecognizer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := rec.OpenStream(ctx, StreamParams{SampleRate: 8000, Language: "vi-VN"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	if err := stream.Send(make([]byte, 320)); err != nil {
		t.Fatalf("send: %v", err)
	}
	r, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv partial: %v", err)
	}
	if r.IsFinal || r.Transcript != "chunk" {
		t.Errorf("partial = %+v, want non-final \"chunk\"", r)
	}

	if err := stream.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
	r, err = stream.Recv()
	if err != nil {
		t.Fatalf("recv final: %v", err)
	}
	if !r.IsFinal || r.Transcript != "all done" {
		t.Errorf("final = %+v, want final \"all done\"", r)
	}

	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after close, got %v", err)
	}
}
