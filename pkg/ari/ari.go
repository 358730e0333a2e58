// Package ari is a client for the switch's control protocol: a REST
// command surface plus a persistent websocket event stream, authenticated
// with username/password and filtered by application name.
//
// One Client serves the whole process. Commands are independent
// request/response pairs and need no shared locking; event dispatch is
// single-threaded per delivery. Connection loss is retried forever with a
// fixed back-off and never crashes the process.
package ari

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ReconnectDelay is the fixed back-off between event stream dials.
const ReconnectDelay = 5 * time.Second

// Common errors.
var (
	ErrNotConnected = errors.New("ari: event stream not connected")
	ErrClosed       = errors.New("ari: client closed")
)

// CommandError is a failed REST command. During teardown a NotFound is
// expected (the target is already gone) and callers swallow it; anything
// else propagates as a fault.
type CommandError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("ari: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a command failure against a target
// that no longer exists.
func IsNotFound(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce) && ce.StatusCode == http.StatusNotFound
}

// Channel is the switch's view of one call leg.
type Channel struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	State string `json:"state,omitempty"`
}

// Playback is one queued media operation on a channel.
type Playback struct {
	ID       string `json:"id"`
	MediaURI string `json:"media_uri,omitempty"`
	State    string `json:"state,omitempty"`
}

// Event is one message off the event stream. Only the fields the agent
// consumes are modelled; the wire format is open-ended and unrecognized
// event types are ignored.
type Event struct {
	Type     string    `json:"type"`
	Channel  *Channel  `json:"channel,omitempty"`
	Playback *Playback `json:"playback,omitempty"`
	Digit    string    `json:"digit,omitempty"`
}

// Event types the agent reacts to.
const (
	EventStasisStart      = "StasisStart"
	EventStasisEnd        = "StasisEnd"
	EventPlaybackFinished = "PlaybackFinished"
	EventDTMFReceived     = "ChannelDtmfReceived"
)

// ChannelID returns the id of the event's channel, or "".
func (e Event) ChannelID() string {
	if e.Channel == nil {
		return ""
	}
	return e.Channel.ID
}

// PlaybackID returns the id of the event's playback, or "".
func (e Event) PlaybackID() string {
	if e.Playback == nil {
		return ""
	}
	return e.Playback.ID
}
