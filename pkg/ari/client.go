package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxhaven/voxgate/internal/httpc"
	"github.com/voxhaven/voxgate/internal/log"
)

// Client talks to the switch: REST commands plus one persistent event
// websocket. Safe for concurrent command use.
type Client struct {
	baseURL  string
	username string
	password string
	app      string

	http *http.Client

	mu       sync.Mutex
	handlers map[string]map[int]func(Event)
	nextSub  int

	connected atomic.Bool
	closed    atomic.Bool

	// dialer is swappable for tests.
	dialer *websocket.Dialer
}

// NewClient builds a Client for the given switch base URL (http://host:8088),
// credentials, and application-name filter.
func NewClient(baseURL, username, password, app string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		app:      app,
		http:     httpc.Client,
		handlers: make(map[string]map[int]func(Event)),
		dialer:   websocket.DefaultDialer,
	}
}

// Connected reports whether the event stream is up. Commands may still be
// attempted while down; they fail independently.
func (c *Client) Connected() bool { return c.connected.Load() }

// Subscribe registers fn for one event type and returns an unsubscribe
// func. Handlers run sequentially on the event loop goroutine; they must
// not block.
func (c *Client) Subscribe(eventType string, fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	if c.handlers[eventType] == nil {
		c.handlers[eventType] = make(map[int]func(Event))
	}
	c.handlers[eventType][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[eventType], id)
	}
}

// Run connects the event stream and dispatches events until ctx is
// cancelled, reconnecting forever with a fixed back-off on any failure.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			c.closed.Store(true)
			return nil
		}
		if err := c.runOnce(ctx); err != nil {
			log.Warn("event stream lost, reconnecting", "error", err, "delay", ReconnectDelay)
		}
		select {
		case <-ctx.Done():
			c.closed.Store(true)
			return nil
		case <-time.After(ReconnectDelay):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	wsURL, err := c.eventsURL()
	if err != nil {
		return err
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("ari: dial events: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("ari: dial events: %w", err)
	}
	defer conn.Close()

	c.connected.Store(true)
	defer c.connected.Store(false)
	log.Info("event stream connected", "app", c.app)

	// Close the socket when ctx ends so the blocked read unwinds.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ari: read event: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Debug("undecodable event skipped", "error", err)
			continue
		}
		c.dispatch(ev)
	}
}

// dispatch runs all handlers for one event, serially. A handler snapshot
// keeps unsubscribes during delivery safe.
func (c *Client) dispatch(ev Event) {
	c.mu.Lock()
	var fns []func(Event)
	for _, fn := range c.handlers[ev.Type] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("ari: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ari/events"
	q := u.Query()
	q.Set("app", c.app)
	q.Set("api_key", c.username+":"+c.password)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Answer answers an inbound channel.
func (c *Client) Answer(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/ari/channels/"+channelID+"/answer", nil, nil)
}

// Play queues media on a channel and returns the switch-issued playback id.
func (c *Client) Play(ctx context.Context, channelID, mediaRef string) (string, error) {
	q := url.Values{"media": {mediaRef}}
	var pb Playback
	if err := c.do(ctx, http.MethodPost, "/ari/channels/"+channelID+"/play", q, &pb); err != nil {
		return "", err
	}
	return pb.ID, nil
}

// StopPlayback stops one playback by id.
func (c *Client) StopPlayback(ctx context.Context, playbackID string) error {
	return c.do(ctx, http.MethodDelete, "/ari/playbacks/"+playbackID, nil, nil)
}

// ExternalMedia asks the switch to forward the channel's audio to hostPort
// over UDP RTP and returns the media channel id.
func (c *Client) ExternalMedia(ctx context.Context, channelID, hostPort, format, direction string) (string, error) {
	q := url.Values{
		"channelId":     {channelID},
		"app":           {c.app},
		"external_host": {hostPort},
		"format":        {format},
		"direction":     {direction},
		"transport":     {"udp"},
	}
	var ch Channel
	if err := c.do(ctx, http.MethodPost, "/ari/channels/externalMedia", q, &ch); err != nil {
		return "", err
	}
	return ch.ID, nil
}

// Hangup tears down a channel. Returns a NotFound CommandError when the
// channel is already gone; callers tolerate that during cleanup.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/ari/channels/"+channelID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("ari: build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ari: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &CommandError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("ari: decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}
