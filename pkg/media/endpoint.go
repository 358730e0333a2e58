package media

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxhaven/voxgate/internal/log"
)

// readDeadline bounds each blocking read so the loop can observe
// cancellation without racing the socket close.
const readDeadline = 250 * time.Millisecond

// Endpoint is one call's locally bound media socket. The switch forwards
// the channel's audio here as RTP over UDP; Run parses each datagram and
// hands the payload to the audio sink, feeding the VAD along the way.
type Endpoint struct {
	conn *net.UDPConn
	vad  *VAD

	// Sink receives every extracted payload, in arrival order.
	Sink func(payload []byte)
	// OnSpeech fires on the VAD rising edge (barge-in trigger).
	OnSpeech func()
	// OnDrop fires for every discarded malformed packet.
	OnDrop func()

	peerMu sync.Mutex
	peer   *net.UDPAddr

	dropped atomic.Uint64
}

// NewEndpoint binds a UDP socket on bindIP with an ephemeral port.
func NewEndpoint(bindIP string, vad *VAD) (*Endpoint, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(bindIP)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("media: bind %s: %w", bindIP, err)
	}
	return &Endpoint{conn: conn, vad: vad}, nil
}

// Port returns the locally bound UDP port.
func (e *Endpoint) Port() int {
	return e.conn.LocalAddr().(*net.UDPAddr).Port
}

// Dropped returns how many malformed packets were discarded.
func (e *Endpoint) Dropped() uint64 { return e.dropped.Load() }

// Peer returns the switch-side source address, once learned from the
// first inbound datagram. Nil until then.
func (e *Endpoint) Peer() *net.UDPAddr {
	e.peerMu.Lock()
	defer e.peerMu.Unlock()
	return e.peer
}

// Run reads datagrams until ctx is cancelled. Malformed packets are
// dropped silently and counted; everything else flows to Sink. Run
// returns nil on cancellation.
func (e *Endpoint) Run(ctx context.Context) error {
	buf := make([]byte, 2048)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_ = e.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("media read error", "error", err)
			return err
		}
		e.peerMu.Lock()
		if e.peer == nil {
			e.peer = addr
		}
		e.peerMu.Unlock()

		payload := ExtractPayload(buf[:n])
		if payload == nil {
			e.dropped.Add(1)
			if e.OnDrop != nil {
				e.OnDrop()
			}
			continue
		}
		if len(payload) == 0 {
			continue
		}
		if e.Sink != nil {
			chunk := make([]byte, len(payload))
			copy(chunk, payload)
			e.Sink(chunk)
		}
		if e.vad != nil && e.vad.AddChunk(payload) {
			if e.OnSpeech != nil {
				e.OnSpeech()
			}
		}
	}
}

// Sender builds an outbound RTP writer toward the learned peer. Only
// meaningful when the external media direction is "both".
func (e *Endpoint) Sender(payloadType uint8, sampleRate int, frameDur time.Duration) (*Sender, error) {
	peer := e.Peer()
	if peer == nil {
		return nil, fmt.Errorf("media: peer address not yet known")
	}
	return NewSender(e.conn, peer, payloadType, sampleRate, frameDur), nil
}

// Close releases the socket. Any blocked read unblocks with an error.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
