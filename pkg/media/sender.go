package media

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/pion/rtp"
)

// DefaultFrameDuration is the codec frame length the switch expects on
// the external media leg.
const DefaultFrameDuration = 20 * time.Millisecond

// PayloadTypeFor maps a switch media format name to its RTP payload type.
// The slin family has no static assignment and uses a dynamic type.
func PayloadTypeFor(format string) uint8 {
	switch format {
	case "ulaw":
		return 0
	case "alaw":
		return 8
	default:
		return 96
	}
}

// SilenceFrame returns one frame of digital silence in the given format.
func SilenceFrame(format string, samples int) []byte {
	switch format {
	case "ulaw":
		frame := make([]byte, samples)
		for i := range frame {
			frame[i] = 0xFF
		}
		return frame
	case "alaw":
		frame := make([]byte, samples)
		for i := range frame {
			frame[i] = 0xD5
		}
		return frame
	default:
		// slin: 16-bit zero samples.
		return make([]byte, samples*2)
	}
}

// Sender writes outbound RTP toward the switch. The sequence number
// increments by one per packet and the timestamp advances by the codec
// frame duration, as the transport contract requires.
//
// Not safe for concurrent use; one goroutine owns the outbound leg.
type Sender struct {
	conn *net.UDPConn
	peer *net.UDPAddr

	payloadType     uint8
	samplesPerFrame uint32

	seq  uint16
	ts   uint32
	ssrc uint32
}

// NewSender builds a Sender over an existing socket. sampleRate and
// frameDur determine the timestamp step per frame.
func NewSender(conn *net.UDPConn, peer *net.UDPAddr, payloadType uint8, sampleRate int, frameDur time.Duration) *Sender {
	step := uint32(float64(sampleRate) * frameDur.Seconds())
	return &Sender{
		conn:            conn,
		peer:            peer,
		payloadType:     payloadType,
		samplesPerFrame: step,
		seq:             uint16(rand.Intn(1 << 16)),
		ts:              rand.Uint32(),
		ssrc:            rand.Uint32(),
	}
}

// WriteFrame sends one codec frame as a single RTP packet.
func (s *Sender) WriteFrame(payload []byte) error {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.payloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("media: marshal rtp: %w", err)
	}
	if _, err := s.conn.WriteToUDP(raw, s.peer); err != nil {
		return fmt.Errorf("media: send rtp: %w", err)
	}
	s.seq++
	s.ts += s.samplesPerFrame
	return nil
}

// Sequence returns the sequence number of the next outgoing packet.
func (s *Sender) Sequence() uint16 { return s.seq }

// Timestamp returns the timestamp of the next outgoing packet.
func (s *Sender) Timestamp() uint32 { return s.ts }
