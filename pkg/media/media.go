// Package media handles the raw audio leg of a call: parsing inbound RTP
// datagrams from the switch's external media channel, detecting caller
// speech for barge-in, and (when the media direction is bidirectional)
// sending RTP back with correct sequencing.
//
// All state in this package is scoped to a single call. The Endpoint owns
// the UDP socket; the VAD is mutated only by the receive path.
package media

import "encoding/binary"

// RTPHeaderSize is the fixed part of an RTP header (RFC 3550).
const RTPHeaderSize = 12

// ExtractPayload parses one RTP packet and returns its audio payload.
// Malformed or short input yields nil; the caller drops such packets
// silently. The parse must be exact: an off-by-one here corrupts every
// downstream frame.
func ExtractPayload(packet []byte) []byte {
	if len(packet) < RTPHeaderSize {
		return nil
	}
	first := packet[0]
	if first>>6 != 2 {
		return nil
	}
	csrcCount := int(first & 0x0F)
	hasExtension := first>>4&0x01 == 1
	hasPadding := first>>5&0x01 == 1

	headerLen := RTPHeaderSize + csrcCount*4
	if len(packet) < headerLen {
		return nil
	}
	if hasExtension {
		if len(packet) < headerLen+4 {
			return nil
		}
		extWords := int(binary.BigEndian.Uint16(packet[headerLen+2:]))
		headerLen += 4 + extWords*4
		if len(packet) < headerLen {
			return nil
		}
	}
	payload := packet[headerLen:]
	if hasPadding && len(payload) > 0 {
		padding := int(payload[len(payload)-1])
		if padding == 0 || padding >= len(payload) {
			return nil
		}
		payload = payload[:len(payload)-padding]
	}
	return payload
}
