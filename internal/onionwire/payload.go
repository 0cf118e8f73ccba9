// Package onionwire implements the wire encoding for one onion layer: the
// Envelope framing (version || epk || nonce || ciphertext) and the payload
// tagged union carried inside it once decrypted (Forward / Deliver).
package onionwire

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/deltamesh/onionmesh/internal/onioncrypto"
)

// Discriminator bytes for the payload tagged union (spec §3).
const (
	TagForward byte = 0x01
	TagDeliver byte = 0x02
)

// TopicIDSize is the fixed size of a Deliver payload's topic identifier.
const TopicIDSize = 32

// Payload is the tagged union carried inside one decrypted onion layer.
// Exactly one of Forward/Deliver is non-nil after a successful Decode.
type Payload struct {
	Forward *ForwardPayload
	Deliver *DeliverPayload
}

// ForwardPayload instructs a relay to POST InnerPacket to NextHopURL.
// InnerPacket is itself always a valid Envelope for the next hop.
type ForwardPayload struct {
	NextHopURL  string
	InnerPacket []byte
}

// DeliverPayload instructs a relay to hand Op to the terminal delivery
// bridge for TopicID. Op is opaque to the onion layer.
type DeliverPayload struct {
	TopicID [TopicIDSize]byte
	Op      []byte
}

// EncodeForward encodes a Forward payload:
// [0x01][url_len:u16 big-endian][url_bytes][inner_bytes].
func EncodeForward(p *ForwardPayload) []byte {
	urlBytes := []byte(p.NextHopURL)
	buf := make([]byte, 1+2+len(urlBytes)+len(p.InnerPacket))

	buf[0] = TagForward
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(urlBytes)))
	offset := 3
	copy(buf[offset:], urlBytes)
	offset += len(urlBytes)
	copy(buf[offset:], p.InnerPacket)

	return buf
}

// EncodeDeliver encodes a Deliver payload: [0x02][topic_id 32B][op_bytes].
func EncodeDeliver(p *DeliverPayload) []byte {
	buf := make([]byte, 1+TopicIDSize+len(p.Op))
	buf[0] = TagDeliver
	copy(buf[1:1+TopicIDSize], p.TopicID[:])
	copy(buf[1+TopicIDSize:], p.Op)
	return buf
}

// Encode encodes whichever of Forward/Deliver is set on p. Exactly one must
// be non-nil; callers build Payload values directly rather than through a
// constructor, so this is a caller-discipline invariant, not a validated one.
func Encode(p *Payload) []byte {
	if p.Forward != nil {
		return EncodeForward(p.Forward)
	}
	return EncodeDeliver(p.Deliver)
}

// Decode parses plaintext recovered from one onion layer into a Payload.
// Returns ErrInvalidPayload for: empty input, an unknown discriminator, a
// declared URL length exceeding the remaining bytes, a Deliver payload
// shorter than 33 bytes, or a Forward URL that is not valid UTF-8.
func Decode(b []byte) (*Payload, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty payload", onioncrypto.ErrInvalidPayload)
	}

	switch b[0] {
	case TagForward:
		return decodeForward(b[1:])
	case TagDeliver:
		return decodeDeliver(b[1:])
	default:
		return nil, fmt.Errorf("%w: unknown discriminator 0x%02x", onioncrypto.ErrInvalidPayload, b[0])
	}
}

func decodeForward(b []byte) (*Payload, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: forward payload missing url length", onioncrypto.ErrInvalidPayload)
	}
	urlLen := int(binary.BigEndian.Uint16(b[0:2]))
	b = b[2:]
	if urlLen > len(b) {
		return nil, fmt.Errorf("%w: forward url length exceeds remaining bytes", onioncrypto.ErrInvalidPayload)
	}

	urlBytes := b[:urlLen]
	if !utf8.Valid(urlBytes) {
		return nil, fmt.Errorf("%w: forward url is not valid UTF-8", onioncrypto.ErrInvalidPayload)
	}

	inner := make([]byte, len(b)-urlLen)
	copy(inner, b[urlLen:])

	return &Payload{Forward: &ForwardPayload{
		NextHopURL:  string(urlBytes),
		InnerPacket: inner,
	}}, nil
}

func decodeDeliver(b []byte) (*Payload, error) {
	if len(b) < TopicIDSize {
		return nil, fmt.Errorf("%w: deliver payload shorter than %d bytes", onioncrypto.ErrInvalidPayload, 1+TopicIDSize)
	}

	var topicID [TopicIDSize]byte
	copy(topicID[:], b[:TopicIDSize])

	op := make([]byte, len(b)-TopicIDSize)
	copy(op, b[TopicIDSize:])

	return &Payload{Deliver: &DeliverPayload{
		TopicID: topicID,
		Op:      op,
	}}, nil
}
