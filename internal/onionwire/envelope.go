package onionwire

import "github.com/deltamesh/onionmesh/internal/onioncrypto"

// Version is the only envelope version this implementation emits or
// accepts (spec §3).
const Version byte = 0x02

const (
	versionOffset = 0
	versionSize   = 1
	epkOffset     = versionOffset + versionSize
	epkSize       = onioncrypto.KeySize
	nonceOffset   = epkOffset + epkSize
	nonceSize     = 24 // XChaCha20-Poly1305 nonce
	cipherOffset  = nonceOffset + nonceSize

	// MinEnvelopeSize is the minimum length of any valid envelope: the
	// fixed header (57 bytes) plus a 16-byte AEAD tag with zero-length
	// plaintext.
	MinEnvelopeSize = cipherOffset + 16
)

// Envelope is one onion layer's on-wire framing:
// version(1) || epk(32) || nonce(24) || ciphertext(*).
type Envelope struct {
	EphemeralPublic [onioncrypto.KeySize]byte
	Nonce           [nonceSize]byte
	Ciphertext      []byte
}

// Bytes serializes the envelope to its wire form.
func (e *Envelope) Bytes() []byte {
	buf := make([]byte, cipherOffset+len(e.Ciphertext))
	buf[versionOffset] = Version
	copy(buf[epkOffset:epkOffset+epkSize], e.EphemeralPublic[:])
	copy(buf[nonceOffset:nonceOffset+nonceSize], e.Nonce[:])
	copy(buf[cipherOffset:], e.Ciphertext)
	return buf
}

// ParseEnvelope parses raw wire bytes into an Envelope, validating the
// minimum length and version byte per spec §4.3 steps 1-3.
func ParseEnvelope(b []byte) (*Envelope, error) {
	if len(b) < MinEnvelopeSize {
		return nil, onioncrypto.ErrInvalidEnvelope
	}
	if b[versionOffset] != Version {
		return nil, onioncrypto.ErrUnsupportedVersion
	}

	e := &Envelope{}
	copy(e.EphemeralPublic[:], b[epkOffset:epkOffset+epkSize])
	copy(e.Nonce[:], b[nonceOffset:nonceOffset+nonceSize])
	e.Ciphertext = make([]byte, len(b)-cipherOffset)
	copy(e.Ciphertext, b[cipherOffset:])

	return e, nil
}
