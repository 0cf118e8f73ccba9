// Package onioncrypto implements the fixed-algorithm primitives one onion
// layer is built from: Ed25519-seed-to-X25519-scalar conversion, Ed25519
// public key decompression to Montgomery form, X25519 ECDH, and HKDF-SHA256
// key derivation. Every function here must match byte-for-byte across
// implementations — there is no room for "close enough" here, so none of
// these return anything implementation-defined.
package onioncrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of an Ed25519 seed, an Ed25519 public key, and an
	// X25519 scalar/public key, all 32 bytes.
	KeySize = 32

	// aeadKeyInfo is the fixed HKDF info string for deriving a layer's AEAD key.
	aeadKeyInfo = "delta:onion:v1"
)

// ScalarFromSeed converts a 32-byte Ed25519 signing seed into its
// corresponding X25519 static private scalar, per RFC 7748 clamping over
// the first 32 bytes of SHA-512(seed).
func ScalarFromSeed(seed [KeySize]byte) [KeySize]byte {
	h := sha512.Sum512(seed[:])

	var scalar [KeySize]byte
	copy(scalar[:], h[:KeySize])

	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64

	return scalar
}

// X25519FromEd25519Public converts a compressed Ed25519 verifying key into
// its Montgomery-form X25519 public key. A verifying key that fails to
// decompress as a valid Edwards point is mapped to the identity point
// rather than rejected here: the malformed "public key" then behaves like
// any other key nobody holds the scalar for, and decrypt_layer fails with
// Decrypt downstream exactly as it would for a wrong key (spec §4.1, §9
// Open Question 1). A 32-byte key that is not a valid point is not
// reported to the caller here.
func X25519FromEd25519Public(pub [KeySize]byte) [KeySize]byte {
	point, err := new(edwards25519.Point).SetBytes(pub[:])
	if err != nil {
		point = edwards25519.NewIdentityPoint()
	}

	var out [KeySize]byte
	copy(out[:], point.BytesMontgomery())
	return out
}

// ECDH performs X25519 Diffie-Hellman between a local scalar and a remote
// Montgomery public key.
func ECDH(scalar, remotePublic [KeySize]byte) ([KeySize]byte, error) {
	var shared [KeySize]byte
	out, err := curve25519.X25519(scalar[:], remotePublic[:])
	if err != nil {
		return shared, fmt.Errorf("x25519: %w", err)
	}
	copy(shared[:], out)
	return shared, nil
}

// DeriveLayerKey derives the 32-byte XChaCha20-Poly1305 key for one onion
// layer via HKDF-SHA256, salted with the layer's ephemeral public key and
// bound to the fixed info string "delta:onion:v1" (spec §4.1).
func DeriveLayerKey(sharedSecret, ephemeralPublic [KeySize]byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	reader := hkdf.New(sha256.New, sharedSecret[:], ephemeralPublic[:], []byte(aeadKeyInfo))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return key, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// GenerateEphemeralX25519 draws a fresh ephemeral X25519 keypair from the
// CSPRNG for use in a single layer's encryption. encrypt_layer calls this
// once per call; the scalar must never be reused across layers or packets.
func GenerateEphemeralX25519() (scalar, public [KeySize]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, scalar[:]); err != nil {
		return scalar, public, fmt.Errorf("generate ephemeral scalar: %w", err)
	}
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64

	pub, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		return scalar, public, fmt.Errorf("derive ephemeral public: %w", err)
	}
	copy(public[:], pub)

	return scalar, public, nil
}

// ZeroKey zeroes a key array in place. Relay seeds and derived scalars
// should be zeroed once no longer needed.
func ZeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}

// RandomNonce fills b with cryptographically secure random bytes, used for
// each layer's fresh XChaCha20-Poly1305 nonce.
func RandomNonce(b []byte) error {
	_, err := io.ReadFull(rand.Reader, b)
	return err
}
