// Package layercrypto implements encrypt_layer / decrypt_layer (spec §4.3):
// encrypting one payload to one hop's verifying key, and decrypting one
// envelope with one hop's seed. It is grounded directly on the teacher's
// sealed-box pattern (ephemeral X25519 + HKDF-SHA256 + AEAD, fresh keys per
// call), adapted to XChaCha20-Poly1305 and to an Ed25519 verifying key as
// the addressing identity instead of a static X25519 management key.
package layercrypto

import (
	"fmt"

	"github.com/deltamesh/onionmesh/internal/onioncrypto"
	"github.com/deltamesh/onionmesh/internal/onionwire"
	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptLayer encrypts payload so that only the holder of the Ed25519 seed
// behind hopVerifyingKey can decrypt it (spec §4.3 encrypt_layer).
func EncryptLayer(payload *onionwire.Payload, hopVerifyingKey [onioncrypto.KeySize]byte) (*onionwire.Envelope, error) {
	hopX25519 := onioncrypto.X25519FromEd25519Public(hopVerifyingKey)

	ephScalar, ephPublic, err := onioncrypto.GenerateEphemeralX25519()
	if err != nil {
		return nil, fmt.Errorf("%w: generate ephemeral key: %v", onioncrypto.ErrEncrypt, err)
	}
	defer onioncrypto.ZeroKey(&ephScalar)

	shared, err := onioncrypto.ECDH(ephScalar, hopX25519)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh: %v", onioncrypto.ErrEncrypt, err)
	}
	defer onioncrypto.ZeroKey(&shared)

	key, err := onioncrypto.DeriveLayerKey(shared, ephPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: derive key: %v", onioncrypto.ErrEncrypt, err)
	}
	defer onioncrypto.ZeroKey(&key)

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: construct aead: %v", onioncrypto.ErrEncrypt, err)
	}

	var nonce [24]byte
	if err := onioncrypto.RandomNonce(nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: generate nonce: %v", onioncrypto.ErrEncrypt, err)
	}

	plaintext := onionwire.Encode(payload)
	ciphertext := aead.Seal(nil, nonce[:], plaintext, nil)

	env := &onionwire.Envelope{
		EphemeralPublic: ephPublic,
		Ciphertext:      ciphertext,
	}
	copy(env.Nonce[:], nonce[:])

	return env, nil
}

// DecryptLayer decrypts one envelope using hopSeed, the relay's own
// long-term Ed25519 seed (spec §4.3 decrypt_layer). All failures — bad
// length, wrong version, failed authentication, malformed plaintext — are
// reported via the onioncrypto error sentinels and never distinguished
// beyond that (spec §7 fail-closed posture).
func DecryptLayer(raw []byte, hopSeed [onioncrypto.KeySize]byte) (*onionwire.Payload, error) {
	env, err := onionwire.ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}

	scalar := onioncrypto.ScalarFromSeed(hopSeed)
	defer onioncrypto.ZeroKey(&scalar)

	shared, err := onioncrypto.ECDH(scalar, env.EphemeralPublic)
	if err != nil {
		// A malformed or low-order ephemeral public key authenticates as
		// nothing: treat it the same as any other decrypt failure.
		return nil, onioncrypto.ErrDecrypt
	}
	defer onioncrypto.ZeroKey(&shared)

	key, err := onioncrypto.DeriveLayerKey(shared, env.EphemeralPublic)
	if err != nil {
		return nil, onioncrypto.ErrDecrypt
	}
	defer onioncrypto.ZeroKey(&key)

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, onioncrypto.ErrDecrypt
	}

	plaintext, err := aead.Open(nil, env.Nonce[:], env.Ciphertext, nil)
	if err != nil {
		return nil, onioncrypto.ErrDecrypt
	}

	payload, err := onionwire.Decode(plaintext)
	if err != nil {
		return nil, err
	}

	return payload, nil
}
