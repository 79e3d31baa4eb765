// Package aead implements the symmetric primitives the core builds on:
// XSalsa20-Poly1305 authenticated encryption with 24-byte random nonces,
// constant-time tag verification, and the two raw-SHA-512 key-derivation
// steps (kdf_root, kdf_chain) that drive the root and chain ratchets.
package aead

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"prpcap/internal/secure"
)

const (
	// KeySize is the length in bytes of an AEAD key.
	KeySize = 32
	// NonceSize is the length in bytes of an XSalsa20-Poly1305 nonce.
	NonceSize = 24
)

// RandomBytes returns n cryptographically random bytes read from rand.
func RandomBytes(rnd io.Reader, n int) ([]byte, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rnd, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Seal encrypts and authenticates plaintext under key with nonce, in the
// style of secretbox: XSalsa20 for confidentiality, Poly1305 for the tag.
func Seal(key *[KeySize]byte, nonce *[NonceSize]byte, plaintext []byte) []byte {
	return secretbox.Seal(nil, plaintext, nonce, key)
}

// Open authenticates and decrypts ciphertext under key with nonce. It
// returns (nil, false) on any authentication failure — an Option, not an
// error — so that callers can't accidentally forget to check ok and use
// a zero-value plaintext.
func Open(key *[KeySize]byte, nonce *[NonceSize]byte, ciphertext []byte) ([]byte, bool) {
	return secretbox.Open(nil, ciphertext, nonce, key)
}

// ConstantTimeEqual compares a and b in time independent of where they
// first differ (ct_eq).
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// KDFRoot derives a new root key and chain key from a root key and a
// fresh DH output: SHA-512(rootKey || dhOutput), split into two halves.
func KDFRoot(rootKey, dhOutput []byte) (newRoot, newChain [32]byte) {
	h := sha512.Sum512(append(append([]byte{}, rootKey...), dhOutput...))
	copy(newRoot[:], h[:32])
	copy(newChain[:], h[32:])
	secure.Zero(h[:])
	return
}

// KDFChain advances a chain key one step, producing the message key it
// gates and the chain key's successor. The message key is the first 32
// bytes of SHA-512(chainKey || 0x01); the next chain key is the first 32
// bytes of SHA-512(chainKey || 0x02).
func KDFChain(chainKey []byte) (messageKey, nextChain [32]byte) {
	mk := sha512.Sum512(append(append([]byte{}, chainKey...), 0x01))
	copy(messageKey[:], mk[:32])
	secure.Zero(mk[:])

	ck := sha512.Sum512(append(append([]byte{}, chainKey...), 0x02))
	copy(nextChain[:], ck[:32])
	secure.Zero(ck[:])
	return
}
