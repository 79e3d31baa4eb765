package ratchet

import (
	"encoding/binary"
	"errors"

	"prpcap/aead"
	"prpcap/curve"
)

// HeaderVersion is the only ratchet wire version this core understands.
const HeaderVersion = 0x01

// headerLen is the fixed-size prefix before the nonce and ciphertext:
// version(1) + ephemeral pub(32) + PN(4) + N(4).
const headerLen = 1 + 32 + 4 + 4

// minWireLen is the shortest possible wire message: the header, a
// nonce, and secretbox's 16-byte Poly1305 overhead on an empty plaintext.
const minWireLen = headerLen + aead.NonceSize + 16

// ErrMalformedHeader is returned when a wire message is too short. An
// ephemeral field that fails to decode is reported as
// curve.ErrInvalidPoint instead.
var ErrMalformedHeader = errors.New("ratchet: malformed header")

// ErrUnknownVersion is returned when the header's version byte isn't
// HeaderVersion.
var ErrUnknownVersion = errors.New("ratchet: unknown version")

// header is the parsed fixed-size prefix of a ratchet wire message.
type header struct {
	ephemeral           [32]byte
	previousSendCounter uint32
	messageCounter      uint32
}

// encodeWire serializes header || nonce || ciphertext per §4.4.2.
func encodeWire(h header, nonce [aead.NonceSize]byte, ciphertext []byte) []byte {
	out := make([]byte, 0, headerLen+aead.NonceSize+len(ciphertext))
	out = append(out, HeaderVersion)
	out = append(out, h.ephemeral[:]...)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], h.previousSendCounter)
	out = append(out, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], h.messageCounter)
	out = append(out, tmp[:]...)
	out = append(out, nonce[:]...)
	out = append(out, ciphertext...)
	return out
}

// decodeWire parses a ratchet wire message into its header, nonce, and
// ciphertext. It never allocates more than slices into wire.
func decodeWire(wire []byte) (header, [aead.NonceSize]byte, []byte, error) {
	var h header
	var nonce [aead.NonceSize]byte

	if len(wire) < minWireLen {
		return h, nonce, nil, ErrMalformedHeader
	}
	if wire[0] != HeaderVersion {
		return h, nonce, nil, ErrUnknownVersion
	}
	copy(h.ephemeral[:], wire[1:33])
	h.previousSendCounter = binary.BigEndian.Uint32(wire[33:37])
	h.messageCounter = binary.BigEndian.Uint32(wire[37:41])
	copy(nonce[:], wire[41:65])
	ciphertext := wire[65:]
	return h, nonce, ciphertext, nil
}

func pointFromHeader(h header) (curve.Point, error) {
	return curve.DecodePoint(h.ephemeral[:])
}
