package capability

import (
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"io"

	"prpcap/aead"
	"prpcap/curve"
	"prpcap/internal/secure"
	"prpcap/ratchet"
)

// PayloadVersion and MessageVersion are both fixed at 0x01 (§6.4); kept
// as distinct constants since the outer message and the inner payload
// are versioned independently in the wire layout.
const (
	MessageVersion = 0x01
	PayloadVersion = 0x01
)

var (
	// ErrMalformedMessage is returned when a 0-RTT wire message or its
	// inner payload is too short for its fixed-size fields. A point field
	// that fails to decode is reported as curve.ErrInvalidPoint instead.
	ErrMalformedMessage = errors.New("capability: malformed message")
	// ErrUnknownVersion is returned when either the outer message or the
	// inner payload carries a version byte this core doesn't understand.
	ErrUnknownVersion = errors.New("capability: unknown version")
	// ErrDecryptFail is returned when the 0-RTT AEAD envelope fails to
	// authenticate.
	ErrDecryptFail = errors.New("capability: decryption failed")
)

// ZeroRTTMessage is the logical content of a 0-RTT message (§6.2); how it
// is framed on the wire beyond this byte layout is the transport's
// concern, but a concrete encoding is provided for convenience and
// testing.
type ZeroRTTMessage struct {
	Version        byte
	SenderIdentity curve.Point
	E              curve.Point
	Index          uint32
	Nonce          [aead.NonceSize]byte
	Ciphertext     []byte
	Timestamp      uint64
}

// Encode serializes m as version(1) ‖ senderIdentity(32) ‖ E(32) ‖
// i(4) ‖ nonce(24) ‖ timestamp(8) ‖ ciphertext.
func (m *ZeroRTTMessage) Encode() []byte {
	out := make([]byte, 0, 1+32+32+4+aead.NonceSize+8+len(m.Ciphertext))
	out = append(out, m.Version)
	out = append(out, m.SenderIdentity.Encode()...)
	out = append(out, m.E.Encode()...)
	var ib [4]byte
	binary.BigEndian.PutUint32(ib[:], m.Index)
	out = append(out, ib[:]...)
	out = append(out, m.Nonce[:]...)
	var tsb [8]byte
	binary.BigEndian.PutUint64(tsb[:], m.Timestamp)
	out = append(out, tsb[:]...)
	out = append(out, m.Ciphertext...)
	return out
}

// DecodeZeroRTTMessage parses the byte layout Encode produces.
func DecodeZeroRTTMessage(wire []byte) (*ZeroRTTMessage, error) {
	const fixedLen = 1 + 32 + 32 + 4 + aead.NonceSize + 8
	if len(wire) < fixedLen+16 {
		return nil, ErrMalformedMessage
	}
	if wire[0] != MessageVersion {
		return nil, ErrUnknownVersion
	}
	senderIdentity, err := curve.DecodePoint(wire[1:33])
	if err != nil {
		return nil, err
	}
	E, err := curve.DecodePoint(wire[33:65])
	if err != nil {
		return nil, err
	}
	idx := binary.BigEndian.Uint32(wire[65:69])
	var nonce [aead.NonceSize]byte
	copy(nonce[:], wire[69:69+aead.NonceSize])
	ts := binary.BigEndian.Uint64(wire[69+aead.NonceSize : fixedLen])

	return &ZeroRTTMessage{
		Version:        wire[0],
		SenderIdentity: senderIdentity,
		E:              E,
		Index:          idx,
		Nonce:          nonce,
		Timestamp:      ts,
		Ciphertext:     wire[fixedLen:],
	}, nil
}

// initPayload is the structured record sealed inside the 0-RTT envelope
// (§6.2's inner AEAD plaintext): version ‖ senderIdentity(32) ‖
// senderRatchetEphemeral(32) ‖ messagePlaintext.
type initPayload struct {
	senderIdentity         [32]byte
	senderRatchetEphemeral [32]byte
	plaintext              []byte
}

func encodeInitPayload(p initPayload) []byte {
	out := make([]byte, 0, 1+32+32+len(p.plaintext))
	out = append(out, PayloadVersion)
	out = append(out, p.senderIdentity[:]...)
	out = append(out, p.senderRatchetEphemeral[:]...)
	out = append(out, p.plaintext...)
	return out
}

func decodeInitPayload(b []byte) (initPayload, error) {
	var p initPayload
	if len(b) < 1+32+32 {
		return p, ErrMalformedMessage
	}
	if b[0] != PayloadVersion {
		return p, ErrUnknownVersion
	}
	copy(p.senderIdentity[:], b[1:33])
	copy(p.senderRatchetEphemeral[:], b[33:65])
	p.plaintext = append([]byte{}, b[65:]...)
	return p, nil
}

// BuildZeroRTT builds a 0-RTT message from the sender's side (§4.3.3)
// and seeds the sender's local ratchet state via InitSenderFromSecret.
// A, B are the recipient's published epoch points; theirIdentity is the
// recipient's long-term identity public key, both taken from the
// recipient's public-parameter bundle.
func BuildZeroRTT(
	rand io.Reader,
	myIdentity ratchet.Identity,
	theirIdentity curve.Point,
	A, B curve.Point,
	index uint32,
	plaintext []byte,
	timestamp uint64,
) (*ZeroRTTMessage, *ratchet.State, error) {
	e, err := curve.RandomScalar(rand)
	if err != nil {
		return nil, nil, err
	}
	E := curve.BaseMul(e)

	Vi := DeriveCapabilityPoint(index, A, B)
	P := curve.DH(e, Vi)
	e.Zero()

	ssFull := sha512.Sum512(P.Encode())
	var ss [32]byte
	copy(ss[:], ssFull[:32])
	secure.Zero(ssFull[:])

	senderRatchetEph, err := ratchet.GenerateKeyPair(rand)
	if err != nil {
		return nil, nil, err
	}

	var senderIdentityBytes, senderRatchetEphBytes [32]byte
	copy(senderIdentityBytes[:], myIdentity.Pub.Encode())
	copy(senderRatchetEphBytes[:], senderRatchetEph.Pub.Encode())

	payload := encodeInitPayload(initPayload{
		senderIdentity:         senderIdentityBytes,
		senderRatchetEphemeral: senderRatchetEphBytes,
		plaintext:              plaintext,
	})

	nonceBytes, err := aead.RandomBytes(rand, aead.NonceSize)
	if err != nil {
		return nil, nil, err
	}
	var nonce [aead.NonceSize]byte
	copy(nonce[:], nonceBytes)

	// ss is handed to InitSenderFromSecret below and zeroed right after,
	// so seal the envelope with it first.
	ssForSeal := ss
	ciphertext := aead.Seal(&ssForSeal, &nonce, payload)
	secure.Zero(ssForSeal[:])

	state, err := ratchet.InitSenderFromSecret(myIdentity, theirIdentity, senderRatchetEph, ss)
	secure.Zero(ss[:])
	if err != nil {
		return nil, nil, err
	}

	msg := &ZeroRTTMessage{
		Version:        MessageVersion,
		SenderIdentity: myIdentity.Pub,
		E:              E,
		Index:          index,
		Nonce:          nonce,
		Ciphertext:     ciphertext,
		Timestamp:      timestamp,
	}
	return msg, state, nil
}

// OpenZeroRTT opens a 0-RTT message from the recipient's side (§4.3.4)
// and seeds the recipient's local ratchet state via
// InitResponderFromSecret. epoch must be the one addressed by msg (i.e.
// whose (A,B) the sender used to derive V_i).
func OpenZeroRTT(rand io.Reader, myIdentity ratchet.Identity, epoch *Epoch, msg *ZeroRTTMessage) ([]byte, *ratchet.State, error) {
	if msg.Version != MessageVersion {
		return nil, nil, ErrUnknownVersion
	}
	vi, err := epoch.DeriveCapabilityScalar(msg.Index)
	if err != nil {
		return nil, nil, err
	}

	P := curve.DH(vi, msg.E)
	ssFull := sha512.Sum512(P.Encode())
	var ss [32]byte
	copy(ss[:], ssFull[:32])
	secure.Zero(ssFull[:])

	ssForOpen := ss
	payloadBytes, ok := aead.Open(&ssForOpen, &msg.Nonce, msg.Ciphertext)
	secure.Zero(ssForOpen[:])
	if !ok {
		secure.Zero(ss[:])
		return nil, nil, ErrDecryptFail
	}

	p, err := decodeInitPayload(payloadBytes)
	if err != nil {
		secure.Zero(ss[:])
		return nil, nil, err
	}

	senderIdentityPub, err := curve.DecodePoint(p.senderIdentity[:])
	if err != nil {
		secure.Zero(ss[:])
		return nil, nil, err
	}
	senderRatchetEph, err := curve.DecodePoint(p.senderRatchetEphemeral[:])
	if err != nil {
		secure.Zero(ss[:])
		return nil, nil, err
	}

	state, err := ratchet.InitResponderFromSecret(rand, myIdentity, senderIdentityPub, senderRatchetEph, ss)
	secure.Zero(ss[:])
	if err != nil {
		return nil, nil, err
	}
	return p.plaintext, state, nil
}
