package ratchet

import (
	"io"

	"prpcap/curve"
)

// MaxSkip is the maximum per-decrypt-call gap between the receiving
// chain's current counter and an incoming message's counter (I4).
const MaxSkip = 100

// MaxSkippedCacheSize is the suggested bound (§5) on the total number of
// outstanding skipped-message keys retained across all chains for a
// single State. Exceeding it on insert is ErrEvictionOverflow.
const MaxSkippedCacheSize = 1000

// KeyPair is a Diffie-Hellman keypair on Edwards-25519.
type KeyPair struct {
	Priv curve.Scalar
	Pub  curve.Point
}

// Identity is a peer's long-term Diffie-Hellman keypair.
type Identity = KeyPair

// GenerateKeyPair samples a fresh clamped scalar and its base-point
// multiple, reading entropy from rand.
func GenerateKeyPair(rand io.Reader) (KeyPair, error) {
	priv, err := curve.RandomScalar(rand)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Priv: priv, Pub: curve.BaseMul(priv)}, nil
}

// skippedKey identifies one cached skipped message key.
type skippedKey struct {
	eph     [32]byte
	counter uint32
}

// previousChain is the single retired receiving chain a State retains,
// per the conservative reading of §5 / SPEC_FULL's resolved question 4.
type previousChain struct {
	eph           [32]byte
	chainKey      [32]byte
	nextExpected  uint32
	finalCounter  uint32 // == header.PreviousSendCounter at retirement (authoritative upper bound)
}

// State is one peer's Double Ratchet session. It is never mutated by a
// failed operation: Encrypt and Decrypt either return a State the caller
// may atomically substitute, or an error and a nil State, leaving the
// caller's original State byte-for-byte unchanged.
type State struct {
	MyIdentity    Identity
	TheirIdentity curve.Point

	MyEphemeral                KeyPair
	TheirEphemeral             *curve.Point
	RatchetedForTheirEphemeral bool

	RootKey         [32]byte
	SendingChainKey *[32]byte
	ReceivingChain  *[32]byte

	SendCounter         uint32
	ReceiveCounter      uint32
	PreviousSendCounter uint32

	SkippedMessageKeys map[skippedKey][32]byte
	PrevChain          *previousChain
}

// clone performs a deep copy, used so Decrypt can work on a scratch copy
// and only commit it to the caller on full success (§4.4.4 / I5).
func (s *State) clone() *State {
	out := &State{
		MyIdentity:                 s.MyIdentity,
		TheirIdentity:              s.TheirIdentity,
		MyEphemeral:                s.MyEphemeral,
		RatchetedForTheirEphemeral: s.RatchetedForTheirEphemeral,
		RootKey:                    s.RootKey,
		SendCounter:                s.SendCounter,
		ReceiveCounter:             s.ReceiveCounter,
		PreviousSendCounter:        s.PreviousSendCounter,
	}
	if s.TheirEphemeral != nil {
		p := *s.TheirEphemeral
		out.TheirEphemeral = &p
	}
	if s.SendingChainKey != nil {
		ck := *s.SendingChainKey
		out.SendingChainKey = &ck
	}
	if s.ReceivingChain != nil {
		ck := *s.ReceivingChain
		out.ReceivingChain = &ck
	}
	out.SkippedMessageKeys = make(map[skippedKey][32]byte, len(s.SkippedMessageKeys))
	for k, v := range s.SkippedMessageKeys {
		out.SkippedMessageKeys[k] = v
	}
	if s.PrevChain != nil {
		pc := *s.PrevChain
		out.PrevChain = &pc
	}
	return out
}
