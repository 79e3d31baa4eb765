// Package ratchet implements the symmetric-key Double Ratchet: session
// init (plain, or bridged in from a PRP-Cap shared secret), the
// symmetric and Diffie-Hellman ratchet steps, the skipped-message-key
// cache, chain-boundary handling for out-of-order delivery, and
// encrypt/decrypt with replay rejection.
//
// Concurrency: a *State is not safe for concurrent use. Every operation
// here is a pure function of (state, inputs): Encrypt and Decrypt return
// a new *State for the caller to atomically substitute rather than
// mutating their argument, so a failed call leaves the caller's
// existing state byte-for-byte untouched (I5).
package ratchet

import (
	"errors"
	"io"

	"prpcap/aead"
	"prpcap/curve"
	"prpcap/internal/secure"
)

var (
	// ErrDecryptFail is returned when the AEAD tag fails to verify.
	ErrDecryptFail = errors.New("ratchet: decryption failed")
	// ErrReplay is returned when a (ephemeral, counter) tuple has
	// already been consumed, or the counter is behind the current
	// chain's receive position.
	ErrReplay = errors.New("ratchet: replayed message")
	// ErrSkipLimitExceeded is returned when a single decrypt call would
	// need to skip more than MaxSkip keys.
	ErrSkipLimitExceeded = errors.New("ratchet: skip limit exceeded")
	// ErrUnknownChain is returned when a message's ephemeral refers to
	// neither the current chain nor the single retained previous chain.
	ErrUnknownChain = errors.New("ratchet: unknown chain")
	// ErrEvictionOverflow is returned when caching a skipped message key
	// would push the per-state skipped-key cache past MaxSkippedCacheSize.
	ErrEvictionOverflow = errors.New("ratchet: skipped-key cache full")
	// ErrChainUninitialized is returned if an encrypt/decrypt is
	// attempted against a State whose relevant chain key was never set;
	// this indicates caller misuse (e.g. a zero-value State), not a
	// protocol-level failure.
	ErrChainUninitialized = errors.New("ratchet: chain key uninitialised")
	// ErrUninitializedState guards against a nil *State.
	ErrUninitializedState = errors.New("ratchet: state is nil")
)

// InitPlain seeds a session symmetrically from a shared long-term DH
// secret, for bidirectional scenarios where neither side has a PRP-Cap
// 0-RTT message to seed from (§4.4.1). Both peers call InitPlain
// independently with matching (myIdentity, theirIdentity) pairs and
// converge on the same root/chain keys.
func InitPlain(rand io.Reader, myIdentity Identity, theirIdentity curve.Point) (*State, error) {
	shared := curve.DH(myIdentity.Priv, theirIdentity)
	root, chain := aead.KDFRoot(nil, shared.Encode())

	myEph, err := GenerateKeyPair(rand)
	if err != nil {
		return nil, err
	}

	sendChain := chain
	recvChain := chain
	return &State{
		MyIdentity:         myIdentity,
		TheirIdentity:      theirIdentity,
		MyEphemeral:        myEph,
		RootKey:            root,
		SendingChainKey:    &sendChain,
		ReceivingChain:     &recvChain,
		SkippedMessageKeys: make(map[skippedKey][32]byte),
	}, nil
}

// InitSenderFromSecret seeds the sender's side of a ratchet bootstrapped
// from a PRP-Cap 0-RTT shared secret (§4.3.3/§4.3.5). myRatchetEphemeral
// is the keypair the caller (the capability package) already generated
// and published as the 0-RTT message's sender_ratchet_ephemeral_public
// field — it becomes this State's MyEphemeral, which is why it must be
// supplied rather than generated here: the capability layer needs its
// public half before the envelope is even sealed.
//
// Unlike the literal two-DH recipient-side construction in §4.3.5, the
// sender can only ever contribute a single converging DH term — see
// DESIGN.md for why, and for why that's cryptographically sufficient.
func InitSenderFromSecret(
	myIdentity Identity,
	theirIdentity curve.Point,
	myRatchetEphemeral KeyPair,
	sharedSecret [32]byte,
) (*State, error) {
	dh := curve.DH(myRatchetEphemeral.Priv, theirIdentity)
	root, chain := aead.KDFRoot(sharedSecret[:], dh.Encode())
	secure.Zero(sharedSecret[:])

	return &State{
		MyIdentity:         myIdentity,
		TheirIdentity:      theirIdentity,
		MyEphemeral:        myRatchetEphemeral,
		RootKey:            root,
		SendingChainKey:    &chain,
		SkippedMessageKeys: make(map[skippedKey][32]byte),
	}, nil
}

// InitResponderFromSecret seeds the recipient's side of a ratchet
// bootstrapped from a PRP-Cap 0-RTT shared secret (§4.3.4/§4.3.5).
// theirRatchetEphemeral is the sender_ratchet_ephemeral_public extracted
// from the opened 0-RTT payload.
func InitResponderFromSecret(
	rand io.Reader,
	myIdentity Identity,
	theirIdentity curve.Point,
	theirRatchetEphemeral curve.Point,
	sharedSecret [32]byte,
) (*State, error) {
	dh := curve.DH(myIdentity.Priv, theirRatchetEphemeral)
	root, chain := aead.KDFRoot(sharedSecret[:], dh.Encode())
	secure.Zero(sharedSecret[:])

	myEph, err := GenerateKeyPair(rand)
	if err != nil {
		return nil, err
	}

	sendChain := chain
	return &State{
		MyIdentity:                 myIdentity,
		TheirIdentity:              theirIdentity,
		MyEphemeral:                myEph,
		TheirEphemeral:             &theirRatchetEphemeral,
		RatchetedForTheirEphemeral: false,
		RootKey:                    root,
		SendingChainKey:            &sendChain,
		ReceivingChain:             &chain,
		SkippedMessageKeys:         make(map[skippedKey][32]byte),
	}, nil
}

// Encrypt seals plaintext under the current sending chain, performing a
// DH ratchet step first if the peer's ephemeral has changed since our
// last send (§4.4.3). It returns the wire-encoded message and the
// successor State; the caller's existing state is left untouched.
func Encrypt(rand io.Reader, state *State, plaintext []byte) ([]byte, *State, error) {
	if state == nil {
		return nil, nil, ErrUninitializedState
	}
	clone := state.clone()

	if clone.TheirEphemeral != nil && !clone.RatchetedForTheirEphemeral {
		clone.PreviousSendCounter = clone.SendCounter

		newEph, err := GenerateKeyPair(rand)
		if err != nil {
			return nil, nil, err
		}
		dhOut := curve.DH(newEph.Priv, *clone.TheirEphemeral)
		newRoot, newChain := aead.KDFRoot(clone.RootKey[:], dhOut.Encode())

		clone.RootKey = newRoot
		clone.MyEphemeral = newEph
		clone.SendingChainKey = &newChain
		clone.SendCounter = 0
		clone.RatchetedForTheirEphemeral = true
	}

	if clone.SendingChainKey == nil {
		return nil, nil, ErrChainUninitialized
	}
	messageKey, nextChain := aead.KDFChain(clone.SendingChainKey[:])
	clone.SendingChainKey = &nextChain

	var ephBytes [32]byte
	copy(ephBytes[:], clone.MyEphemeral.Pub.Encode())
	hdr := header{
		ephemeral:           ephBytes,
		previousSendCounter: clone.PreviousSendCounter,
		messageCounter:      clone.SendCounter,
	}

	nonceBytes, err := aead.RandomBytes(rand, aead.NonceSize)
	if err != nil {
		return nil, nil, err
	}
	var nonce [aead.NonceSize]byte
	copy(nonce[:], nonceBytes)

	ciphertext := aead.Seal(&messageKey, &nonce, plaintext)
	secure.Zero(messageKey[:])

	clone.SendCounter++
	return encodeWire(hdr, nonce, ciphertext), clone, nil
}

// Decrypt authenticates and decrypts a wire-encoded ratchet message
// (§4.4.4). On any failure the returned State is nil and the caller must
// keep using its existing, unmodified state (I5); on success it returns
// the plaintext and the successor State to substitute in.
func Decrypt(state *State, wire []byte) ([]byte, *State, error) {
	if state == nil {
		return nil, nil, ErrUninitializedState
	}
	hdr, nonce, ciphertext, err := decodeWire(wire)
	if err != nil {
		return nil, nil, err
	}
	Eprime, err := pointFromHeader(hdr)
	if err != nil {
		return nil, nil, err
	}

	clone := state.clone()

	// Cache check first: this is what makes an out-of-order message
	// from a retired chain (already drained into the cache when that
	// chain was retired) resolve correctly even after we've since
	// ratcheted forward again — see DESIGN.md for why this must run
	// before the "new ephemeral" handling below, ahead of the literal
	// step order in spec.md §4.4.4.
	key := skippedKey{eph: hdr.ephemeral, counter: hdr.messageCounter}
	if mk, ok := clone.SkippedMessageKeys[key]; ok {
		delete(clone.SkippedMessageKeys, key)
		return finish(clone, mk, &nonce, ciphertext)
	}

	isCurrent := clone.TheirEphemeral != nil && Eprime.Equal(*clone.TheirEphemeral)
	isRetired := !isCurrent && clone.PrevChain != nil && clone.PrevChain.eph == hdr.ephemeral

	switch {
	case isCurrent:
		mk, err := acquireFromCurrent(clone, hdr.ephemeral, hdr.messageCounter)
		if err != nil {
			return nil, nil, err
		}
		return finish(clone, mk, &nonce, ciphertext)

	case isRetired:
		mk, err := acquireFromRetired(clone, hdr.ephemeral, hdr.messageCounter)
		if err != nil {
			return nil, nil, err
		}
		return finish(clone, mk, &nonce, ciphertext)

	default:
		firstMessageEver := clone.TheirEphemeral == nil
		// Keys drained from the retiring chain count toward this call's
		// MaxSkip budget together with any skipped on the new chain (I4).
		var drained uint64
		if clone.TheirEphemeral != nil && hdr.previousSendCounter > 0 {
			if clone.ReceivingChain != nil && hdr.previousSendCounter > clone.ReceiveCounter {
				drained = uint64(hdr.previousSendCounter - clone.ReceiveCounter)
			}
			if drained > MaxSkip {
				return nil, nil, ErrSkipLimitExceeded
			}
			if err := retireCurrentChain(clone, hdr.previousSendCounter); err != nil {
				return nil, nil, err
			}
		}

		performDH := !(firstMessageEver && clone.SendCounter == 0)
		if performDH {
			dhOut := curve.DH(clone.MyEphemeral.Priv, Eprime)
			newRoot, newChain := aead.KDFRoot(clone.RootKey[:], dhOut.Encode())
			clone.RootKey = newRoot
			clone.ReceivingChain = &newChain
			clone.ReceiveCounter = 0
		}
		clone.TheirEphemeral = &Eprime
		clone.RatchetedForTheirEphemeral = false

		if hdr.messageCounter >= clone.ReceiveCounter &&
			drained+uint64(hdr.messageCounter-clone.ReceiveCounter) > MaxSkip {
			return nil, nil, ErrSkipLimitExceeded
		}
		mk, err := acquireFromCurrent(clone, hdr.ephemeral, hdr.messageCounter)
		if err != nil {
			return nil, nil, err
		}
		return finish(clone, mk, &nonce, ciphertext)
	}
}

// finish authenticates and decrypts the message key against ciphertext,
// wiping the message key regardless of outcome.
func finish(clone *State, mk [32]byte, nonce *[aead.NonceSize]byte, ciphertext []byte) ([]byte, *State, error) {
	plaintext, ok := aead.Open(&mk, nonce, ciphertext)
	secure.Zero(mk[:])
	if !ok {
		return nil, nil, ErrDecryptFail
	}
	return plaintext, clone, nil
}

// acquireFromCurrent derives the message key for counter n on the
// current receiving chain, caching any intermediate skipped keys and
// enforcing replay rejection and MAX_SKIP (I3, I4).
func acquireFromCurrent(clone *State, eph [32]byte, n uint32) ([32]byte, error) {
	if n < clone.ReceiveCounter {
		return [32]byte{}, ErrReplay
	}
	if n-clone.ReceiveCounter > MaxSkip {
		return [32]byte{}, ErrSkipLimitExceeded
	}
	if clone.ReceivingChain == nil {
		return [32]byte{}, ErrChainUninitialized
	}

	ck := *clone.ReceivingChain
	for clone.ReceiveCounter < n {
		if len(clone.SkippedMessageKeys) >= MaxSkippedCacheSize {
			return [32]byte{}, ErrEvictionOverflow
		}
		mk, next := aead.KDFChain(ck[:])
		clone.SkippedMessageKeys[skippedKey{eph: eph, counter: clone.ReceiveCounter}] = mk
		ck = next
		clone.ReceiveCounter++
	}
	mk, next := aead.KDFChain(ck[:])
	clone.ReceivingChain = &next
	clone.ReceiveCounter = n + 1
	return mk, nil
}

// acquireFromRetired derives the message key for counter n against the
// single retained previous-receiving-chain.
func acquireFromRetired(clone *State, eph [32]byte, n uint32) ([32]byte, error) {
	pc := clone.PrevChain
	if n >= pc.finalCounter {
		// Nprev is the authoritative final count for that chain; a
		// counter at or beyond it cannot have been sent.
		return [32]byte{}, ErrUnknownChain
	}
	if n < pc.nextExpected {
		// Already drained into the cache at retirement time and since
		// consumed (or evicted): either way, not re-derivable here.
		return [32]byte{}, ErrReplay
	}
	for pc.nextExpected < n {
		if len(clone.SkippedMessageKeys) >= MaxSkippedCacheSize {
			return [32]byte{}, ErrEvictionOverflow
		}
		mk, next := aead.KDFChain(pc.chainKey[:])
		clone.SkippedMessageKeys[skippedKey{eph: eph, counter: pc.nextExpected}] = mk
		pc.chainKey = next
		pc.nextExpected++
	}
	mk, next := aead.KDFChain(pc.chainKey[:])
	pc.chainKey = next
	pc.nextExpected = n + 1
	return mk, nil
}

// retireCurrentChain drains the current receiving chain from its
// present counter up to (but not including) until, caching every
// skipped key, then files the result as the single retained previous
// chain (SPEC_FULL.md's resolved question 4).
func retireCurrentChain(clone *State, until uint32) error {
	if clone.ReceivingChain == nil {
		return nil
	}
	var oldEph [32]byte
	copy(oldEph[:], clone.TheirEphemeral.Encode())

	ck := *clone.ReceivingChain
	for clone.ReceiveCounter < until {
		if len(clone.SkippedMessageKeys) >= MaxSkippedCacheSize {
			return ErrEvictionOverflow
		}
		mk, next := aead.KDFChain(ck[:])
		clone.SkippedMessageKeys[skippedKey{eph: oldEph, counter: clone.ReceiveCounter}] = mk
		ck = next
		clone.ReceiveCounter++
	}
	clone.PrevChain = &previousChain{
		eph:          oldEph,
		chainKey:     ck,
		nextExpected: until,
		finalCounter: until,
	}
	return nil
}
