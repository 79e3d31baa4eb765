package ratchet_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"prpcap/ratchet"
)

func mustIdentity(t *testing.T) ratchet.Identity {
	t.Helper()
	id, err := ratchet.GenerateKeyPair(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return id
}

func mustPlainPair(t *testing.T) (alice, bob *ratchet.State) {
	t.Helper()
	aliceID := mustIdentity(t)
	bobID := mustIdentity(t)

	alice, err := ratchet.InitPlain(rand.Reader, aliceID, bobID.Pub)
	if err != nil {
		t.Fatalf("InitPlain(alice): %v", err)
	}
	bob, err = ratchet.InitPlain(rand.Reader, bobID, aliceID.Pub)
	if err != nil {
		t.Fatalf("InitPlain(bob): %v", err)
	}
	return alice, bob
}

// S3 — Bidirectional round-trip (plain init).
func TestBidirectionalRoundTrip(t *testing.T) {
	alice, bob := mustPlainPair(t)

	wire, alice, err := ratchet.Encrypt(rand.Reader, alice, []byte("A1"))
	if err != nil {
		t.Fatalf("Encrypt A1: %v", err)
	}
	pt, bob, err := ratchet.Decrypt(bob, wire)
	if err != nil {
		t.Fatalf("Decrypt A1: %v", err)
	}
	if string(pt) != "A1" {
		t.Fatalf("A1: got %q", pt)
	}

	wire, bob, err = ratchet.Encrypt(rand.Reader, bob, []byte("B1"))
	if err != nil {
		t.Fatalf("Encrypt B1: %v", err)
	}
	pt, alice, err = ratchet.Decrypt(alice, wire)
	if err != nil {
		t.Fatalf("Decrypt B1: %v", err)
	}
	if string(pt) != "B1" {
		t.Fatalf("B1: got %q", pt)
	}

	wire, alice, err = ratchet.Encrypt(rand.Reader, alice, []byte("A2"))
	if err != nil {
		t.Fatalf("Encrypt A2: %v", err)
	}
	if alice.PreviousSendCounter != 1 {
		t.Fatalf("previousSendCounter at A2 send: got %d, want 1", alice.PreviousSendCounter)
	}
	pt, bob, err = ratchet.Decrypt(bob, wire)
	if err != nil {
		t.Fatalf("Decrypt A2: %v", err)
	}
	if string(pt) != "A2" {
		t.Fatalf("A2: got %q", pt)
	}

	wire, bob, err = ratchet.Encrypt(rand.Reader, bob, []byte("B2"))
	if err != nil {
		t.Fatalf("Encrypt B2: %v", err)
	}
	pt, _, err = ratchet.Decrypt(alice, wire)
	if err != nil {
		t.Fatalf("Decrypt B2: %v", err)
	}
	if string(pt) != "B2" {
		t.Fatalf("B2: got %q", pt)
	}
}

// S4 — Out-of-order within one chain.
func TestOutOfOrderWithinOneChain(t *testing.T) {
	alice, bob := mustPlainPair(t)

	var wires [][]byte
	for i := 0; i < 5; i++ {
		var w []byte
		var err error
		w, alice, err = ratchet.Encrypt(rand.Reader, alice, []byte{'m', byte('0' + i)})
		if err != nil {
			t.Fatalf("Encrypt m%d: %v", i, err)
		}
		wires = append(wires, w)
	}

	order := []int{2, 4, 0, 3, 1}
	for _, idx := range order {
		var pt []byte
		var err error
		pt, bob, err = ratchet.Decrypt(bob, wires[idx])
		if err != nil {
			t.Fatalf("Decrypt m%d: %v", idx, err)
		}
		want := []byte{'m', byte('0' + idx)}
		if !bytes.Equal(pt, want) {
			t.Fatalf("m%d: got %q want %q", idx, pt, want)
		}
	}

	if bob.ReceiveCounter != 5 {
		t.Fatalf("receiveCounter: got %d, want 5", bob.ReceiveCounter)
	}
	if len(bob.SkippedMessageKeys) != 0 {
		t.Fatalf("skippedMessageKeys: got %d entries, want 0", len(bob.SkippedMessageKeys))
	}
}

// S5 — Out-of-order across a DH boundary.
func TestOutOfOrderAcrossDHBoundary(t *testing.T) {
	alice, bob := mustPlainPair(t)

	a1, alice, err := ratchet.Encrypt(rand.Reader, alice, []byte("A1"))
	if err != nil {
		t.Fatalf("Encrypt A1: %v", err)
	}
	a2, alice, err := ratchet.Encrypt(rand.Reader, alice, []byte("A2"))
	if err != nil {
		t.Fatalf("Encrypt A2: %v", err)
	}

	pt, bob, err := ratchet.Decrypt(bob, a1)
	if err != nil {
		t.Fatalf("Decrypt A1: %v", err)
	}
	if string(pt) != "A1" {
		t.Fatalf("A1: got %q", pt)
	}

	b1, bob, err := ratchet.Encrypt(rand.Reader, bob, []byte("B1"))
	if err != nil {
		t.Fatalf("Encrypt B1: %v", err)
	}
	pt, alice, err = ratchet.Decrypt(alice, b1)
	if err != nil {
		t.Fatalf("Decrypt B1: %v", err)
	}
	if string(pt) != "B1" {
		t.Fatalf("B1: got %q", pt)
	}

	a3, alice, err := ratchet.Encrypt(rand.Reader, alice, []byte("A3"))
	if err != nil {
		t.Fatalf("Encrypt A3: %v", err)
	}
	a4, _, err := ratchet.Encrypt(rand.Reader, alice, []byte("A4"))
	if err != nil {
		t.Fatalf("Encrypt A4: %v", err)
	}

	pt, bob, err = ratchet.Decrypt(bob, a4)
	if err != nil {
		t.Fatalf("Decrypt A4: %v", err)
	}
	if string(pt) != "A4" {
		t.Fatalf("A4: got %q", pt)
	}

	pt, bob, err = ratchet.Decrypt(bob, a2)
	if err != nil {
		t.Fatalf("Decrypt A2 (retired chain): %v", err)
	}
	if string(pt) != "A2" {
		t.Fatalf("A2: got %q", pt)
	}

	pt, _, err = ratchet.Decrypt(bob, a3)
	if err != nil {
		t.Fatalf("Decrypt A3: %v", err)
	}
	if string(pt) != "A3" {
		t.Fatalf("A3: got %q", pt)
	}
}

// S6 — MAX_SKIP boundary.
func TestMaxSkipBoundary(t *testing.T) {
	aliceID := mustIdentity(t)
	bobID := mustIdentity(t)

	alice, err := ratchet.InitPlain(rand.Reader, aliceID, bobID.Pub)
	if err != nil {
		t.Fatalf("InitPlain(alice): %v", err)
	}

	var wires [][]byte
	for i := 0; i < 102; i++ {
		var w []byte
		w, alice, err = ratchet.Encrypt(rand.Reader, alice, []byte{byte(i)})
		if err != nil {
			t.Fatalf("Encrypt m%d: %v", i, err)
		}
		wires = append(wires, w)
	}

	bobForM100, err := ratchet.InitPlain(rand.Reader, bobID, aliceID.Pub)
	if err != nil {
		t.Fatalf("InitPlain(bob#1): %v", err)
	}
	if _, _, err := ratchet.Decrypt(bobForM100, wires[100]); err != nil {
		t.Fatalf("Decrypt m100 (100 keys skipped): %v", err)
	}

	bobForM101, err := ratchet.InitPlain(rand.Reader, bobID, aliceID.Pub)
	if err != nil {
		t.Fatalf("InitPlain(bob#2): %v", err)
	}
	if _, _, err := ratchet.Decrypt(bobForM101, wires[101]); err != ratchet.ErrSkipLimitExceeded {
		t.Fatalf("Decrypt m101 as first action on fresh state: got %v, want ErrSkipLimitExceeded", err)
	}
}

// S7 — Tamper rejection.
func TestTamperRejection(t *testing.T) {
	alice, bob := mustPlainPair(t)

	wire, _, err := ratchet.Encrypt(rand.Reader, alice, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := append([]byte{}, wire...)
	tampered[len(tampered)-1] ^= 0x01

	if _, newState, err := ratchet.Decrypt(bob, tampered); err != ratchet.ErrDecryptFail || newState != nil {
		t.Fatalf("Decrypt tampered ciphertext: got (%v, %v), want (ErrDecryptFail, nil)", newState, err)
	}

	tamperedNonce := append([]byte{}, wire...)
	tamperedNonce[50] ^= 0x01
	if _, newState, err := ratchet.Decrypt(bob, tamperedNonce); err != ratchet.ErrDecryptFail || newState != nil {
		t.Fatalf("Decrypt tampered nonce: got (%v, %v), want (ErrDecryptFail, nil)", newState, err)
	}

	// bob's original state must still decrypt the untampered message.
	pt, _, err := ratchet.Decrypt(bob, wire)
	if err != nil {
		t.Fatalf("Decrypt original after tamper attempts: %v", err)
	}
	if string(pt) != "secret" {
		t.Fatalf("got %q", pt)
	}
}

func TestReplayRejected(t *testing.T) {
	alice, bob := mustPlainPair(t)

	wire, _, err := ratchet.Encrypt(rand.Reader, alice, []byte("once"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	_, bob, err = ratchet.Decrypt(bob, wire)
	if err != nil {
		t.Fatalf("Decrypt first: %v", err)
	}
	if _, _, err := ratchet.Decrypt(bob, wire); err != ratchet.ErrReplay && err != ratchet.ErrDecryptFail {
		t.Fatalf("Decrypt replay: got %v, want ErrReplay or ErrDecryptFail", err)
	}
}
