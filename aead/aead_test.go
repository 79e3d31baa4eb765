package aead_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"prpcap/aead"
)

func TestSealOpenRoundTrip(t *testing.T) {
	var key [aead.KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	nonceBytes, err := aead.RandomBytes(rand.Reader, aead.NonceSize)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	var nonce [aead.NonceSize]byte
	copy(nonce[:], nonceBytes)

	pt := []byte("Hello PRP-Cap!")
	ct := aead.Seal(&key, &nonce, pt)

	got, ok := aead.Open(&key, &nonce, ct)
	if !ok {
		t.Fatal("Open: want ok=true")
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("got %q, want %q", got, pt)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	var key [aead.KeySize]byte
	rand.Read(key[:])
	var nonce [aead.NonceSize]byte
	rand.Read(nonce[:])

	ct := aead.Seal(&key, &nonce, []byte("secret"))
	ct[len(ct)-1] ^= 0x01

	if _, ok := aead.Open(&key, &nonce, ct); ok {
		t.Fatal("Open: want ok=false for tampered ciphertext")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{1, 2, 3}
	c := []byte{1, 2, 4}
	if !aead.ConstantTimeEqual(a, b) {
		t.Fatal("want equal")
	}
	if aead.ConstantTimeEqual(a, c) {
		t.Fatal("want not equal")
	}
	if aead.ConstantTimeEqual(a, []byte{1, 2}) {
		t.Fatal("want not equal for differing lengths")
	}
}

func TestKDFChainAdvances(t *testing.T) {
	ck := bytes.Repeat([]byte{0x11}, 32)
	mk1, next1 := aead.KDFChain(ck)
	mk2, next2 := aead.KDFChain(next1[:])
	if bytes.Equal(mk1[:], mk2[:]) {
		t.Fatal("successive message keys must differ")
	}
	if bytes.Equal(next1[:], next2[:]) {
		t.Fatal("successive chain keys must differ")
	}
}

func TestKDFRootDeterministic(t *testing.T) {
	root := bytes.Repeat([]byte{0x22}, 32)
	dh := bytes.Repeat([]byte{0x33}, 32)
	r1, c1 := aead.KDFRoot(root, dh)
	r2, c2 := aead.KDFRoot(root, dh)
	if !bytes.Equal(r1[:], r2[:]) || !bytes.Equal(c1[:], c2[:]) {
		t.Fatal("KDFRoot must be deterministic over identical inputs")
	}
}
