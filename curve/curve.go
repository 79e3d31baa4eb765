// Package curve implements scalar and point arithmetic on Edwards-25519:
// base-point multiplication, point addition, and scalar hash-to-field,
// all constant-time where the input includes secret data. It is the
// lowest layer of the core; every other package is built on top of it.
//
// Both the PRP-Cap capability math and every Double Ratchet DH step use
// the same curve directly — there is no Montgomery/X25519 detour. See
// SPEC_FULL.md's resolved open question on this.
package curve

import (
	"bytes"
	cryptorand "crypto/rand"
	"crypto/sha512"
	"errors"
	"io"

	"filippo.io/edwards25519"

	"prpcap/internal/secure"
)

// ErrInvalidPoint is returned when a 32-byte field fails to decode to a
// valid curve point.
var ErrInvalidPoint = errors.New("curve: invalid point")

// ErrInvalidScalar is returned when a scalar is zero, non-reduced, or
// otherwise fails to meet the caller's expectations.
var ErrInvalidScalar = errors.New("curve: invalid scalar")

// Scalar is an integer modulo the Edwards-25519 group order.
type Scalar struct {
	s *edwards25519.Scalar
}

// Point is a canonical Edwards-25519 curve point.
type Point struct {
	p *edwards25519.Point
}

// IsZero reports whether s holds the zero scalar.
func (s Scalar) IsZero() bool {
	zero := edwards25519.NewScalar()
	return s.s.Equal(zero) == 1
}

// Bytes returns the 32-byte little-endian encoding of s.
func (s Scalar) Bytes() []byte {
	return s.s.Bytes()
}

// Zero overwrites the scalar's backing bytes. After calling Zero the
// Scalar must not be used again.
func (s Scalar) Zero() {
	b := s.s.Bytes()
	secure.Zero(b)
	// SetCanonicalBytes with all-zero input always succeeds (zero is a
	// valid, if degenerate, scalar encoding), collapsing s to the zero
	// scalar in place.
	_, _ = s.s.SetCanonicalBytes(b)
}

// Add returns s + o mod n.
func (s Scalar) Add(o Scalar) Scalar {
	return Scalar{s: edwards25519.NewScalar().Add(s.s, o.s)}
}

// Mul returns s * o mod n.
func (s Scalar) Mul(o Scalar) Scalar {
	return Scalar{s: edwards25519.NewScalar().Multiply(s.s, o.s)}
}

// MulAdd returns s*x + y mod n.
func (s Scalar) MulAdd(x, y Scalar) Scalar {
	return Scalar{s: edwards25519.NewScalar().MultiplyAdd(s.s, x.s, y.s)}
}

// ScalarFromCanonicalBytes decodes a 32-byte little-endian scalar that is
// already reduced modulo the group order. Non-canonical or zero input is
// ErrInvalidScalar.
func ScalarFromCanonicalBytes(b []byte) (Scalar, error) {
	s, err := edwards25519.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return Scalar{}, ErrInvalidScalar
	}
	if s.Equal(edwards25519.NewScalar()) == 1 {
		return Scalar{}, ErrInvalidScalar
	}
	return Scalar{s: s}, nil
}

// ScalarFromWideBytes performs scalar_reduce: a wide (64-byte) reduction
// modulo the group order, used by HashToScalar.
func ScalarFromWideBytes(b []byte) (Scalar, error) {
	if len(b) != 64 {
		return Scalar{}, ErrInvalidScalar
	}
	s, err := edwards25519.NewScalar().SetUniformBytes(b)
	if err != nil {
		return Scalar{}, ErrInvalidScalar
	}
	return Scalar{s: s}, nil
}

// HashToScalar implements hash_to_scalar: SHA-512 over the concatenation
// of parts, then scalar_reduce.
func HashToScalar(parts ...[]byte) Scalar {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	sum := h.Sum(nil)
	// SetUniformBytes only fails on a wrong-length input; sum is always
	// exactly 64 bytes.
	s, _ := edwards25519.NewScalar().SetUniformBytes(sum)
	return Scalar{s: s}
}

// RandomScalar samples a uniformly random clamped scalar suitable for use
// as a private key, reading entropy from rand (crypto/rand if nil).
func RandomScalar(rand io.Reader) (Scalar, error) {
	if rand == nil {
		rand = cryptorand.Reader
	}
	var raw [32]byte
	if _, err := io.ReadFull(rand, raw[:]); err != nil {
		return Scalar{}, err
	}
	defer secure.Zero(raw[:])
	s, err := edwards25519.NewScalar().SetBytesWithClamping(raw[:])
	if err != nil {
		// SetBytesWithClamping only fails on wrong-length input.
		return Scalar{}, ErrInvalidScalar
	}
	return Scalar{s: s}, nil
}

// DecodePoint decodes a 32-byte compressed point. Off-curve or
// non-canonical input is a hard ErrInvalidPoint.
func DecodePoint(b []byte) (Point, error) {
	p, err := edwards25519.NewIdentityPoint().SetBytes(b)
	if err != nil {
		return Point{}, ErrInvalidPoint
	}
	// SetBytes accepts non-canonical encodings; re-encoding exposes them.
	if !bytes.Equal(p.Bytes(), b) {
		return Point{}, ErrInvalidPoint
	}
	return Point{p: p}, nil
}

// Encode returns the 32-byte canonical compressed encoding of p.
func (p Point) Encode() []byte {
	return p.p.Bytes()
}

// Equal reports whether p and q encode the same point, in constant time.
func (p Point) Equal(q Point) bool {
	return p.p.Equal(q.p) == 1
}

// BaseMul computes s*G, the base-point multiply.
func BaseMul(s Scalar) Point {
	return Point{p: edwards25519.NewIdentityPoint().ScalarBaseMult(s.s)}
}

// Mul computes s*p, the general point multiply. This is also the DH
// primitive: DH(s, p) == Mul(s, p). Its output is raw curve material and
// must be hashed (see aead.KDFRoot/HashToScalar's callers) before use as
// a symmetric key.
func (p Point) Mul(s Scalar) Point {
	return Point{p: edwards25519.NewIdentityPoint().ScalarMult(s.s, p.p)}
}

// Add computes p + q.
func (p Point) Add(q Point) Point {
	return Point{p: edwards25519.NewIdentityPoint().Add(p.p, q.p)}
}

// DH is point_mul documented as the Diffie-Hellman primitive: the shared
// point computed from one party's scalar and the other's public point.
func DH(s Scalar, p Point) Point {
	return p.Mul(s)
}
