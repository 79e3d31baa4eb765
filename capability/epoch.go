// Package capability implements the PRP-Cap 0-RTT key exchange: epoch
// generation, the per-index capability derivation (t_i, V_i, v_i), the
// dual-sided DH convergence, building and opening 0-RTT messages, the
// public-parameter bundle codec, and the bridge into the ratchet (C4)
// that seeds a session from a single 0-RTT exchange.
package capability

import (
	"crypto/sha512"
	"errors"
	"io"

	"prpcap/curve"
	"prpcap/internal/secure"
)

// epochLifetime is 30 days in milliseconds, per §4.3.1.
const epochLifetime = 30 * 86400 * 1000

// ErrConfigError signals a missing precondition for the operation
// requested — most commonly that s2 has already been erased.
var ErrConfigError = errors.New("capability: configuration error")

// ErrEpochExpired is returned by policy-checking callers of IsExpired;
// the package itself never rejects an expired epoch on its own, since
// acceptance of an expired epoch is an application policy decision
// (§7).
var ErrEpochExpired = errors.New("capability: epoch expired")

// Epoch holds one epoch's public and private parameters. s2 MUST be
// erased via EraseS2 at epoch end; s1 stays live for the epoch's
// duration so capability scalars can still be derived.
type Epoch struct {
	s1, s2     curve.Scalar
	s2Erased   bool
	A, B       curve.Point
	ValidFrom  uint64
	ValidUntil uint64
	EpochID    [16]byte
}

// GenerateEpoch samples a fresh epoch: two independent clamped scalars,
// their base-point images, and an epoch ID derived from them (§4.3.1).
// now is milliseconds since the Unix epoch, supplied by the caller since
// the core never reads the wall clock itself.
func GenerateEpoch(rand io.Reader, now uint64) (*Epoch, error) {
	s1, err := curve.RandomScalar(rand)
	if err != nil {
		return nil, err
	}
	s2, err := curve.RandomScalar(rand)
	if err != nil {
		return nil, err
	}
	A := curve.BaseMul(s1)
	B := curve.BaseMul(s2)

	h := sha512.Sum512(append(append([]byte{}, A.Encode()...), B.Encode()...))
	var id [16]byte
	copy(id[:], h[:16])
	secure.Zero(h[:])

	return &Epoch{
		s1:         s1,
		s2:         s2,
		A:          A,
		B:          B,
		ValidFrom:  now,
		ValidUntil: now + epochLifetime,
		EpochID:    id,
	}, nil
}

// Public returns the epoch's sharable parameters.
func (e *Epoch) Public() (A, B curve.Point, validFrom, validUntil uint64, epochID [16]byte) {
	return e.A, e.B, e.ValidFrom, e.ValidUntil, e.EpochID
}

// IsExpired reports whether now is past the epoch's validUntil. Callers
// decide whether an expired epoch is still accepted (§7); this is
// advisory only.
func (e *Epoch) IsExpired(now uint64) bool {
	return now > e.ValidUntil
}

// EraseS2 zeroes the epoch's s2 scalar, the deliberate forward-secrecy
// boundary (§3, S8): after this call DeriveCapabilityScalar always fails
// with ErrConfigError, and any 0-RTT message still addressed to this
// epoch can no longer be opened.
func (e *Epoch) EraseS2() {
	if e.s2Erased {
		return
	}
	e.s2.Zero()
	e.s2Erased = true
}
