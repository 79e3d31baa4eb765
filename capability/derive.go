package capability

import (
	"encoding/binary"

	"prpcap/curve"
)

// capPrefix is the domain-separation tag for capability derivation, the
// ASCII bytes "PRP-CAP" with no terminator (§6.4).
var capPrefix = []byte("PRP-CAP")

// DeriveT computes t_i = hash_to_scalar("PRP-CAP" ‖ i_be32 ‖ A ‖ B)
// (§4.3.2). This spec fixes the 75-byte layout explicitly (resolved open
// question 1): no padding, A and B each exactly 32 bytes.
func DeriveT(i uint32, A, B curve.Point) curve.Scalar {
	var ib [4]byte
	binary.BigEndian.PutUint32(ib[:], i)
	return curve.HashToScalar(capPrefix, ib[:], A.Encode(), B.Encode())
}

// DeriveCapabilityPoint computes V_i = A + t_i·B, the point anyone
// holding the public bundle can encrypt to.
func DeriveCapabilityPoint(i uint32, A, B curve.Point) curve.Point {
	t := DeriveT(i, A, B)
	return A.Add(B.Mul(t))
}

// DeriveCapabilityScalar computes v_i = s1 + t_i·s2, the private scalar
// only the epoch owner can compute, satisfying v_i·G == V_i (I1/P1).
// Fails with ErrConfigError once s2 has been erased.
func (e *Epoch) DeriveCapabilityScalar(i uint32) (curve.Scalar, error) {
	if e.s2Erased {
		return curve.Scalar{}, ErrConfigError
	}
	t := DeriveT(i, e.A, e.B)
	return e.s2.Mul(t).Add(e.s1), nil
}
