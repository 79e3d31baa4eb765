package capability

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"prpcap/curve"
)

// BundleVersion is the only public-parameter bundle version this core
// understands (§6.4).
const BundleVersion = 0x01

// ErrMalformedBundle is returned when a bundle is too short or its
// metadata JSON doesn't parse.
var ErrMalformedBundle = errors.New("capability: malformed bundle")

// bundleMetadata is the JSON object following the fixed-size prefix
// (§6.1), extended with a detached Ed25519 signature (SPEC_FULL.md's
// signed-bundle enrichment) so a relayed bundle's A, B can't be silently
// substituted in transit.
type bundleMetadata struct {
	ValidFrom  uint64 `json:"validFrom"`
	ValidUntil uint64 `json:"validUntil"`
	EpochID    string `json:"epochId"`
	Sig        string `json:"sig,omitempty"`
}

// Bundle is the parsed form of a public-parameter bundle.
type Bundle struct {
	IdentityPub curve.Point
	A, B        curve.Point
	ValidFrom   uint64
	ValidUntil  uint64
	EpochID     [16]byte
	// Sig is the detached Ed25519 signature bytes, empty if the bundle
	// carried none. Verifying it is the caller's choice (§7).
	Sig []byte
}

// signedPayload reconstructs the bytes an Ed25519 signature for a
// bundle is computed over: identityPub ‖ A ‖ B ‖ validFrom ‖ validUntil
// ‖ epochID, each multi-byte integer big-endian.
func signedPayload(identityPub, A, B curve.Point, validFrom, validUntil uint64, epochID [16]byte) []byte {
	out := make([]byte, 0, 32+32+32+8+8+16)
	out = append(out, identityPub.Encode()...)
	out = append(out, A.Encode()...)
	out = append(out, B.Encode()...)
	out = appendUint64(out, validFrom)
	out = appendUint64(out, validUntil)
	out = append(out, epochID[:]...)
	return out
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 7; i >= 0; i-- {
		tmp[i] = byte(v)
		v >>= 8
	}
	return append(b, tmp[:]...)
}

// EncodeBundle serializes identityPub and an epoch's public parameters
// per §6.1. If signingKey is non-nil, a detached Ed25519 signature over
// the bundle's authenticated fields is embedded in the metadata JSON's
// "sig" field.
func EncodeBundle(identityPub curve.Point, epoch *Epoch, signingKey ed25519.PrivateKey) ([]byte, error) {
	A, B, validFrom, validUntil, epochID := epoch.Public()

	meta := bundleMetadata{
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
		EpochID:    hex.EncodeToString(epochID[:]),
	}
	if signingKey != nil {
		sig := ed25519.Sign(signingKey, signedPayload(identityPub, A, B, validFrom, validUntil, epochID))
		meta.Sig = base64.StdEncoding.EncodeToString(sig)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+32+32+32+len(metaJSON))
	out = append(out, BundleVersion)
	out = append(out, identityPub.Encode()...)
	out = append(out, A.Encode()...)
	out = append(out, B.Encode()...)
	out = append(out, metaJSON...)
	return out, nil
}

// DecodeBundle parses a public-parameter bundle. It never verifies a
// signature on its own — Sig is returned so the caller can verify it
// against whatever identity key it trusts, per the policy boundary in
// §7.
func DecodeBundle(wire []byte) (*Bundle, error) {
	if len(wire) < 1+32+32+32 {
		return nil, ErrMalformedBundle
	}
	if wire[0] != BundleVersion {
		return nil, ErrUnknownVersion
	}
	identityPub, err := curve.DecodePoint(wire[1:33])
	if err != nil {
		return nil, err
	}
	A, err := curve.DecodePoint(wire[33:65])
	if err != nil {
		return nil, err
	}
	B, err := curve.DecodePoint(wire[65:97])
	if err != nil {
		return nil, err
	}

	var meta bundleMetadata
	if err := json.Unmarshal(wire[97:], &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}
	epochIDBytes, err := hex.DecodeString(meta.EpochID)
	if err != nil || len(epochIDBytes) != 16 {
		return nil, ErrMalformedBundle
	}
	var epochID [16]byte
	copy(epochID[:], epochIDBytes)

	var sig []byte
	if meta.Sig != "" {
		sig, err = base64.StdEncoding.DecodeString(meta.Sig)
		if err != nil {
			return nil, ErrMalformedBundle
		}
	}

	return &Bundle{
		IdentityPub: identityPub,
		A:           A,
		B:           B,
		ValidFrom:   meta.ValidFrom,
		ValidUntil:  meta.ValidUntil,
		EpochID:     epochID,
		Sig:         sig,
	}, nil
}

// VerifySignature reports whether b's signature verifies under
// signerPub. Callers should only trust a bundle whose signature checks
// out against the identity they already have out-of-band (§7 policy
// boundary) — this is deliberately not called by DecodeBundle itself.
func (b *Bundle) VerifySignature(signerPub ed25519.PublicKey) bool {
	if len(b.Sig) == 0 {
		return false
	}
	payload := signedPayload(b.IdentityPub, b.A, b.B, b.ValidFrom, b.ValidUntil, b.EpochID)
	return ed25519.Verify(signerPub, payload, b.Sig)
}
