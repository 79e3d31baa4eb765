// Package secure holds the one helper every layer of the core needs:
// best-effort zeroing of secret byte buffers as they leave scope.
package secure

import "crypto/subtle"

// Zero overwrites b with zeros using a constant-time copy so the compiler
// can't elide the write as dead code the way a naive loop sometimes gets
// optimized away.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}
