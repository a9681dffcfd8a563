// Package idgen provides cryptographically random identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// WithPrefix generates a random ID with a prefix (e.g. "rcpt_", "risk_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Random128 reads a fresh 128-bit value from crypto/rand.
func Random128() ([16]byte, error) {
	var b [16]byte
	_, err := rand.Read(b[:])
	return b, err
}

// UUID returns a random RFC 4122 v4 identifier.
func UUID() string {
	return uuid.NewString()
}
