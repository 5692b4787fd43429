package id

import (
	"crypto/rand"
	"encoding/hex"
)

// NewToken returns a 16-byte random hex token used for object-store keys.
// Keys must never derive from user-supplied filenames.
func NewToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "restoreflow-fallback-id"
	}
	return hex.EncodeToString(b[:])
}
