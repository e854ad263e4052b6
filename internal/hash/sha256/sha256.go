// Package sha256 fingerprints canonical page text with SHA-256.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher turns canonical text into a lowercase hex fingerprint.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Fingerprint hashes the UTF-8 bytes of text and returns a 64-character hex digest.
func (h *Hasher) Fingerprint(text string) string {
	return Sum(text)
}

// Sum is the package-level form of Fingerprint.
func Sum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
