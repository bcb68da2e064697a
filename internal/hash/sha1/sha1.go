// Package sha1 provides content hashing for article deduplication.
package sha1

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Hasher computes normalized content digests.
type Hasher struct{}

// New returns a content hasher.
func New() *Hasher {
	return &Hasher{}
}

// ContentHash normalizes whitespace and returns a hex SHA-1 digest. Two
// articles whose bodies differ only in whitespace hash identically.
func (h *Hasher) ContentHash(text string) string {
	norm := strings.Join(strings.Fields(strings.TrimSpace(text)), " ")
	sum := sha1.Sum([]byte(norm))
	return hex.EncodeToString(sum[:])
}
