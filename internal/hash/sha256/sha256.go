// Package sha256 content-addresses archived pages with SHA-256 digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher is the crawler.Hasher used for snapshot paths. The zero value is ready.
type Hasher struct{}

// New returns a Hasher.
func New() Hasher { return Hasher{} }

// Hash returns the hex digest of data. It never fails.
func (Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum is the lowercase hex SHA-256 of data.
func Sum(data []byte) string {
	d := sha256.Sum256(data)
	return hex.EncodeToString(d[:])
}
