package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a URL-safe hex string ID used for request ids and lock tokens.
func NewID() string {
	return RandomHex(12)
}

// RandomHex returns n random bytes hex-encoded.
func RandomHex(n int) string {
	if n <= 0 {
		n = 12
	}
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
