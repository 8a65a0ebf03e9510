package ociauth

import "crypto/sha256"

// DeriveKey derives a 32-byte AES-256 key from an arbitrary passphrase
// or cluster identifier via SHA-256.
func DeriveKey(seed string) []byte {
	sum := sha256.Sum256([]byte(seed))
	return sum[:]
}
