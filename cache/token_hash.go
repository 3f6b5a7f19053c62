package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives the rft_id of a refresh token: the hex SHA-256 of its
// value. It is deterministic, so access tokens and the revocation record can
// refer to a refresh token without exposing it.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Fingerprints maps Fingerprint over tokens.
func Fingerprints(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, Fingerprint(t))
	}
	return out
}
