package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
)

// PKCE code challenge methods.
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// NormalizePKCEMethod maps a case-insensitive method name to its canonical
// form. It reports false for unsupported methods.
func NormalizePKCEMethod(method string) (string, bool) {
	switch {
	case strings.EqualFold(method, PKCEMethodPlain):
		return PKCEMethodPlain, true
	case strings.EqualFold(method, PKCEMethodS256):
		return PKCEMethodS256, true
	default:
		return "", false
	}
}

// S256Challenge returns base64url(sha256(verifier)) without padding.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE checks verifier against a stored challenge. An unknown method
// never verifies.
func VerifyPKCE(method, challenge, verifier string) bool {
	var computed string
	switch method {
	case PKCEMethodPlain:
		computed = verifier
	case PKCEMethodS256:
		computed = S256Challenge(verifier)
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
