package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestS256Challenge_RFC7636Vector(t *testing.T) {
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		S256Challenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}

func TestVerifyPKCE(t *testing.T) {
	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	tests := []struct {
		name      string
		method    string
		challenge string
		verifier  string
		want      bool
	}{
		{"s256 match", PKCEMethodS256, S256Challenge(verifier), verifier, true},
		{"s256 mismatch", PKCEMethodS256, S256Challenge(verifier), verifier + "x", false},
		{"s256 challenge as verifier", PKCEMethodS256, S256Challenge(verifier), S256Challenge(verifier), false},
		{"plain match", PKCEMethodPlain, verifier, verifier, true},
		{"plain mismatch", PKCEMethodPlain, verifier, "other", false},
		{"unknown method", "S512", verifier, verifier, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyPKCE(tt.method, tt.challenge, tt.verifier))
		})
	}
}

func TestNormalizePKCEMethod(t *testing.T) {
	m, ok := NormalizePKCEMethod("s256")
	assert.True(t, ok)
	assert.Equal(t, PKCEMethodS256, m)

	m, ok = NormalizePKCEMethod("PLAIN")
	assert.True(t, ok)
	assert.Equal(t, PKCEMethodPlain, m)

	_, ok = NormalizePKCEMethod("md5")
	assert.False(t, ok)
}
