package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestSecretMatches(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s2"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, SecretMatches("s1", "s1"))
	assert.False(t, SecretMatches("s1", "s2"))
	assert.True(t, SecretMatches(string(hash), "s2"))
	assert.False(t, SecretMatches(string(hash), "s1"))
	assert.False(t, SecretMatches("", ""))
}
