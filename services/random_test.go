package services

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomAlphanumeric(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Za-z0-9]+$`)
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		s, err := RandomAlphanumeric(CodeLength)
		require.NoError(t, err)
		assert.Len(t, s, CodeLength)
		assert.Regexp(t, pattern, s)
		seen[s] = struct{}{}
	}
	assert.Len(t, seen, 100)

	s, err := RandomAlphanumeric(SsoTokenLength)
	require.NoError(t, err)
	assert.Len(t, s, SsoTokenLength)
}
