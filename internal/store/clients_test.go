package store

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var apiKeyRe = regexp.MustCompile(`^sk_[0-9a-f]{48}$`)

func TestGenerateAPIKeyFormat(t *testing.T) {
	key, err := generateAPIKey()
	require.NoError(t, err)
	assert.Regexp(t, apiKeyRe, key)
}

func TestGenerateAPIKeyIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := generateAPIKey()
		require.NoError(t, err)
		require.False(t, seen[key], "duplicate key generated")
		seen[key] = true
	}
}
