package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	prefix, secret, token, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(prefix, "mr"))
	assert.Len(t, prefix, len("mr")+apiKeyPrefixLength)
	assert.Len(t, secret, apiKeySecretLength)
	assert.Equal(t, prefix+"_"+secret, token)
	assert.NotContains(t, prefix, "_")
	assert.NotContains(t, secret, "_")
}

func TestSplitToken(t *testing.T) {
	_, _, token, err := GenerateAPIKey()
	require.NoError(t, err)

	prefix, secret, ok := SplitToken(token)
	require.True(t, ok)
	assert.Equal(t, token, prefix+"_"+secret)

	for _, bad := range []string{"", "noseparator", "_secretonly", "prefixonly_"} {
		_, _, ok := SplitToken(bad)
		assert.False(t, ok, "token %q should be rejected", bad)
	}
}

func TestGenerateAPIKeyUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		prefix, _, _, err := GenerateAPIKey()
		require.NoError(t, err)
		_, dup := seen[prefix]
		require.False(t, dup)
		seen[prefix] = struct{}{}
	}
}
