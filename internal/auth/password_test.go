package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifySecret(t *testing.T) {
	encoded, err := HashSecret("correct horse battery staple")
	require.NoError(t, err)
	assert.Contains(t, encoded, "argon2id$")

	ok, err := VerifySecret("correct horse battery staple", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifySecret("wrong password", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashSecretSaltsDiffer(t *testing.T) {
	a, err := HashSecret("same input")
	require.NoError(t, err)
	b, err := HashSecret("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifySecretRejectsMalformed(t *testing.T) {
	for _, encoded := range []string{"", "not-a-hash", "argon2id$v=19$m=65536,t=3,p=2$salt"} {
		_, err := VerifySecret("secret", encoded)
		assert.Error(t, err, "encoded %q", encoded)
	}
}
