package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenManager(t *testing.T) *TokenManager {
	t.Helper()
	tm, err := NewTokenManager("test-secret", time.Minute, time.Hour, "modelrelay")
	require.NoError(t, err)
	return tm
}

func TestTokenRoundTrip(t *testing.T) {
	tm := newTestTokenManager(t)
	userID := uuid.New()

	pair, err := tm.Generate(userID, "admin@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshTokenID)

	claims, err := tm.Verify(pair.AccessToken, "access")
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "admin@example.com", claims.Email)

	refresh, err := tm.Verify(pair.RefreshToken, "refresh")
	require.NoError(t, err)
	assert.Equal(t, userID, refresh.UserID)
	assert.Equal(t, pair.RefreshTokenID, refresh.JTI)
}

func TestTokenTypeMismatch(t *testing.T) {
	tm := newTestTokenManager(t)

	pair, err := tm.Generate(uuid.New(), "admin@example.com")
	require.NoError(t, err)

	_, err = tm.Verify(pair.AccessToken, "refresh")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = tm.Verify(pair.RefreshToken, "access")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenWrongSecret(t *testing.T) {
	tm := newTestTokenManager(t)
	other, err := NewTokenManager("different-secret", time.Minute, time.Hour, "modelrelay")
	require.NoError(t, err)

	pair, err := tm.Generate(uuid.New(), "admin@example.com")
	require.NoError(t, err)

	_, err = other.Verify(pair.AccessToken, "access")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpired(t *testing.T) {
	tm, err := NewTokenManager("test-secret", time.Nanosecond, time.Hour, "modelrelay")
	require.NoError(t, err)

	pair, err := tm.Generate(uuid.New(), "admin@example.com")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = tm.Verify(pair.AccessToken, "access")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState(32)
	require.NoError(t, err)
	b, err := GenerateState(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
