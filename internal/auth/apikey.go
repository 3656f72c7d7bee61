package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	apiKeyPrefixLength = 10
	apiKeySecretLength = 48
	apiKeyFamily       = "mr"
	// No underscores: the wire token is prefix + "_" + secret and the first
	// underscore is the separator.
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateAPIKey returns the prefix, secret, and wire token for a new key.
// Only the prefix and an argon2id hash of the secret are persisted; the full
// token is shown to the caller exactly once.
func GenerateAPIKey() (prefix, secret, token string, err error) {
	random, err := randomString(apiKeyPrefixLength)
	if err != nil {
		return "", "", "", err
	}
	prefix = apiKeyFamily + random
	secret, err = randomString(apiKeySecretLength)
	if err != nil {
		return "", "", "", err
	}
	return prefix, secret, prefix + "_" + secret, nil
}

// SplitToken separates a wire token into prefix and secret at the first
// underscore. ok is false when either half is empty.
func SplitToken(token string) (prefix, secret string, ok bool) {
	prefix, secret, found := strings.Cut(token, "_")
	if !found || prefix == "" || secret == "" {
		return "", "", false
	}
	return prefix, secret, true
}

func randomString(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
