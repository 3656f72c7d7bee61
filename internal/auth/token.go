package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenPair carries access and refresh tokens with expiry metadata.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	RefreshTokenID   string
}

// SessionClaims is the verified content of a session token.
type SessionClaims struct {
	UserID uuid.UUID
	Email  string
	Type   string
	JTI    string
}

type TokenManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
}

func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration, issuer string) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("token secret required")
	}
	if accessTTL <= 0 {
		return nil, errors.New("access ttl must be > 0")
	}
	if refreshTTL <= 0 {
		return nil, errors.New("refresh ttl must be > 0")
	}
	return &TokenManager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     issuer,
	}, nil
}

// Generate issues an HS256 access/refresh pair for the user.
func (tm *TokenManager) Generate(userID uuid.UUID, email string) (*TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(tm.accessTTL)
	refreshExp := now.Add(tm.refreshTTL)

	accessToken, err := tm.sign(jwt.MapClaims{
		"sub":   userID.String(),
		"email": email,
		"iat":   now.Unix(),
		"exp":   accessExp.Unix(),
		"iss":   tm.issuer,
		"typ":   "access",
		"jti":   uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	refreshID := uuid.NewString()
	refreshToken, err := tm.sign(jwt.MapClaims{
		"sub": userID.String(),
		"iat": now.Unix(),
		"exp": refreshExp.Unix(),
		"iss": tm.issuer,
		"typ": "refresh",
		"jti": refreshID,
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExp,
		RefreshTokenID:   refreshID,
	}, nil
}

// Verify parses a token and checks signature, expiry, and the typ claim.
func (tm *TokenManager) Verify(token string, wantType string) (SessionClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithIssuer(tm.issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return SessionClaims{}, ErrInvalidToken
	}
	if typ, _ := claims["typ"].(string); typ != wantType {
		return SessionClaims{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return SessionClaims{}, ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	jti, _ := claims["jti"].(string)
	return SessionClaims{UserID: userID, Email: email, Type: wantType, JTI: jti}, nil
}

func (tm *TokenManager) sign(claims jwt.MapClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// GenerateState returns a random URL-safe string for OIDC state/nonce values.
func GenerateState(size int) (string, error) {
	if size <= 0 {
		size = 32
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
