package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/store"
)

const (
	ProviderLocal = "local"
	ProviderOIDC  = "oidc"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrOIDCDisabled       = errors.New("oidc authentication disabled")
	ErrLocalDisabled      = errors.New("local authentication disabled")
)

type sessionQueries interface {
	GetUser(ctx context.Context, id uuid.UUID) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, arg store.CreateUserParams) (store.User, error)
	SetUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateUser(ctx context.Context, arg store.UpdateUserParams) (store.User, error)
}

// SessionService authenticates admin/user plane sessions via local passwords
// or an OIDC code flow and issues JWT pairs.
type SessionService struct {
	cfg          config.AdminConfig
	queries      sessionQueries
	tokenManager *TokenManager
	oidc         *OIDCProvider
}

func NewSessionService(ctx context.Context, cfg config.AdminConfig, queries sessionQueries) (*SessionService, error) {
	tokenManager, err := NewTokenManager(cfg.Session.JWTSecret, cfg.Session.AccessTokenTTL, cfg.Session.RefreshTokenTTL, "modelrelay")
	if err != nil {
		return nil, err
	}

	var oidcProvider *OIDCProvider
	if cfg.OIDC.Enabled {
		oidcProvider, err = NewOIDCProvider(ctx, cfg.OIDC)
		if err != nil {
			return nil, err
		}
	}

	return &SessionService{
		cfg:          cfg,
		queries:      queries,
		tokenManager: tokenManager,
		oidc:         oidcProvider,
	}, nil
}

// AuthenticateLocal verifies an email/password pair. Unknown users and bad
// passwords produce the same error.
func (s *SessionService) AuthenticateLocal(ctx context.Context, email, password string) (*TokenPair, store.User, error) {
	if !s.cfg.Local.Enabled {
		return nil, store.User{}, ErrLocalDisabled
	}

	user, err := s.queries.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.User{}, ErrInvalidCredentials
		}
		return nil, store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.Disabled || user.PasswordHash == "" {
		return nil, store.User{}, ErrInvalidCredentials
	}

	match, err := VerifySecret(password, user.PasswordHash)
	if err != nil {
		return nil, store.User{}, err
	}
	if !match {
		return nil, store.User{}, ErrInvalidCredentials
	}

	pair, err := s.tokenManager.Generate(user.ID, user.Email)
	if err != nil {
		return nil, store.User{}, err
	}
	return pair, user, nil
}

// SetLocalPassword hashes and stores a new password for the user.
func (s *SessionService) SetLocalPassword(ctx context.Context, userID uuid.UUID, password string) error {
	if !s.cfg.Local.Enabled {
		return ErrLocalDisabled
	}
	hash, err := HashSecret(password)
	if err != nil {
		return err
	}
	return s.queries.SetUserPassword(ctx, userID, hash)
}

func (s *SessionService) StartOIDCAuth(state, nonce string) (string, error) {
	if s.oidc == nil {
		return "", ErrOIDCDisabled
	}
	return s.oidc.AuthCodeURL(state, nonce), nil
}

// CompleteOIDCAuth redeems the code, provisioning the user on first sign-in
// and syncing the super-admin flag from mapped roles.
func (s *SessionService) CompleteOIDCAuth(ctx context.Context, code, expectedNonce string) (*TokenPair, store.User, error) {
	if s.oidc == nil {
		return nil, store.User{}, ErrOIDCDisabled
	}

	identity, err := s.oidc.Exchange(ctx, code, expectedNonce)
	if err != nil {
		return nil, store.User{}, err
	}
	if identity.Email == "" {
		return nil, store.User{}, errors.New("oidc identity missing email")
	}

	user, err := s.queries.GetUserByEmail(ctx, identity.Email)
	if errors.Is(err, store.ErrNotFound) {
		name := identity.Name
		if name == "" {
			name = identity.Email
		}
		user, err = s.queries.CreateUser(ctx, store.CreateUserParams{
			Email:      identity.Email,
			Name:       name,
			SuperAdmin: identity.IsAdmin,
		})
	}
	if err != nil {
		return nil, store.User{}, fmt.Errorf("resolve user: %w", err)
	}
	if user.Disabled {
		return nil, store.User{}, ErrInvalidCredentials
	}

	if len(s.cfg.OIDC.AdminRoles) > 0 && user.SuperAdmin != identity.IsAdmin {
		isAdmin := identity.IsAdmin
		user, err = s.queries.UpdateUser(ctx, store.UpdateUserParams{ID: user.ID, SuperAdmin: &isAdmin})
		if err != nil {
			return nil, store.User{}, fmt.Errorf("sync admin flag: %w", err)
		}
	}

	pair, err := s.tokenManager.Generate(user.ID, user.Email)
	if err != nil {
		return nil, store.User{}, err
	}
	return pair, user, nil
}

func (s *SessionService) AllowedAuthMethods() []string {
	methods := []string{}
	if s.cfg.Local.Enabled {
		methods = append(methods, ProviderLocal)
	}
	if s.oidc != nil {
		methods = append(methods, ProviderOIDC)
	}
	return methods
}

func (s *SessionService) IssueTokenPair(user store.User) (*TokenPair, error) {
	return s.tokenManager.Generate(user.ID, user.Email)
}

// ValidateRefreshToken returns the subject of a valid refresh token.
func (s *SessionService) ValidateRefreshToken(token string) (uuid.UUID, error) {
	claims, err := s.tokenManager.Verify(token, "refresh")
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID, nil
}

// AuthorizeAccessToken validates the access token and loads the user.
func (s *SessionService) AuthorizeAccessToken(ctx context.Context, token string) (store.User, error) {
	claims, err := s.tokenManager.Verify(token, "access")
	if err != nil {
		return store.User{}, err
	}
	user, err := s.queries.GetUser(ctx, claims.UserID)
	if err != nil {
		return store.User{}, err
	}
	if user.Disabled {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}
