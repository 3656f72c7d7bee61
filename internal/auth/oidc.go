package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	oidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/modelrelay/modelrelay/internal/config"
)

// OIDCIdentity is the normalized result of a completed code flow.
type OIDCIdentity struct {
	Issuer        string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Roles         []string
	IsAdmin       bool
}

type OIDCProvider struct {
	cfg            config.OIDCConfig
	provider       *oidc.Provider
	oauth2Config   *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	allowedDomains map[string]struct{}
	adminRoles     map[string]struct{}
}

func NewOIDCProvider(ctx context.Context, cfg config.OIDCConfig) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		allowed[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}

	return &OIDCProvider{
		cfg:      cfg,
		provider: provider,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier:       provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		allowedDomains: allowed,
		adminRoles:     roleSet(cfg.AdminRoles),
	}, nil
}

func (p *OIDCProvider) AuthCodeURL(state, nonce string) string {
	opts := []oauth2.AuthCodeOption{}
	if nonce != "" {
		opts = append(opts, oidc.Nonce(nonce))
	}
	return p.oauth2Config.AuthCodeURL(state, opts...)
}

// Exchange redeems the auth code, verifies the ID token, and applies domain
// and role policy.
func (p *OIDCProvider) Exchange(ctx context.Context, code, expectedNonce string) (*OIDCIdentity, error) {
	timeout := p.cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	exchangeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	token, err := p.oauth2Config.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange auth code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("oidc: missing id_token in token response")
	}

	idToken, err := p.verifier.Verify(exchangeCtx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	if expectedNonce != "" && idToken.Nonce != expectedNonce {
		return nil, errors.New("oidc: nonce mismatch")
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse id token claims: %w", err)
	}
	var rawClaims map[string]any
	if err := idToken.Claims(&rawClaims); err != nil {
		return nil, fmt.Errorf("parse raw id token claims: %w", err)
	}

	identity := &OIDCIdentity{
		Issuer:        idToken.Issuer,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Roles:         extractRoles(rawClaims, p.cfg.RolesClaim),
	}

	if identity.Email == "" {
		if err := p.populateFromUserInfo(exchangeCtx, token, identity); err != nil {
			return nil, err
		}
	}

	if len(p.allowedDomains) > 0 {
		domain, err := emailDomain(identity.Email)
		if err != nil {
			return nil, err
		}
		if _, ok := p.allowedDomains[domain]; !ok {
			return nil, fmt.Errorf("email domain %s not permitted", domain)
		}
	}

	if len(p.adminRoles) > 0 {
		for _, role := range identity.Roles {
			if _, ok := p.adminRoles[role]; ok {
				identity.IsAdmin = true
				break
			}
		}
	}
	return identity, nil
}

func (p *OIDCProvider) populateFromUserInfo(ctx context.Context, token *oauth2.Token, identity *OIDCIdentity) error {
	userInfo, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return fmt.Errorf("fetch userinfo: %w", err)
	}
	var claims map[string]any
	if err := userInfo.Claims(&claims); err != nil {
		return fmt.Errorf("parse userinfo claims: %w", err)
	}
	if identity.Email == "" {
		email, _ := claims["email"].(string)
		if email == "" {
			return errors.New("oidc: email not present in claims")
		}
		identity.Email = email
		if verified, ok := claims["email_verified"].(bool); ok {
			identity.EmailVerified = verified
		}
	}
	if identity.Name == "" {
		if name, ok := claims["name"].(string); ok {
			identity.Name = name
		}
	}
	if len(identity.Roles) == 0 {
		identity.Roles = extractRoles(claims, p.cfg.RolesClaim)
	}
	return nil
}

func emailDomain(email string) (string, error) {
	idx := strings.LastIndex(email, "@")
	if idx <= 0 || idx == len(email)-1 {
		return "", fmt.Errorf("invalid email address %q", email)
	}
	return strings.ToLower(strings.TrimSpace(email[idx+1:])), nil
}

func extractRoles(claims map[string]any, field string) []string {
	field = strings.TrimSpace(field)
	if len(claims) == 0 || field == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var roles []string
	add := func(raw string) {
		role := strings.ToLower(strings.TrimSpace(raw))
		if role == "" {
			return
		}
		if _, ok := seen[role]; ok {
			return
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	switch v := claims[field].(type) {
	case string:
		add(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range v {
			add(s)
		}
	}
	return roles
}

func roleSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if role := strings.ToLower(strings.TrimSpace(v)); role != "" {
			set[role] = struct{}{}
		}
	}
	return set
}
