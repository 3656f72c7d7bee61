package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelrelay/modelrelay/internal/store"
)

var (
	ErrServiceUnavailable = errors.New("default model service not initialised")
	ErrAliasRequired      = errors.New("alias is required")
	ErrAliasUnknown       = errors.New("model alias not found")
)

// DefaultModelService manages the global default model entitlements granted
// to every tenant.
type DefaultModelService struct {
	queries *store.Store
}

func NewDefaultModelService(queries *store.Store) *DefaultModelService {
	return &DefaultModelService{queries: queries}
}

// List returns the sorted list of default model aliases.
func (s *DefaultModelService) List(ctx context.Context) ([]string, error) {
	if s == nil || s.queries == nil {
		return nil, ErrServiceUnavailable
	}
	return s.queries.ListDefaultModels(ctx)
}

// Add validates the alias exists in the catalog before inserting.
func (s *DefaultModelService) Add(ctx context.Context, alias string) error {
	if s == nil || s.queries == nil {
		return ErrServiceUnavailable
	}
	norm := normalizeAlias(alias)
	if norm == "" {
		return ErrAliasRequired
	}
	entries, err := s.queries.ListCatalogByAlias(ctx, norm)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: %s", ErrAliasUnknown, norm)
	}
	return s.queries.AddDefaultModel(ctx, norm)
}

// Remove deletes the alias from the defaults list.
func (s *DefaultModelService) Remove(ctx context.Context, alias string) error {
	if s == nil || s.queries == nil {
		return ErrServiceUnavailable
	}
	norm := normalizeAlias(alias)
	if norm == "" {
		return ErrAliasRequired
	}
	return s.queries.RemoveDefaultModel(ctx, norm)
}

func normalizeAlias(alias string) string {
	return strings.TrimSpace(strings.ToLower(alias))
}
