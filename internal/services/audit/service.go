package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/store"
)

var ErrServiceUnavailable = errors.New("audit service not initialized")

// Service records admin-plane mutations and serves the audit log read side.
type Service struct {
	queries *store.Store
	logger  *slog.Logger
}

func NewService(queries *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{queries: queries, logger: logger}
}

// Actor identifies who performed a mutation.
type Actor struct {
	UserID uuid.UUID
	Email  string
}

// Record appends one audit entry. Detail is marshaled to JSON; a marshal or
// insert failure is logged but never fails the mutation it describes.
func (s *Service) Record(ctx context.Context, actor Actor, action, entityType, entityID string, detail any) {
	if s == nil || s.queries == nil {
		return
	}
	var payload []byte
	if detail != nil {
		var err error
		payload, err = json.Marshal(detail)
		if err != nil {
			s.logger.Warn("audit detail marshal failed",
				slog.String("action", action), slog.String("error", err.Error()))
			payload = nil
		}
	}
	err := s.queries.InsertAuditEntry(ctx, store.InsertAuditEntryParams{
		ActorUserID: actor.UserID,
		ActorEmail:  actor.Email,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Detail:      payload,
	})
	if err != nil {
		s.logger.Warn("audit insert failed",
			slog.String("action", action),
			slog.String("entity_type", entityType),
			slog.String("error", err.Error()))
	}
}

// Filter controls audit log listing.
type Filter struct {
	Action     string
	EntityType string
	Limit      int32
	Offset     int32
}

func (s *Service) List(ctx context.Context, filter Filter) ([]store.AuditEntry, error) {
	if s == nil || s.queries == nil {
		return nil, ErrServiceUnavailable
	}
	return s.queries.ListAuditEntries(ctx, store.ListAuditEntriesParams{
		Action:     filter.Action,
		EntityType: filter.EntityType,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}
