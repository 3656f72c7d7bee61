package guardrails

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/store"
)

const (
	// RefusalMessage replaces a completion blocked at the response stage.
	RefusalMessage = "This response was withheld by the gateway content policy."

	eventActionWebhookError = "guardrail_webhook_error"
)

// Service resolves guardrail policies and records guardrail events.
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

// Resolve returns the effective policy for a request: a non-empty key-level
// policy replaces the tenant policy outright, and an empty one inherits it.
func (s *Service) Resolve(ctx context.Context, tenantID, apiKeyID uuid.UUID) (Config, error) {
	if s == nil || s.queries == nil {
		return Config{}, nil
	}
	if apiKeyID != uuid.Nil {
		policy, err := s.queries.GetAPIKeyGuardrailPolicy(ctx, apiKeyID)
		if err == nil && !IsEmpty(policy.Config) {
			return ParseConfig(policy.Config), nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Config{}, err
		}
	}
	policy, err := s.queries.GetTenantGuardrailPolicy(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return ParseConfig(policy.Config), nil
}

// ScreenInput identifies the request being screened for event records.
type ScreenInput struct {
	TenantID  uuid.UUID
	APIKeyID  uuid.UUID
	RequestID string
	Stage     string
	Content   string
}

// Screen runs the keyword rules and then webhook moderation for one stage.
// A webhook failure is recorded and treated as allow.
func (s *Service) Screen(ctx context.Context, cfg Config, in ScreenInput) Result {
	if !cfg.Enabled {
		return Result{Action: ActionAllow}
	}

	result := NewEvaluator(cfg).Check(in.Stage, in.Content)
	if result.Action == ActionBlock {
		s.recordDecision(ctx, in, result)
		return result
	}

	moderator := NewWebhookModerator(cfg.Moderation)
	if moderator == nil {
		return result
	}
	webhookResult, err := moderator.Evaluate(ctx, in.Stage, in.Content)
	if err != nil {
		s.logger.Warn("guardrail webhook failed",
			slog.String("stage", in.Stage),
			slog.String("error", err.Error()))
		s.record(ctx, in, eventActionWebhookError, "", err.Error())
		return Result{Action: ActionAllow}
	}
	if webhookResult.Action != ActionAllow {
		s.recordDecision(ctx, in, webhookResult)
	}
	return webhookResult
}

// RecordTruncation marks a stream that was cut off by a mid-stream response
// block.
func (s *Service) RecordTruncation(ctx context.Context, in ScreenInput, result Result) {
	s.record(ctx, in, "guardrail_truncated", result.Category, strings.Join(result.Violations, ", "))
}

func (s *Service) recordDecision(ctx context.Context, in ScreenInput, result Result) {
	s.record(ctx, in, string(result.Action), result.Category, strings.Join(result.Violations, ", "))
}

func (s *Service) record(ctx context.Context, in ScreenInput, action, rule, detail string) {
	if s == nil || s.queries == nil {
		return
	}
	err := s.queries.InsertGuardrailEvent(ctx, store.InsertGuardrailEventParams{
		TenantID:  in.TenantID,
		APIKeyID:  in.APIKeyID,
		RequestID: in.RequestID,
		Stage:     in.Stage,
		Action:    action,
		Rule:      rule,
		Detail:    detail,
	})
	if err != nil {
		s.logger.Warn("record guardrail event failed", slog.String("error", err.Error()))
	}
}

// ListEvents returns recent guardrail events for a tenant.
func (s *Service) ListEvents(ctx context.Context, tenantID uuid.UUID, limit int32) ([]store.GuardrailEvent, error) {
	return s.queries.ListGuardrailEvents(ctx, tenantID, limit)
}
