package alerts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Level string

const (
	LevelNone     Level = "none"
	LevelWarning  Level = "warning"
	LevelExceeded Level = "exceeded"
)

func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(LevelExceeded):
		return LevelExceeded
	case string(LevelWarning):
		return LevelWarning
	default:
		return LevelNone
	}
}

func severity(level Level) int {
	switch level {
	case LevelExceeded:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}

// Notification is one queued budget alert with its resolved channels.
type Notification struct {
	TenantID     uuid.UUID
	Level        Level
	Ratio        float64
	UsedUSD      decimal.Decimal
	LimitUSD     decimal.Decimal
	WindowEnd    time.Time
	Emails       []string
	Webhooks     []string
	APIKeyPrefix string
	ModelAlias   string
	Timestamp    time.Time
}

// Sink delivers a notification over one channel. Notify returns a Permanent
// error when a retry cannot help.
type Sink interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// LogSink writes alerts to the structured log. It always succeeds and backs
// every deployment regardless of SMTP or webhook configuration.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(ctx context.Context, n Notification) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger.WarnContext(ctx, "budget alert",
		slog.String("tenant_id", n.TenantID.String()),
		slog.String("level", string(n.Level)),
		slog.Float64("ratio", n.Ratio),
		slog.String("used_usd", n.UsedUSD.StringFixed(4)),
		slog.String("limit_usd", n.LimitUSD.StringFixed(2)),
		slog.String("api_key_prefix", n.APIKeyPrefix),
		slog.String("model_alias", n.ModelAlias),
		slog.Time("window_end", n.WindowEnd.UTC()),
		slog.Time("timestamp", n.Timestamp.UTC()),
	)
	return nil
}
