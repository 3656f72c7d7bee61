package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/budget"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/requestctx"
	"github.com/modelrelay/modelrelay/internal/store"
)

const defaultQueueDepth = 64

type alertStore interface {
	InsertBudgetAlertEvent(ctx context.Context, arg store.InsertBudgetAlertEventParams) error
	SetBudgetAlertState(ctx context.Context, tenantID uuid.UUID, level string, sentAt time.Time) error
}

type snapshot struct {
	Level Level
	Sent  time.Time
}

// Dispatcher gates budget alerts behind cooldown and severity escalation,
// then hands accepted notifications to a background worker that fans them out
// across the configured sinks.
type Dispatcher struct {
	queries alertStore
	sinks   []Sink
	logger  *slog.Logger

	cfgMu sync.RWMutex
	cfg   config.BudgetAlertConfig

	stateMu sync.Mutex
	state   map[uuid.UUID]snapshot
	closed  bool

	queue chan Notification
	wg    sync.WaitGroup
}

func NewDispatcher(cfg config.BudgetAlertConfig, queries alertStore, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	filtered := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	if len(filtered) == 0 {
		filtered = append(filtered, NewLogSink(logger))
	}
	return &Dispatcher{
		queries: queries,
		sinks:   filtered,
		logger:  logger,
		cfg:     cfg,
		state:   make(map[uuid.UUID]snapshot),
		queue:   make(chan Notification, defaultQueueDepth),
	}
}

func (d *Dispatcher) Config() config.BudgetAlertConfig {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

func (d *Dispatcher) SetConfig(cfg config.BudgetAlertConfig) {
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()
}

// Start launches the delivery worker. Dispatch only enqueues; deliveries and
// their retries run here so the request path never waits on SMTP or HTTP.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for n := range d.queue {
			d.deliver(ctx, n)
		}
	}()
}

// Close drains the queue and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	d.stateMu.Lock()
	if d.closed {
		d.stateMu.Unlock()
		return
	}
	d.closed = true
	d.stateMu.Unlock()
	close(d.queue)
	d.wg.Wait()
}

// Dispatch inspects the post-debit budget position and enqueues an alert when
// the tenant crossed a threshold. Within the cooldown window a repeat alert
// goes out only when severity rises.
func (d *Dispatcher) Dispatch(ctx context.Context, rc *requestctx.Context, status budget.Status, ts time.Time) error {
	if rc == nil {
		return nil
	}
	cfg := d.Config()
	if !cfg.Enabled && !rc.AlertsEnabled {
		return d.updateState(ctx, rc, LevelNone, time.Time{})
	}

	level := LevelNone
	switch {
	case status.Exceeded:
		level = LevelExceeded
	case status.Warning:
		level = LevelWarning
	default:
		return d.updateState(ctx, rc, LevelNone, time.Time{})
	}

	state := d.loadState(rc.TenantID, rc.AlertLastLevel, rc.AlertLastSent)
	cooldown := rc.AlertCooldown
	if cooldown <= 0 {
		cooldown = cfg.Cooldown
	}
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	if !state.Sent.IsZero() {
		if ts.Sub(state.Sent) < cooldown && severity(level) <= severity(state.Level) {
			return nil
		}
	}

	emails := rc.AlertEmails
	if len(emails) == 0 {
		emails = cfg.Emails
	}
	webhooks := rc.AlertWebhooks
	if len(webhooks) == 0 {
		webhooks = cfg.Webhooks
	}

	n := Notification{
		TenantID:     rc.TenantID,
		Level:        level,
		Ratio:        status.Ratio,
		UsedUSD:      status.UsedUSD,
		LimitUSD:     status.LimitUSD,
		WindowEnd:    status.WindowEnd,
		Emails:       emails,
		Webhooks:     webhooks,
		APIKeyPrefix: rc.APIKeyPrefix,
		Timestamp:    ts,
	}

	if err := d.updateState(ctx, rc, level, ts); err != nil {
		return err
	}
	d.enqueue(n)
	return nil
}

func (d *Dispatcher) enqueue(n Notification) {
	d.stateMu.Lock()
	closed := d.closed
	d.stateMu.Unlock()
	if closed {
		return
	}
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("alert queue full, dropping notification",
			slog.String("tenant_id", n.TenantID.String()),
			slog.String("level", string(n.Level)))
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	for _, sink := range d.sinks {
		err := notifyWithRetry(ctx, sink, n)
		d.recordEvent(ctx, sink.Name(), n, err)
		if err != nil {
			d.logger.Warn("alert delivery failed",
				slog.String("channel", sink.Name()),
				slog.String("tenant_id", n.TenantID.String()),
				slog.String("level", string(n.Level)),
				slog.Bool("permanent", isPermanent(err)),
				slog.String("error", err.Error()))
		}
	}
}

func (d *Dispatcher) recordEvent(ctx context.Context, channel string, n Notification, notifyErr error) {
	if d.queries == nil {
		return
	}
	detail := ""
	if notifyErr != nil {
		detail = notifyErr.Error()
	}
	err := d.queries.InsertBudgetAlertEvent(ctx, store.InsertBudgetAlertEventParams{
		TenantID: n.TenantID,
		Level:    string(n.Level),
		Ratio:    n.Ratio,
		UsedUSD:  n.UsedUSD,
		LimitUSD: n.LimitUSD,
		Channel:  channel,
		OK:       notifyErr == nil,
		Detail:   detail,
	})
	if err != nil {
		d.logger.Warn("record alert event failed", slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) loadState(tenantID uuid.UUID, fallbackLevel string, fallbackSent time.Time) snapshot {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if state, ok := d.state[tenantID]; ok {
		return state
	}
	return snapshot{Level: ParseLevel(fallbackLevel), Sent: fallbackSent}
}

// updateState caches the cooldown position in memory and persists it on the
// override row when the tenant has one. Tenants on instance defaults keep
// alert state in memory only.
func (d *Dispatcher) updateState(ctx context.Context, rc *requestctx.Context, level Level, ts time.Time) error {
	d.stateMu.Lock()
	if level == LevelNone || ts.IsZero() {
		delete(d.state, rc.TenantID)
	} else {
		d.state[rc.TenantID] = snapshot{Level: level, Sent: ts}
	}
	d.stateMu.Unlock()

	if !rc.HasBudgetOverride || d.queries == nil {
		return nil
	}
	persisted := ""
	if level != LevelNone {
		persisted = string(level)
	}
	return d.queries.SetBudgetAlertState(ctx, rc.TenantID, persisted, ts)
}

// BuildSinks assembles the delivery chain from instance configuration. The
// log sink is always present.
func BuildSinks(cfg config.BudgetAlertConfig, logger *slog.Logger) []Sink {
	sinks := []Sink{NewLogSink(logger)}
	if smtp := NewSMTPSink(cfg.SMTP); smtp != nil {
		sinks = append(sinks, smtp)
	}
	sinks = append(sinks, NewWebhookSink(cfg.Webhook))
	return sinks
}
