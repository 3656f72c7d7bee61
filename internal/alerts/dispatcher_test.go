package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/budget"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/requestctx"
	"github.com/modelrelay/modelrelay/internal/store"
)

type stubSink struct {
	mu    sync.Mutex
	errs  []error
	calls []Notification
}

func (s *stubSink) Name() string { return "stub" }

func (s *stubSink) Notify(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, n)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func (s *stubSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeAlertStore struct {
	mu     sync.Mutex
	events []store.InsertBudgetAlertEventParams
	levels map[uuid.UUID]string
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{levels: make(map[uuid.UUID]string)}
}

func (f *fakeAlertStore) InsertBudgetAlertEvent(ctx context.Context, arg store.InsertBudgetAlertEventParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, arg)
	return nil
}

func (f *fakeAlertStore) SetBudgetAlertState(ctx context.Context, tenantID uuid.UUID, level string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[tenantID] = level
	return nil
}

func warningStatus() budget.Status {
	return budget.Status{
		UsedUSD:  decimal.NewFromFloat(85),
		LimitUSD: decimal.NewFromFloat(100),
		Ratio:    0.85,
		Warning:  true,
	}
}

func exceededStatus() budget.Status {
	return budget.Status{
		UsedUSD:  decimal.NewFromFloat(110),
		LimitUSD: decimal.NewFromFloat(100),
		Ratio:    1.1,
		Exceeded: true,
	}
}

func testRequestContext() *requestctx.Context {
	return &requestctx.Context{
		TenantID:          uuid.New(),
		APIKeyPrefix:      "mrtest",
		AlertsEnabled:     true,
		AlertEmails:       []string{"ops@example.com"},
		AlertCooldown:     time.Hour,
		HasBudgetOverride: true,
	}
}

func TestDispatchSendsWarningAlert(t *testing.T) {
	sink := &stubSink{}
	queries := newFakeAlertStore()
	d := NewDispatcher(config.BudgetAlertConfig{}, queries, nil, sink)
	d.Start(context.Background())

	rc := testRequestContext()
	now := time.Now()
	if err := d.Dispatch(context.Background(), rc, warningStatus(), now); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Close()

	if sink.count() != 1 {
		t.Fatalf("expected one delivery, got %d", sink.count())
	}
	if got := sink.calls[0]; got.Level != LevelWarning || got.TenantID != rc.TenantID {
		t.Fatalf("unexpected notification: %+v", got)
	}
	if len(queries.events) != 1 || !queries.events[0].OK || queries.events[0].Channel != "stub" {
		t.Fatalf("unexpected events: %+v", queries.events)
	}
	if queries.levels[rc.TenantID] != string(LevelWarning) {
		t.Fatalf("expected persisted warning state, got %q", queries.levels[rc.TenantID])
	}
}

func TestDispatchCooldownSuppressesRepeat(t *testing.T) {
	sink := &stubSink{}
	d := NewDispatcher(config.BudgetAlertConfig{}, newFakeAlertStore(), nil, sink)
	d.Start(context.Background())

	rc := testRequestContext()
	now := time.Now()
	if err := d.Dispatch(context.Background(), rc, warningStatus(), now); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := d.Dispatch(context.Background(), rc, warningStatus(), now.Add(time.Minute)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Close()

	if sink.count() != 1 {
		t.Fatalf("expected cooldown to suppress repeat, got %d deliveries", sink.count())
	}
}

func TestDispatchEscalationBypassesCooldown(t *testing.T) {
	sink := &stubSink{}
	d := NewDispatcher(config.BudgetAlertConfig{}, newFakeAlertStore(), nil, sink)
	d.Start(context.Background())

	rc := testRequestContext()
	now := time.Now()
	if err := d.Dispatch(context.Background(), rc, warningStatus(), now); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := d.Dispatch(context.Background(), rc, exceededStatus(), now.Add(time.Minute)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Close()

	if sink.count() != 2 {
		t.Fatalf("expected escalation to bypass cooldown, got %d deliveries", sink.count())
	}
	if sink.calls[1].Level != LevelExceeded {
		t.Fatalf("expected exceeded level, got %s", sink.calls[1].Level)
	}
}

func TestDispatchReAlertsAfterCooldown(t *testing.T) {
	sink := &stubSink{}
	d := NewDispatcher(config.BudgetAlertConfig{}, newFakeAlertStore(), nil, sink)
	d.Start(context.Background())

	rc := testRequestContext()
	now := time.Now()
	if err := d.Dispatch(context.Background(), rc, warningStatus(), now); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := d.Dispatch(context.Background(), rc, warningStatus(), now.Add(2*time.Hour)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Close()

	if sink.count() != 2 {
		t.Fatalf("expected re-alert after cooldown, got %d deliveries", sink.count())
	}
}

func TestDispatchClearsStateOnRecovery(t *testing.T) {
	sink := &stubSink{}
	queries := newFakeAlertStore()
	d := NewDispatcher(config.BudgetAlertConfig{}, queries, nil, sink)
	d.Start(context.Background())

	rc := testRequestContext()
	now := time.Now()
	if err := d.Dispatch(context.Background(), rc, warningStatus(), now); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	healthy := budget.Status{
		UsedUSD:  decimal.NewFromFloat(10),
		LimitUSD: decimal.NewFromFloat(100),
		Ratio:    0.1,
	}
	if err := d.Dispatch(context.Background(), rc, healthy, now.Add(time.Minute)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Close()

	if sink.count() != 1 {
		t.Fatalf("expected no alert on recovery, got %d deliveries", sink.count())
	}
	if queries.levels[rc.TenantID] != "" {
		t.Fatalf("expected cleared alert state, got %q", queries.levels[rc.TenantID])
	}
}

func TestDispatchRecordsFailedDelivery(t *testing.T) {
	sink := &stubSink{errs: []error{Permanent(errors.New("mailbox unavailable"))}}
	queries := newFakeAlertStore()
	d := NewDispatcher(config.BudgetAlertConfig{}, queries, nil, sink)
	d.Start(context.Background())

	if err := d.Dispatch(context.Background(), testRequestContext(), exceededStatus(), time.Now()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Close()

	if len(queries.events) != 1 {
		t.Fatalf("expected one event, got %d", len(queries.events))
	}
	if queries.events[0].OK || queries.events[0].Detail == "" {
		t.Fatalf("expected failed event with detail, got %+v", queries.events[0])
	}
}

func TestNotifyWithRetryRecoversFromTransientError(t *testing.T) {
	sink := &stubSink{errs: []error{errors.New("connection reset")}}
	n := Notification{TenantID: uuid.New(), Level: LevelWarning}
	if err := notifyWithRetry(context.Background(), sink, n); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if sink.count() != 2 {
		t.Fatalf("expected two attempts, got %d", sink.count())
	}
}

func TestNotifyWithRetryStopsOnPermanent(t *testing.T) {
	sink := &stubSink{errs: []error{Permanent(errors.New("bad request"))}}
	n := Notification{TenantID: uuid.New(), Level: LevelWarning}
	err := notifyWithRetry(context.Background(), sink, n)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !isPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("expected single attempt, got %d", sink.count())
	}
}

func TestNotifyWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("timeout")
	sink := &stubSink{errs: []error{boom, boom, boom}}
	n := Notification{TenantID: uuid.New(), Level: LevelExceeded}
	if err := notifyWithRetry(context.Background(), sink, n); err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if sink.count() != maxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxAttempts, sink.count())
	}
}
