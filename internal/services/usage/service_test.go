package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPersistWithoutPoolFails(t *testing.T) {
	svc := NewService(nil, nil, time.UTC)
	_, err := svc.Persist(context.Background(), Record{TenantID: uuid.New()}, time.Now())
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}

func TestDailyRejectsInvalidPeriod(t *testing.T) {
	svc := NewService(nil, nil, time.UTC)
	if _, _, err := svc.Daily(context.Background(), uuid.New(), "yesterday", time.Now()); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
	if _, _, err := svc.Totals(context.Background(), uuid.New(), "-3d", time.Now()); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}
