package timeutil

import (
	"errors"
	"testing"
	"time"
)

func TestNewWindowDays(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now := time.Date(2024, time.November, 7, 12, 0, 0, 0, time.UTC)
	win, err := NewWindow("7d", now, loc)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	if got := win.Period(); got != "7d" {
		t.Fatalf("unexpected period %s", got)
	}
	end := win.End()
	if !end.Equal(now.In(loc)) {
		t.Fatalf("unexpected end %v", end)
	}
	expectedStart := end.Add(-7 * 24 * time.Hour)
	if !win.Start().Equal(expectedStart) {
		t.Fatalf("unexpected start %v", win.Start())
	}
	if win.Timezone() != loc.String() {
		t.Fatalf("unexpected timezone %s", win.Timezone())
	}
}

func TestNewWindowHours(t *testing.T) {
	now := time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC)
	win, err := NewWindow("24h", now, time.UTC)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	if win.Duration() != 24*time.Hour {
		t.Fatalf("unexpected duration %v", win.Duration())
	}
	if !win.Contains(now.Add(-12 * time.Hour)) {
		t.Fatalf("expected timestamp within window")
	}
	if win.Contains(now.Add(-25 * time.Hour)) {
		t.Fatalf("timestamp should be outside window")
	}
}

func TestNewWindowInvalid(t *testing.T) {
	if _, err := NewWindow("bad", time.Now(), time.UTC); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod")
	}
}

func TestMinuteBucket(t *testing.T) {
	a := time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)
	b := a.Add(59 * time.Second)
	c := a.Add(60 * time.Second)
	if MinuteBucket(a) != MinuteBucket(b) {
		t.Fatalf("timestamps in same minute should share a bucket")
	}
	if MinuteBucket(a) == MinuteBucket(c) {
		t.Fatalf("next minute should roll the bucket")
	}
}

func TestSecondsToMinuteEnd(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 5, 45, 0, time.UTC)
	if got := SecondsToMinuteEnd(at); got != 15 {
		t.Fatalf("expected 15 seconds, got %d", got)
	}
	exact := time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)
	if got := SecondsToMinuteEnd(exact); got != 60 {
		t.Fatalf("expected 60 seconds at minute start, got %d", got)
	}
}

func TestBudgetWindowCalendarMonth(t *testing.T) {
	now := time.Date(2025, 2, 14, 9, 0, 0, 0, time.UTC)
	start, end := BudgetWindow(ScheduleCalendarMonth, now, time.UTC)
	if !start.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", start)
	}
	if !end.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %v", end)
	}
}

func TestBudgetWindowWeeklyStartsMonday(t *testing.T) {
	// 2025-02-16 is a Sunday; the ISO week began Monday 2025-02-10.
	now := time.Date(2025, 2, 16, 23, 0, 0, 0, time.UTC)
	start, end := BudgetWindow(ScheduleWeekly, now, time.UTC)
	if start.Weekday() != time.Monday {
		t.Fatalf("weekly window should start Monday, got %v", start.Weekday())
	}
	if !start.Equal(time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", start)
	}
	if end.Sub(start) != 7*24*time.Hour {
		t.Fatalf("unexpected width %v", end.Sub(start))
	}
}

func TestBudgetWindowRolling(t *testing.T) {
	now := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	start, end := BudgetWindow(ScheduleRolling7d, now, time.UTC)
	if !end.Equal(now) || !start.Equal(now.AddDate(0, 0, -7)) {
		t.Fatalf("unexpected rolling bounds %v %v", start, end)
	}
	if !IsRollingSchedule(ScheduleRolling30d) || IsRollingSchedule(ScheduleWeekly) {
		t.Fatalf("rolling schedule classification wrong")
	}
}
