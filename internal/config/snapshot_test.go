package config

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		RateLimits: RateLimitConfig{
			DefaultTokensPerMinute:        1_000_000,
			DefaultRequestsPerMinute:      1_000,
			DefaultParallelRequestsKey:    10,
			DefaultParallelRequestsTenant: 100,
		},
		Budgets: BudgetConfig{DefaultUSD: 100, WarningThresholdPerc: 0.8, RefreshSchedule: "calendar_month"},
		Files:   FilesConfig{MaxSizeMB: 200, DefaultTTL: 168 * time.Hour, MaxTTL: 720 * time.Hour},
		Batches: BatchesConfig{MaxRequests: 5000, MaxConcurrency: 50, DefaultTTL: 168 * time.Hour, MaxTTL: 720 * time.Hour, AllowedEndpoints: []string{"/v1/chat/completions"}},
	}
}

func TestSnapshotReplacePublishesNewVersion(t *testing.T) {
	store := NewSnapshotStore(testConfig())
	first := store.Current()
	require.EqualValues(t, 1, first.Version)

	next := store.Replace(func(s *Snapshot) {
		s.Budgets.DefaultUSD = 250
	})
	require.EqualValues(t, 2, next.Version)
	require.Equal(t, 250.0, store.Current().Budgets.DefaultUSD)

	// The previously published snapshot stays untouched.
	require.Equal(t, 100.0, first.Budgets.DefaultUSD)
}

func TestSnapshotReplaceCopiesSlices(t *testing.T) {
	store := NewSnapshotStore(testConfig())
	before := store.Current().Batches.AllowedEndpoints

	store.Replace(func(s *Snapshot) {
		s.Batches.AllowedEndpoints = append(s.Batches.AllowedEndpoints, "/v1/embeddings")
	})

	require.Len(t, before, 1)
	require.Len(t, store.Current().Batches.AllowedEndpoints, 2)
}

func TestSnapshotReplaceConcurrent(t *testing.T) {
	store := NewSnapshotStore(testConfig())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Replace(func(s *Snapshot) {
				s.Budgets.DefaultUSD++
			})
		}()
	}
	wg.Wait()
	require.EqualValues(t, 21, store.Current().Version)
	require.Equal(t, 120.0, store.Current().Budgets.DefaultUSD)
}

func TestNormalizeBudgetRefreshSchedule(t *testing.T) {
	require.Equal(t, "calendar_month", NormalizeBudgetRefreshSchedule(""))
	require.Equal(t, "weekly", NormalizeBudgetRefreshSchedule(" Weekly "))
	require.Equal(t, "rolling_7d", NormalizeBudgetRefreshSchedule("rolling_7d"))
	require.Equal(t, "rolling_30d", NormalizeBudgetRefreshSchedule("rolling_"))
	require.Equal(t, "calendar_month", NormalizeBudgetRefreshSchedule("quarterly"))
}
