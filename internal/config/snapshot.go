package config

import (
	"sync/atomic"
	"time"
)

// Snapshot is the immutable view of the runtime-mutable settings. Admin
// mutations never edit a published snapshot; they build a new one and swap
// the pointer, so in-flight requests keep a consistent view.
type Snapshot struct {
	Version    uint64
	RateLimits RateLimitConfig
	Budgets    BudgetConfig
	Files      FilesSettings
	Batches    BatchSettings
	Audio      AudioConfig
}

// FilesSettings is the mutable subset of FilesConfig.
type FilesSettings struct {
	MaxSizeMB  int
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

// BatchSettings is the mutable subset of BatchesConfig.
type BatchSettings struct {
	MaxRequests      int
	MaxConcurrency   int
	DefaultTTL       time.Duration
	MaxTTL           time.Duration
	AllowedEndpoints []string
}

// SnapshotStore publishes settings snapshots to the request path.
type SnapshotStore struct {
	current atomic.Pointer[Snapshot]
}

// NewSnapshotStore seeds the store from the boot configuration.
func NewSnapshotStore(cfg *Config) *SnapshotStore {
	s := &SnapshotStore{}
	s.current.Store(snapshotFromConfig(cfg, 1))
	return s
}

// Current returns the live snapshot. Callers must not mutate it.
func (s *SnapshotStore) Current() *Snapshot {
	return s.current.Load()
}

// Replace publishes next with a bumped version and returns it.
func (s *SnapshotStore) Replace(mutate func(next *Snapshot)) *Snapshot {
	for {
		cur := s.current.Load()
		next := *cur
		next.Version = cur.Version + 1
		next.Batches.AllowedEndpoints = append([]string(nil), cur.Batches.AllowedEndpoints...)
		next.Budgets.Alert.Emails = append([]string(nil), cur.Budgets.Alert.Emails...)
		next.Budgets.Alert.Webhooks = append([]string(nil), cur.Budgets.Alert.Webhooks...)
		mutate(&next)
		if s.current.CompareAndSwap(cur, &next) {
			return &next
		}
	}
}

func snapshotFromConfig(cfg *Config, version uint64) *Snapshot {
	return &Snapshot{
		Version:    version,
		RateLimits: cfg.RateLimits,
		Budgets:    cfg.Budgets,
		Files: FilesSettings{
			MaxSizeMB:  cfg.Files.MaxSizeMB,
			DefaultTTL: cfg.Files.DefaultTTL,
			MaxTTL:     cfg.Files.MaxTTL,
		},
		Batches: BatchSettings{
			MaxRequests:      cfg.Batches.MaxRequests,
			MaxConcurrency:   cfg.Batches.MaxConcurrency,
			DefaultTTL:       cfg.Batches.DefaultTTL,
			MaxTTL:           cfg.Batches.MaxTTL,
			AllowedEndpoints: append([]string(nil), cfg.Batches.AllowedEndpoints...),
		},
		Audio: cfg.Audio,
	}
}
