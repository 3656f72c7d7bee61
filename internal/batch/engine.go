// Package batch runs JSONL batch jobs through the data plane with a bounded
// worker pool per batch. Item claims go through the database, so a crashed
// process loses nothing: stale claims are requeued and unfinished batches
// resume on startup.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/executor"
	"github.com/modelrelay/modelrelay/internal/requestctx"
	"github.com/modelrelay/modelrelay/internal/services/files"
	"github.com/modelrelay/modelrelay/internal/store"
)

// Batch states. Transitions are forward-only.
const (
	StatusValidating = "validating"
	StatusInProgress = "in_progress"
	StatusFinalizing = "finalizing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusExpired    = "expired"
)

// Item states.
const (
	ItemPending   = "pending"
	ItemRunning   = "running"
	ItemSucceeded = "succeeded"
	ItemFailed    = "failed"
	ItemCancelled = "cancelled"
)

const (
	claimRequeueAfter = 10 * time.Minute
	sweepInterval     = time.Minute
)

var (
	ErrEndpointNotAllowed = errors.New("endpoint not allowed for batches")
	ErrNotCancellable     = errors.New("batch is not in a cancellable state")
)

// ContextResolver rebuilds the owning API key's request context so batch
// items run under the same limits, budget, and guardrails as live traffic.
type ContextResolver interface {
	ResolveAPIKeyContext(ctx context.Context, apiKeyID uuid.UUID) (*requestctx.Context, error)
}

// batchQueries is the slice of the query surface the engine touches, so
// tests can fake it.
type batchQueries interface {
	CreateBatch(ctx context.Context, arg store.CreateBatchParams) (store.Batch, error)
	GetBatch(ctx context.Context, id uuid.UUID) (store.Batch, error)
	GetTenantBatch(ctx context.Context, tenantID, id uuid.UUID) (store.Batch, error)
	ListRunnableBatches(ctx context.Context) ([]store.Batch, error)
	TransitionBatch(ctx context.Context, arg store.TransitionBatchParams) (store.Batch, error)
	SetBatchTotals(ctx context.Context, id uuid.UUID, total int32) error
	SetBatchOutputFiles(ctx context.Context, id, outputFileID, errorFileID uuid.UUID) error
	ExpireBatches(ctx context.Context, now time.Time) ([]store.Batch, error)
	InsertBatchItem(ctx context.Context, arg store.InsertBatchItemParams) error
	ClaimBatchItem(ctx context.Context, batchID uuid.UUID, requeueAfter time.Duration) (store.BatchItem, error)
	FinishBatchItem(ctx context.Context, arg store.FinishBatchItemParams) error
	CancelPendingBatchItems(ctx context.Context, batchID uuid.UUID) (int64, error)
	ListBatchItems(ctx context.Context, batchID uuid.UUID) ([]store.BatchItem, error)
}

type Engine struct {
	settings *config.SnapshotStore
	queries  batchQueries
	files    *files.Service
	exec     *executor.Executor
	resolver ContextResolver
	logger   *slog.Logger

	baseCtx context.Context
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewEngine(settings *config.SnapshotStore, queries batchQueries, fileSvc *files.Service, exec *executor.Executor, resolver ContextResolver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		settings: settings,
		queries:  queries,
		files:    fileSvc,
		exec:     exec,
		resolver: resolver,
		logger:   logger,
		baseCtx:  context.Background(),
		cancels:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start resumes unfinished batches and launches the expiry sweeper. The
// context bounds every running batch.
func (e *Engine) Start(ctx context.Context) error {
	e.baseCtx = ctx

	runnable, err := e.queries.ListRunnableBatches(ctx)
	if err != nil {
		return fmt.Errorf("list runnable batches: %w", err)
	}
	for _, b := range runnable {
		e.logger.Info("resuming batch",
			slog.String("batch_id", b.ID.String()),
			slog.String("status", b.Status))
		e.launch(b)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				e.sweepExpired(ctx, now)
			}
		}
	}()
	return nil
}

// Wait blocks until every running batch and the sweeper have stopped.
func (e *Engine) Wait() { e.wg.Wait() }

// SubmitParams describes a new batch job.
type SubmitParams struct {
	TenantID       uuid.UUID
	APIKeyID       uuid.UUID
	InputFileID    uuid.UUID
	Endpoint       string
	MaxConcurrency int32
	TTL            time.Duration
}

// Submit creates the batch row and starts validation and execution in the
// background. The returned batch is still validating.
func (e *Engine) Submit(ctx context.Context, params SubmitParams) (store.Batch, error) {
	if !e.endpointAllowed(params.Endpoint) {
		return store.Batch{}, fmt.Errorf("%w: %s", ErrEndpointNotAllowed, params.Endpoint)
	}

	limits := e.settings.Current().Batches
	ttl := params.TTL
	if ttl <= 0 {
		ttl = limits.DefaultTTL
	}
	if limits.MaxTTL > 0 && ttl > limits.MaxTTL {
		ttl = limits.MaxTTL
	}

	b, err := e.queries.CreateBatch(ctx, store.CreateBatchParams{
		TenantID:       params.TenantID,
		APIKeyID:       params.APIKeyID,
		InputFileID:    params.InputFileID,
		Endpoint:       params.Endpoint,
		MaxConcurrency: params.MaxConcurrency,
		ExpiresAt:      time.Now().UTC().Add(ttl),
	})
	if err != nil {
		return store.Batch{}, err
	}
	e.launch(b)
	return b, nil
}

// Cancel moves the batch to cancelled, marks unstarted items, and stops the
// local runner. In-flight items finish on their own.
func (e *Engine) Cancel(ctx context.Context, tenantID, id uuid.UUID) (store.Batch, error) {
	// Ownership is verified before any state changes.
	if tenantID != uuid.Nil {
		if _, err := e.queries.GetTenantBatch(ctx, tenantID, id); err != nil {
			return store.Batch{}, err
		}
	}
	b, err := e.queries.TransitionBatch(ctx, store.TransitionBatchParams{
		ID:         id,
		FromStates: []string{StatusValidating, StatusInProgress, StatusFinalizing},
		ToState:    StatusCancelled,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Batch{}, ErrNotCancellable
		}
		return store.Batch{}, err
	}
	if _, err := e.queries.CancelPendingBatchItems(ctx, id); err != nil {
		return store.Batch{}, err
	}

	e.mu.Lock()
	cancel := e.cancels[id]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return b, nil
}

func (e *Engine) endpointAllowed(endpoint string) bool {
	for _, allowed := range e.settings.Current().Batches.AllowedEndpoints {
		if endpoint == allowed {
			return true
		}
	}
	return false
}

func (e *Engine) launch(b store.Batch) {
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.mu.Lock()
	e.cancels[b.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.cancels, b.ID)
			e.mu.Unlock()
		}()
		e.run(ctx, b)
	}()
}

func (e *Engine) run(ctx context.Context, b store.Batch) {
	rc, err := e.resolver.ResolveAPIKeyContext(ctx, b.APIKeyID)
	if err != nil {
		e.fail(ctx, b.ID, fmt.Sprintf("resolve api key: %v", err))
		return
	}

	if b.Status == StatusValidating {
		next, err := e.ingest(ctx, b)
		if err != nil {
			e.fail(ctx, b.ID, err.Error())
			return
		}
		b = next
	}

	if b.Status == StatusInProgress {
		e.runPool(ctx, b, rc)
	}

	e.finalize(context.WithoutCancel(ctx), b.ID)
}

// runPool drains the batch's items with min(requested, instance cap, tenant
// parallel) workers. Claims go through the database, so workers never hand
// each other items directly.
func (e *Engine) runPool(ctx context.Context, b store.Batch, rc *requestctx.Context) {
	workers := e.concurrency(b, rc)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				item, err := e.queries.ClaimBatchItem(ctx, b.ID, claimRequeueAfter)
				if err != nil {
					if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
						e.logger.Error("claim batch item failed",
							slog.String("batch_id", b.ID.String()),
							slog.String("error", err.Error()))
					}
					return
				}
				e.runItem(ctx, b, rc, item)
			}
		}()
	}
	wg.Wait()
}

func (e *Engine) concurrency(b store.Batch, rc *requestctx.Context) int {
	limits := e.settings.Current().Batches
	workers := int(b.MaxConcurrency)
	if workers <= 0 {
		workers = limits.MaxConcurrency
	}
	if limits.MaxConcurrency > 0 && workers > limits.MaxConcurrency {
		workers = limits.MaxConcurrency
	}
	if rc != nil && rc.TenantLimits.ParallelRequests > 0 && workers > int(rc.TenantLimits.ParallelRequests) {
		workers = int(rc.TenantLimits.ParallelRequests)
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

func (e *Engine) runItem(ctx context.Context, b store.Batch, rc *requestctx.Context, item store.BatchItem) {
	requestID := fmt.Sprintf("batch_%s_%d", b.ID, item.LineNo)
	response, itemErr := e.executeItem(requestctx.WithContext(ctx, rc), b, rc, item, requestID)

	finish := store.FinishBatchItemParams{ID: item.ID}
	if itemErr != nil {
		finish.Status = ItemFailed
		finish.Error = itemErr
	} else {
		finish.Status = ItemSucceeded
		finish.Response = response
	}
	if err := e.queries.FinishBatchItem(context.WithoutCancel(ctx), finish); err != nil {
		e.logger.Error("finish batch item failed",
			slog.String("batch_id", b.ID.String()),
			slog.Int("line", int(item.LineNo)),
			slog.String("error", err.Error()))
	}
}

// finalize assembles the output and error JSONL files and settles the final
// state. It re-reads the batch because cancellation may have raced the pool.
func (e *Engine) finalize(ctx context.Context, id uuid.UUID) {
	b, err := e.queries.GetBatch(ctx, id)
	if err != nil {
		e.logger.Error("load batch for finalize failed", slog.String("batch_id", id.String()), slog.String("error", err.Error()))
		return
	}
	switch b.Status {
	case StatusFailed, StatusExpired:
		return
	case StatusCancelled:
		// Partial results are still written out below.
	case StatusInProgress:
		if b, err = e.queries.TransitionBatch(ctx, store.TransitionBatchParams{
			ID:         id,
			FromStates: []string{StatusInProgress},
			ToState:    StatusFinalizing,
		}); err != nil {
			// Lost the race against cancel or expiry.
			if b, err = e.queries.GetBatch(ctx, id); err != nil || b.Status != StatusCancelled {
				return
			}
		}
	}

	outputID, errorID, err := e.writeResults(ctx, b)
	if err != nil {
		e.fail(ctx, id, fmt.Sprintf("write results: %v", err))
		return
	}
	if err := e.queries.SetBatchOutputFiles(ctx, id, outputID, errorID); err != nil {
		e.logger.Error("set batch output files failed", slog.String("batch_id", id.String()), slog.String("error", err.Error()))
	}

	if b.Status != StatusFinalizing {
		return
	}
	final := StatusCompleted
	if b.CompletedItems == 0 && b.FailedItems > 0 {
		final = StatusFailed
	}
	if _, err := e.queries.TransitionBatch(ctx, store.TransitionBatchParams{
		ID:         id,
		FromStates: []string{StatusFinalizing},
		ToState:    final,
	}); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Error("final batch transition failed", slog.String("batch_id", id.String()), slog.String("error", err.Error()))
	}
}

func (e *Engine) fail(ctx context.Context, id uuid.UUID, message string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := e.queries.TransitionBatch(ctx, store.TransitionBatchParams{
		ID:         id,
		FromStates: []string{StatusValidating, StatusInProgress, StatusFinalizing},
		ToState:    StatusFailed,
		Error:      message,
	}); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Error("batch fail transition failed", slog.String("batch_id", id.String()), slog.String("error", err.Error()))
	}
}

func (e *Engine) sweepExpired(ctx context.Context, now time.Time) {
	expired, err := e.queries.ExpireBatches(ctx, now)
	if err != nil {
		e.logger.Warn("expire batches failed", slog.String("error", err.Error()))
		return
	}
	for _, b := range expired {
		e.logger.Info("batch expired", slog.String("batch_id", b.ID.String()))
		if _, err := e.queries.CancelPendingBatchItems(ctx, b.ID); err != nil {
			e.logger.Warn("cancel expired batch items failed", slog.String("batch_id", b.ID.String()), slog.String("error", err.Error()))
		}
		e.mu.Lock()
		cancel := e.cancels[b.ID]
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}
