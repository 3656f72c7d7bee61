package batch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/requestctx"
	"github.com/modelrelay/modelrelay/internal/store"
)

// fakeBatchQueries keeps batches in memory and counts state transitions.
type fakeBatchQueries struct {
	batches     map[uuid.UUID]store.Batch
	transitions int
}

func (f *fakeBatchQueries) CreateBatch(ctx context.Context, arg store.CreateBatchParams) (store.Batch, error) {
	return store.Batch{}, errors.New("not implemented")
}

func (f *fakeBatchQueries) GetBatch(ctx context.Context, id uuid.UUID) (store.Batch, error) {
	b, ok := f.batches[id]
	if !ok {
		return store.Batch{}, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeBatchQueries) GetTenantBatch(ctx context.Context, tenantID, id uuid.UUID) (store.Batch, error) {
	b, ok := f.batches[id]
	if !ok || b.TenantID != tenantID {
		return store.Batch{}, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeBatchQueries) ListRunnableBatches(ctx context.Context) ([]store.Batch, error) {
	return nil, nil
}

func (f *fakeBatchQueries) TransitionBatch(ctx context.Context, arg store.TransitionBatchParams) (store.Batch, error) {
	f.transitions++
	b, ok := f.batches[arg.ID]
	if !ok {
		return store.Batch{}, store.ErrNotFound
	}
	allowed := false
	for _, from := range arg.FromStates {
		if b.Status == from {
			allowed = true
		}
	}
	if !allowed {
		return store.Batch{}, store.ErrNotFound
	}
	b.Status = arg.ToState
	f.batches[arg.ID] = b
	return b, nil
}

func (f *fakeBatchQueries) SetBatchTotals(ctx context.Context, id uuid.UUID, total int32) error {
	return nil
}

func (f *fakeBatchQueries) SetBatchOutputFiles(ctx context.Context, id, outputFileID, errorFileID uuid.UUID) error {
	return nil
}

func (f *fakeBatchQueries) ExpireBatches(ctx context.Context, now time.Time) ([]store.Batch, error) {
	return nil, nil
}

func (f *fakeBatchQueries) InsertBatchItem(ctx context.Context, arg store.InsertBatchItemParams) error {
	return nil
}

func (f *fakeBatchQueries) ClaimBatchItem(ctx context.Context, batchID uuid.UUID, requeueAfter time.Duration) (store.BatchItem, error) {
	return store.BatchItem{}, store.ErrNotFound
}

func (f *fakeBatchQueries) FinishBatchItem(ctx context.Context, arg store.FinishBatchItemParams) error {
	return nil
}

func (f *fakeBatchQueries) CancelPendingBatchItems(ctx context.Context, batchID uuid.UUID) (int64, error) {
	return 0, nil
}

func (f *fakeBatchQueries) ListBatchItems(ctx context.Context, batchID uuid.UUID) ([]store.BatchItem, error) {
	return nil, nil
}

func TestCancelScopedToOwningTenant(t *testing.T) {
	owner := uuid.New()
	intruder := uuid.New()
	id := uuid.New()
	queries := &fakeBatchQueries{batches: map[uuid.UUID]store.Batch{
		id: {ID: id, TenantID: owner, Status: StatusInProgress},
	}}
	engine := NewEngine(config.NewSnapshotStore(&config.Config{}), queries, nil, nil, nil, nil)

	if _, err := engine.Cancel(context.Background(), intruder, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for foreign tenant, got %v", err)
	}
	if queries.transitions != 0 {
		t.Fatalf("foreign tenant must not reach the state transition")
	}
	if got := queries.batches[id].Status; got != StatusInProgress {
		t.Fatalf("batch state changed to %q", got)
	}

	b, err := engine.Cancel(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if b.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %q", b.Status)
	}
}

func TestCancelCompletedBatchNotCancellable(t *testing.T) {
	tenantID := uuid.New()
	id := uuid.New()
	queries := &fakeBatchQueries{batches: map[uuid.UUID]store.Batch{
		id: {ID: id, TenantID: tenantID, Status: StatusCompleted},
	}}
	engine := NewEngine(config.NewSnapshotStore(&config.Config{}), queries, nil, nil, nil, nil)

	if _, err := engine.Cancel(context.Background(), tenantID, id); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestParseInputLineValidation(t *testing.T) {
	endpoint := "/v1/chat/completions"
	cases := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{"valid", `{"custom_id":"a","method":"POST","url":"/v1/chat/completions","body":{"model":"m"}}`, false},
		{"lowercase method", `{"custom_id":"a","method":"post","url":"/v1/chat/completions","body":{}}`, false},
		{"missing custom_id", `{"method":"POST","url":"/v1/chat/completions","body":{}}`, true},
		{"wrong method", `{"custom_id":"a","method":"GET","url":"/v1/chat/completions","body":{}}`, true},
		{"wrong url", `{"custom_id":"a","method":"POST","url":"/v1/embeddings","body":{}}`, true},
		{"missing body", `{"custom_id":"a","method":"POST","url":"/v1/chat/completions"}`, true},
		{"null body", `{"custom_id":"a","method":"POST","url":"/v1/chat/completions","body":null}`, true},
		{"not json", `not json`, true},
	}
	for _, tc := range cases {
		_, err := parseInputLine([]byte(tc.line), endpoint)
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestParseInputLineNormalizesMethod(t *testing.T) {
	line, err := parseInputLine([]byte(`{"custom_id":"a","method":"post","url":"/v1/embeddings","body":{}}`), "/v1/embeddings")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if line.Method != "POST" {
		t.Fatalf("expected normalized method, got %q", line.Method)
	}
}

func TestConcurrencyClampsToCapsAndTenantParallel(t *testing.T) {
	engine := NewEngine(config.NewSnapshotStore(&config.Config{
		Batches: config.BatchesConfig{MaxConcurrency: 8},
	}), nil, nil, nil, nil, nil)

	cases := []struct {
		requested int32
		parallel  int64
		want      int
	}{
		{0, 0, 8},
		{4, 0, 4},
		{100, 0, 8},
		{100, 3, 3},
		{2, 3, 2},
		{-1, 0, 8},
	}
	for _, tc := range cases {
		rc := &requestctx.Context{TenantLimits: requestctx.LimitSet{ParallelRequests: tc.parallel}}
		got := engine.concurrency(store.Batch{MaxConcurrency: tc.requested}, rc)
		if got != tc.want {
			t.Fatalf("requested %d parallel %d: want %d got %d", tc.requested, tc.parallel, tc.want, got)
		}
	}
}

func TestEndpointAllowed(t *testing.T) {
	engine := NewEngine(config.NewSnapshotStore(&config.Config{
		Batches: config.BatchesConfig{
			AllowedEndpoints: []string{"/v1/chat/completions", "/v1/embeddings"},
		},
	}), nil, nil, nil, nil, nil)

	if !engine.endpointAllowed("/v1/embeddings") {
		t.Fatalf("embeddings should be allowed")
	}
	if engine.endpointAllowed("/v1/images/generations") {
		t.Fatalf("images should be rejected by this config")
	}
}

func TestEncodeItemErrorShape(t *testing.T) {
	payload := encodeItemError("rate_limited", "slow down")
	var decoded itemError
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Code != "rate_limited" || decoded.Message != "slow down" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestOutputLineMarshalsOpenAIShape(t *testing.T) {
	line := outputLine{
		ID:       "batch_req_1",
		CustomID: "job-1",
		Response: &outputResponse{
			StatusCode: 200,
			RequestID:  "batch_x_1",
			Body:       json.RawMessage(`{"ok":true}`),
		},
	}
	data, err := json.Marshal(line)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "custom_id", "response", "error"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing key %q in %s", key, data)
		}
	}
	if string(decoded["error"]) != "null" {
		t.Fatalf("expected null error half, got %s", decoded["error"])
	}
}
