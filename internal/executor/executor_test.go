package executor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/limits"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers"
	"github.com/modelrelay/modelrelay/internal/requestctx"
	"github.com/modelrelay/modelrelay/internal/router"
)

const testAlias = "relay-test"

type fakeChat struct {
	fn func(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
}

func (f fakeChat) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	return f.fn(ctx, req)
}

type fakeChatStream struct {
	fn func(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error)
}

func (f fakeChatStream) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	return f.fn(ctx, req)
}

func testEngine(t *testing.T, route providers.Route) *router.Engine {
	t.Helper()
	cfg := &config.Config{ModelCatalog: []config.ModelCatalogEntry{{
		Alias:         testAlias,
		Provider:      "fake",
		ProviderModel: "fake-1",
	}}}
	factory := providers.NewFactory(cfg)
	factory.Register("fake", func(ctx context.Context, cfg *config.Config, entry config.ModelCatalogEntry) (providers.Route, error) {
		route.Alias = entry.Alias
		route.Provider = entry.Provider
		route.Model = entry.ProviderModel
		return route, nil
	})
	engine := router.NewEngine()
	if err := engine.Reload(context.Background(), factory); err != nil {
		t.Fatalf("reload engine: %v", err)
	}
	return engine
}

func testLimiter(t *testing.T) (*limits.RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return limits.NewRateLimiter(client), mr
}

func testRC(limitSet requestctx.LimitSet) *requestctx.Context {
	return &requestctx.Context{
		TenantID:     uuid.New(),
		APIKeyID:     uuid.New(),
		TenantLimits: limitSet,
		KeyLimits:    limitSet,
	}
}

func bucketValue(t *testing.T, mr *miniredis.Miniredis, fragment string) string {
	t.Helper()
	for _, key := range mr.Keys() {
		if strings.Contains(key, fragment) {
			value, err := mr.Get(key)
			if err != nil {
				t.Fatalf("get %s: %v", key, err)
			}
			return value
		}
	}
	return ""
}

func TestChatReservesAndReconcilesTokens(t *testing.T) {
	route := providers.Route{Chat: fakeChat{fn: func(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
		if req.Model != "fake-1" {
			t.Fatalf("expected provider model on the wire, got %q", req.Model)
		}
		return models.ChatResponse{
			ID:      "chatcmpl-1",
			Model:   req.Model,
			Choices: []models.ChatChoice{{Message: models.ChatMessage{Role: "assistant", Content: "hi"}, FinishReason: "stop"}},
			Usage:   models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	}}}
	limiter, mr := testLimiter(t)
	exec := New(Deps{Router: testEngine(t, route), Limiter: limiter})

	rc := testRC(requestctx.LimitSet{RequestsPerMinute: 10, TokensPerMinute: 1000, ParallelRequests: 2})
	resp, err := exec.Chat(context.Background(), rc, models.ChatRequest{
		Model:    testAlias,
		Messages: []models.ChatMessage{{Role: "user", Content: "hello world"}},
	}, CallOptions{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Model != testAlias {
		t.Fatalf("expected public alias in response, got %q", resp.Model)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("expected provider usage, got %+v", resp.Usage)
	}

	if got := bucketValue(t, mr, ":tpm:"); got != "15" {
		t.Fatalf("expected tpm bucket reconciled to 15, got %q", got)
	}
	if got := bucketValue(t, mr, "parallel:tenant:"); got != "0" {
		t.Fatalf("expected tenant semaphore released, got %q", got)
	}
	if got := bucketValue(t, mr, ":rpm:"); got != "1" {
		t.Fatalf("expected one request counted, got %q", got)
	}
}

func TestChatRetriesServerErrors(t *testing.T) {
	attempts := 0
	route := providers.Route{Chat: fakeChat{fn: func(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
		attempts++
		if attempts < 3 {
			return models.ChatResponse{}, &models.UpstreamError{Provider: "fake", StatusCode: 503, Message: "overloaded"}
		}
		return models.ChatResponse{Usage: models.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}}, nil
	}}}
	exec := New(Deps{Router: testEngine(t, route)})

	_, err := exec.Chat(context.Background(), testRC(requestctx.LimitSet{}), models.ChatRequest{
		Model:    testAlias,
		Messages: []models.ChatMessage{{Role: "user", Content: "retry me"}},
	}, CallOptions{})
	if err != nil {
		t.Fatalf("expected third attempt to succeed: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestChatDoesNotRetryRejections(t *testing.T) {
	attempts := 0
	route := providers.Route{Chat: fakeChat{fn: func(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
		attempts++
		return models.ChatResponse{}, &models.UpstreamError{Provider: "fake", StatusCode: 400, Message: "bad prompt"}
	}}}
	exec := New(Deps{Router: testEngine(t, route)})

	_, err := exec.Chat(context.Background(), testRC(requestctx.LimitSet{}), models.ChatRequest{
		Model:    testAlias,
		Messages: []models.ChatMessage{{Role: "user", Content: "no"}},
	}, CallOptions{})
	if attempts != 1 {
		t.Fatalf("rejections must not retry, got %d attempts", attempts)
	}
	apiErr := AsAPIError(err)
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Code != CodeUpstreamRejected {
		t.Fatalf("unexpected error mapping: %+v", apiErr)
	}
}

func TestChatExhaustedRetriesMapToUnavailable(t *testing.T) {
	route := providers.Route{Chat: fakeChat{fn: func(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
		return models.ChatResponse{}, errors.New("connection refused")
	}}}
	exec := New(Deps{Router: testEngine(t, route)})

	_, err := exec.Chat(context.Background(), testRC(requestctx.LimitSet{}), models.ChatRequest{
		Model:    testAlias,
		Messages: []models.ChatMessage{{Role: "user", Content: "down"}},
	}, CallOptions{})
	apiErr := AsAPIError(err)
	if apiErr.Status != http.StatusBadGateway || apiErr.Code != CodeUpstreamUnavailable {
		t.Fatalf("unexpected error mapping: %+v", apiErr)
	}
	if apiErr.Err == nil || !strings.Contains(apiErr.Error(), "connection refused") {
		t.Fatalf("last provider error not preserved: %v", apiErr)
	}
}

func TestChatUnknownModel(t *testing.T) {
	exec := New(Deps{Router: router.NewEngine()})
	_, err := exec.Chat(context.Background(), testRC(requestctx.LimitSet{}), models.ChatRequest{Model: "missing"}, CallOptions{})
	apiErr := AsAPIError(err)
	if apiErr.Status != http.StatusNotFound || apiErr.Code != CodeModelNotFound {
		t.Fatalf("unexpected error mapping: %+v", apiErr)
	}
}

func TestChatRateLimitRejection(t *testing.T) {
	route := providers.Route{Chat: fakeChat{fn: func(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
		return models.ChatResponse{Usage: models.Usage{PromptTokens: 1, TotalTokens: 1}}, nil
	}}}
	limiter, _ := testLimiter(t)
	exec := New(Deps{Router: testEngine(t, route), Limiter: limiter})

	rc := testRC(requestctx.LimitSet{RequestsPerMinute: 1})
	req := models.ChatRequest{Model: testAlias, Messages: []models.ChatMessage{{Role: "user", Content: "once"}}}
	if _, err := exec.Chat(context.Background(), rc, req, CallOptions{}); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	_, err := exec.Chat(context.Background(), rc, req, CallOptions{})
	apiErr := AsAPIError(err)
	if apiErr.Status != http.StatusTooManyRequests || apiErr.Code != CodeRateLimited {
		t.Fatalf("unexpected error mapping: %+v", apiErr)
	}
	if apiErr.RetryAfter < 1 {
		t.Fatalf("expected a retry-after hint, got %d", apiErr.RetryAfter)
	}
}

func TestChatStreamRelaysChunksAndSettles(t *testing.T) {
	chunks := make(chan models.ChatChunk, 3)
	chunks <- models.ChatChunk{ID: "c1", Choices: []models.ChunkDelta{{Delta: models.ChatMessage{Content: "Hel"}}}}
	chunks <- models.ChatChunk{ID: "c1", Choices: []models.ChunkDelta{{Delta: models.ChatMessage{Content: "lo"}, FinishReason: "stop"}}}
	chunks <- models.ChatChunk{ID: "c1", Usage: &models.Usage{PromptTokens: 7, CompletionTokens: 2, TotalTokens: 9}}
	close(chunks)

	route := providers.Route{ChatStream: fakeChatStream{fn: func(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
		return chunks, func() error { return nil }, nil
	}}}
	limiter, mr := testLimiter(t)
	exec := New(Deps{Router: testEngine(t, route), Limiter: limiter})

	rc := testRC(requestctx.LimitSet{TokensPerMinute: 500})
	out, errFn, err := exec.ChatStream(context.Background(), rc, models.ChatRequest{
		Model:    testAlias,
		Messages: []models.ChatMessage{{Role: "user", Content: "say hello"}},
	}, CallOptions{RequestID: "req-s1"})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}

	var text strings.Builder
	received := 0
	for chunk := range out {
		received++
		for _, delta := range chunk.Choices {
			text.WriteString(delta.Delta.Content)
		}
	}
	if err := errFn(); err != nil {
		t.Fatalf("stream close: %v", err)
	}
	if received != 3 {
		t.Fatalf("expected all chunks relayed, got %d", received)
	}
	if text.String() != "Hello" {
		t.Fatalf("unexpected stream text %q", text.String())
	}
	if got := bucketValue(t, mr, ":tpm:"); got != "9" {
		t.Fatalf("expected tpm bucket reconciled to terminal usage, got %q", got)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	cases := map[int]time.Duration{
		0: 100 * time.Millisecond,
		1: 200 * time.Millisecond,
		3: 800 * time.Millisecond,
		5: time.Second,
	}
	for n, want := range cases {
		if got := backoff(n); got != want {
			t.Fatalf("backoff(%d): want %s got %s", n, want, got)
		}
	}
}

func TestStatusFromError(t *testing.T) {
	if got := statusFromError(context.Canceled); got != statusCanceled {
		t.Fatalf("canceled mapped to %q", got)
	}
	if got := statusFromError(guardrailError()); got != statusBlocked {
		t.Fatalf("guardrail block mapped to %q", got)
	}
	if got := statusFromError(errors.New("boom")); got != statusError {
		t.Fatalf("generic error mapped to %q", got)
	}
}

func TestChatPromptTextScreensUserTurnsOnly(t *testing.T) {
	req := models.ChatRequest{Messages: []models.ChatMessage{
		{Role: "system", Content: "system directive"},
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "earlier answer"},
		{Role: "User", Content: "second question"},
	}}

	got := chatPromptText(req)
	if strings.Contains(got, "system directive") || strings.Contains(got, "earlier answer") {
		t.Fatalf("non-user content reached screening: %q", got)
	}
	if !strings.Contains(got, "first question") || !strings.Contains(got, "second question") {
		t.Fatalf("user content missing from screening: %q", got)
	}

	want := len("system directive") + len("first question") + len("earlier answer") + len("second question")
	if n := chatContentLen(req); n != want {
		t.Fatalf("estimate length %d, want %d", n, want)
	}
}
