// Package anthropic speaks the Anthropic Messages API over plain HTTP. Chat
// and streaming chat are supported; the gateway translates to and from the
// OpenAI-style shapes used everywhere else.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers/streamutil"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
)

type Options struct {
	APIKey           string
	BaseURL          string
	Version          string
	DefaultMaxTokens int32
	HTTPClient       *http.Client
}

type Adapter struct {
	client  *http.Client
	baseURL string
	opts    Options
}

func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("anthropic: api key required")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(opts.Version) == "" {
		opts.Version = defaultVersion
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Adapter{
		client:  opts.HTTPClient,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		opts:    opts,
	}, nil
}

func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	payload := buildMessageRequest(req, a.opts.DefaultMaxTokens, false)
	var resp messageResponse
	if err := a.postJSON(ctx, "/v1/messages", payload, &resp); err != nil {
		return models.ChatResponse{}, err
	}
	return convertMessageResponse(resp, req.Model), nil
}

func (a *Adapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	payload := buildMessageRequest(req, a.opts.DefaultMaxTokens, true)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	a.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, nil, decodeAPIError(resp)
	}

	forward := func(ctx context.Context, yield streamutil.YieldFunc) {
		defer resp.Body.Close()
		forwardStream(resp.Body, req.Model, yield)
	}
	cancel := func() error {
		resp.Body.Close()
		return nil
	}
	chunks, closeFn := streamutil.Forward(ctx, cancel, forward)
	return chunks, closeFn, nil
}

// HealthCheck lists models, which is the cheapest authenticated call the API
// offers.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	a.setHeaders(req)
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("anthropic health status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.opts.APIKey)
	req.Header.Set("anthropic-version", a.opts.Version)
}

func (a *Adapter) postJSON(ctx context.Context, path string, payload messageRequest, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	a.setHeaders(req)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// forwardStream walks the SSE event stream, emitting one chunk per text delta
// and a terminal chunk carrying the finish reason plus usage totals.
func forwardStream(body io.Reader, fallbackModel string, yield streamutil.YieldFunc) {
	reader := bufio.NewReader(body)
	created := time.Now().UTC()
	messageID := fmt.Sprintf("chatcmpl-anthropic-%d", created.UnixNano())
	model := fallbackModel
	finishReason := ""
	var usage messageUsage

	emitTerminal := func(index int) {
		chunk := models.ChatChunk{
			ID:      messageID,
			Model:   model,
			Created: created,
			Choices: []models.ChunkDelta{{
				Index:        index,
				FinishReason: mapStopReason(finishReason),
			}},
		}
		if usage.InputTokens > 0 || usage.OutputTokens > 0 {
			chunk.Usage = &models.Usage{
				PromptTokens:     usage.InputTokens,
				CompletionTokens: usage.OutputTokens,
				TotalTokens:      usage.InputTokens + usage.OutputTokens,
			}
		}
		yield(chunk)
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" || line == "event: ping" {
			continue
		}
		if line == "data: [DONE]" {
			emitTerminal(0)
			return
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		var evt streamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "message_start":
			if evt.Message != nil {
				if evt.Message.ID != "" {
					messageID = evt.Message.ID
				}
				if evt.Message.Model != "" {
					model = evt.Message.Model
				}
			}
		case "content_block_delta":
			text := evt.deltaText()
			if text == "" {
				continue
			}
			ok := yield(models.ChatChunk{
				ID:      messageID,
				Model:   model,
				Created: created,
				Choices: []models.ChunkDelta{{
					Index: evt.Index,
					Delta: models.ChatMessage{Role: "assistant", Content: text},
				}},
			})
			if !ok {
				return
			}
		case "message_delta":
			if reason := evt.stopReason(); reason != "" {
				finishReason = reason
			}
			if evt.Usage.InputTokens > 0 || evt.Usage.OutputTokens > 0 {
				usage = evt.Usage
			}
		case "message_stop":
			emitTerminal(evt.Index)
			return
		}
	}
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &models.UpstreamError{
		Provider:   "anthropic",
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
