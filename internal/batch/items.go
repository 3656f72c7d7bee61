package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/executor"
	"github.com/modelrelay/modelrelay/internal/httpserver/dto"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/requestctx"
	"github.com/modelrelay/modelrelay/internal/services/files"
	"github.com/modelrelay/modelrelay/internal/store"
)

// itemError is the error half of an output line.
type itemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// outputLine is one JSONL result in the OpenAI batch output format.
type outputLine struct {
	ID       string          `json:"id"`
	CustomID string          `json:"custom_id"`
	Response *outputResponse `json:"response"`
	Error    *itemError      `json:"error"`
}

type outputResponse struct {
	StatusCode int             `json:"status_code"`
	RequestID  string          `json:"request_id"`
	Body       json.RawMessage `json:"body"`
}

// executeItem runs one batch line through the data plane and returns either
// the response body or an encoded item error.
func (e *Engine) executeItem(ctx context.Context, b store.Batch, rc *requestctx.Context, item store.BatchItem, requestID string) ([]byte, []byte) {
	opts := executor.CallOptions{RequestID: requestID, BatchID: b.ID}

	var (
		payload any
		err     error
	)
	switch b.Endpoint {
	case "/v1/chat/completions":
		payload, err = e.runChatItem(ctx, rc, item, opts)
	case "/v1/embeddings":
		payload, err = e.runEmbeddingsItem(ctx, rc, item, opts)
	case "/v1/images/generations":
		payload, err = e.runImageItem(ctx, rc, item, opts)
	default:
		return nil, encodeItemError("invalid_request_error", fmt.Sprintf("endpoint %s is not supported", b.Endpoint))
	}
	if err != nil {
		if ie, ok := err.(*invalidItemError); ok {
			return nil, encodeItemError("invalid_request_error", ie.message)
		}
		apiErr := executor.AsAPIError(err)
		return nil, encodeItemError(apiErr.Code, apiErr.Message)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, encodeItemError("internal_error", err.Error())
	}
	return body, nil
}

type invalidItemError struct{ message string }

func (e *invalidItemError) Error() string { return e.message }

func invalidItem(format string, args ...any) error {
	return &invalidItemError{message: fmt.Sprintf(format, args...)}
}

func (e *Engine) runChatItem(ctx context.Context, rc *requestctx.Context, item store.BatchItem, opts executor.CallOptions) (any, error) {
	var req models.ChatRequest
	if err := json.Unmarshal(item.Body, &req); err != nil {
		return nil, invalidItem("invalid chat body: %v", err)
	}
	if req.Model == "" {
		return nil, invalidItem("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, invalidItem("messages are required")
	}
	if req.Stream {
		return nil, invalidItem("streaming is not supported in batches")
	}
	resp, err := e.exec.Chat(ctx, rc, req, opts)
	if err != nil {
		return nil, err
	}
	return dto.FromChatResponse(resp, req.Model), nil
}

func (e *Engine) runEmbeddingsItem(ctx context.Context, rc *requestctx.Context, item store.BatchItem, opts executor.CallOptions) (any, error) {
	var req models.EmbeddingsRequest
	if err := json.Unmarshal(item.Body, &req); err != nil {
		return nil, invalidItem("invalid embeddings body: %v", err)
	}
	if req.Model == "" {
		return nil, invalidItem("model is required")
	}
	if len(req.Input) == 0 {
		return nil, invalidItem("input is required")
	}
	resp, err := e.exec.Embed(ctx, rc, req, opts)
	if err != nil {
		return nil, err
	}
	return dto.FromEmbeddingsResponse(resp, req.Model), nil
}

func (e *Engine) runImageItem(ctx context.Context, rc *requestctx.Context, item store.BatchItem, opts executor.CallOptions) (any, error) {
	var wire dto.ImageGenerationRequest
	if err := json.Unmarshal(item.Body, &wire); err != nil {
		return nil, invalidItem("invalid image body: %v", err)
	}
	if wire.Model == "" {
		return nil, invalidItem("model is required")
	}
	if wire.Prompt == "" {
		return nil, invalidItem("prompt is required")
	}
	resp, err := e.exec.GenerateImage(ctx, rc, wire.ToModel(), opts)
	if err != nil {
		return nil, err
	}
	return dto.FromImageResponse(resp), nil
}

func encodeItemError(code, message string) []byte {
	data, err := json.Marshal(itemError{Code: code, Message: message})
	if err != nil {
		return []byte(`{"code":"internal_error","message":"encode error"}`)
	}
	return data
}

// writeResults assembles the output and error JSONL files from the finished
// items and uploads them under the batch's remaining TTL.
func (e *Engine) writeResults(ctx context.Context, b store.Batch) (outputID, errorID uuid.UUID, err error) {
	items, err := e.queries.ListBatchItems(ctx, b.ID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	var output, failures bytes.Buffer
	for _, item := range items {
		line := outputLine{
			ID:       fmt.Sprintf("batch_req_%s", item.ID),
			CustomID: item.CustomID,
		}
		switch item.Status {
		case ItemSucceeded:
			line.Response = &outputResponse{
				StatusCode: http.StatusOK,
				RequestID:  fmt.Sprintf("batch_%s_%d", b.ID, item.LineNo),
				Body:       item.Response,
			}
			if err := appendJSONL(&output, line); err != nil {
				return uuid.Nil, uuid.Nil, err
			}
		case ItemFailed:
			var itemErr itemError
			if len(item.Error) > 0 {
				_ = json.Unmarshal(item.Error, &itemErr)
			}
			if itemErr.Code == "" {
				itemErr.Code = "internal_error"
			}
			line.Error = &itemErr
			if err := appendJSONL(&failures, line); err != nil {
				return uuid.Nil, uuid.Nil, err
			}
		}
	}

	ttl := time.Until(b.ExpiresAt)
	if ttl <= 0 {
		ttl = e.settings.Current().Batches.DefaultTTL
	}

	if output.Len() > 0 {
		outputID, err = e.uploadResult(ctx, b, files.PurposeBatchOutput, fmt.Sprintf("batch_%s_output.jsonl", b.ID), ttl, &output)
		if err != nil {
			return uuid.Nil, uuid.Nil, err
		}
	}
	if failures.Len() > 0 {
		errorID, err = e.uploadResult(ctx, b, files.PurposeBatchErrors, fmt.Sprintf("batch_%s_errors.jsonl", b.ID), ttl, &failures)
		if err != nil {
			return uuid.Nil, uuid.Nil, err
		}
	}
	return outputID, errorID, nil
}

func (e *Engine) uploadResult(ctx context.Context, b store.Batch, purpose, filename string, ttl time.Duration, buf *bytes.Buffer) (uuid.UUID, error) {
	record, err := e.files.Upload(ctx, files.UploadParams{
		TenantID:    b.TenantID,
		Filename:    filename,
		Purpose:     purpose,
		ContentType: "application/jsonl",
		TTL:         ttl,
		Reader:      buf,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("upload %s: %w", purpose, err)
	}
	return record.ID, nil
}

func appendJSONL(buf *bytes.Buffer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}
