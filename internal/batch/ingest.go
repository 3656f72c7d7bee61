package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelrelay/modelrelay/internal/store"
)

// Input lines are JSON objects; a megabyte per line is already generous for
// chat payloads.
const maxLineBytes = 1 << 20

// inputLine is one JSONL request in the OpenAI batch input format.
type inputLine struct {
	CustomID string          `json:"custom_id"`
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Body     json.RawMessage `json:"body"`
}

// ingest validates the input file line by line, materializes the items, and
// moves the batch to in_progress. A batch resumed mid-validation keeps the
// items it already has.
func (e *Engine) ingest(ctx context.Context, b store.Batch) (store.Batch, error) {
	existing, err := e.queries.ListBatchItems(ctx, b.ID)
	if err != nil {
		return store.Batch{}, fmt.Errorf("list batch items: %w", err)
	}

	total := int32(len(existing))
	if total == 0 {
		total, err = e.ingestFile(ctx, b)
		if err != nil {
			return store.Batch{}, err
		}
	}

	if err := e.queries.SetBatchTotals(ctx, b.ID, total); err != nil {
		return store.Batch{}, fmt.Errorf("set batch totals: %w", err)
	}
	return e.queries.TransitionBatch(ctx, store.TransitionBatchParams{
		ID:         b.ID,
		FromStates: []string{StatusValidating},
		ToState:    StatusInProgress,
	})
}

func (e *Engine) ingestFile(ctx context.Context, b store.Batch) (int32, error) {
	reader, _, err := e.files.OpenByID(ctx, b.InputFileID)
	if err != nil {
		return 0, fmt.Errorf("open input file: %w", err)
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	seen := make(map[string]struct{})
	var lineNo int32
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		lineNo++
		if maxRequests := e.settings.Current().Batches.MaxRequests; maxRequests > 0 && int(lineNo) > maxRequests {
			return 0, fmt.Errorf("input exceeds %d requests", maxRequests)
		}

		line, err := parseInputLine([]byte(raw), b.Endpoint)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if _, dup := seen[line.CustomID]; dup {
			return 0, fmt.Errorf("line %d: duplicate custom_id %q", lineNo, line.CustomID)
		}
		seen[line.CustomID] = struct{}{}

		if err := e.queries.InsertBatchItem(ctx, store.InsertBatchItemParams{
			BatchID:  b.ID,
			LineNo:   lineNo,
			CustomID: line.CustomID,
			Method:   line.Method,
			URL:      line.URL,
			Body:     line.Body,
		}); err != nil {
			return 0, fmt.Errorf("insert item %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read input file: %w", err)
	}
	if lineNo == 0 {
		return 0, fmt.Errorf("input file contains no requests")
	}
	return lineNo, nil
}

// parseInputLine validates one JSONL request against the batch endpoint.
func parseInputLine(raw []byte, endpoint string) (inputLine, error) {
	var line inputLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return inputLine{}, fmt.Errorf("invalid JSON: %w", err)
	}
	line.CustomID = strings.TrimSpace(line.CustomID)
	if line.CustomID == "" {
		return inputLine{}, fmt.Errorf("custom_id is required")
	}
	if !strings.EqualFold(line.Method, http.MethodPost) {
		return inputLine{}, fmt.Errorf("method must be POST, got %q", line.Method)
	}
	line.Method = http.MethodPost
	if line.URL != endpoint {
		return inputLine{}, fmt.Errorf("url %q does not match batch endpoint %q", line.URL, endpoint)
	}
	if len(line.Body) == 0 || string(line.Body) == "null" {
		return inputLine{}, fmt.Errorf("body is required")
	}
	return line, nil
}
