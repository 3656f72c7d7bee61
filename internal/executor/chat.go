package executor

import (
	"context"
	"errors"
	"strings"

	"github.com/modelrelay/modelrelay/internal/guardrails"
	"github.com/modelrelay/modelrelay/internal/limits"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers"
	"github.com/modelrelay/modelrelay/internal/requestctx"
)

// Chat runs a non-streaming completion through the pipeline. The response
// carries the public alias, never the provider model.
func (e *Executor) Chat(ctx context.Context, rc *requestctx.Context, req models.ChatRequest, opts CallOptions) (models.ChatResponse, error) {
	contentLen := chatContentLen(req)
	var maxTokens int64
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	f, err := e.begin(ctx, rc, admission{
		alias:      req.Model,
		opts:       opts,
		promptText: chatPromptText(req),
		estTokens:  limits.EstimateTokens(contentLen, maxTokens),
	})
	if err != nil {
		return models.ChatResponse{}, err
	}

	var resp models.ChatResponse
	route, callErr := e.perform(ctx, f,
		func(r providers.Route) bool { return r.Chat != nil },
		func(ctx context.Context, r providers.Route) error {
			ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
			defer cancel()
			inner := req
			inner.Model = r.Model
			var err error
			resp, err = r.Chat.Chat(ctx, inner)
			return err
		})
	if callErr != nil {
		e.finish(ctx, f, outcome{route: route, status: statusFromError(callErr)})
		return models.ChatResponse{}, callErr
	}

	completion := chatResponseText(resp)
	used := resp.Usage
	if used.Zero() {
		used = estimateUsage(contentLen, len(completion))
	}

	status := statusSuccess
	if e.guardrails != nil && f.policy.Enabled && completion != "" {
		result := e.guardrails.Screen(ctx, f.policy, e.screenInput(f, guardrails.StageResponse, completion))
		if result.Action == guardrails.ActionBlock {
			for i := range resp.Choices {
				resp.Choices[i].Message.Content = guardrails.RefusalMessage
				resp.Choices[i].FinishReason = "content_filter"
			}
			status = statusBlocked
		}
	}

	e.finish(ctx, f, outcome{route: route, status: status, usage: used})
	resp.Model = req.Model
	resp.Usage = used
	return resp, nil
}

// ChatStream opens a provider stream and relays chunks unchanged. Accounting
// settles when the relay goroutine drains the upstream channel; the returned
// close func reports the terminal stream error, if any.
func (e *Executor) ChatStream(ctx context.Context, rc *requestctx.Context, req models.ChatRequest, opts CallOptions) (<-chan models.ChatChunk, func() error, error) {
	contentLen := chatContentLen(req)
	var maxTokens int64
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	f, err := e.begin(ctx, rc, admission{
		alias:      req.Model,
		opts:       opts,
		promptText: chatPromptText(req),
		estTokens:  limits.EstimateTokens(contentLen, maxTokens),
		stream:     true,
	})
	if err != nil {
		return nil, nil, err
	}

	var upstream <-chan models.ChatChunk
	var upstreamClose func() error
	route, callErr := e.perform(ctx, f,
		func(r providers.Route) bool { return r.ChatStream != nil },
		func(ctx context.Context, r providers.Route) error {
			inner := req
			inner.Model = r.Model
			var err error
			upstream, upstreamClose, err = r.ChatStream.ChatStream(ctx, inner)
			return err
		})
	if callErr != nil {
		e.finish(ctx, f, outcome{route: route, status: statusFromError(callErr)})
		return nil, nil, callErr
	}

	out := make(chan models.ChatChunk)
	done := make(chan struct{})
	var streamErr error

	go func() {
		defer close(done)
		defer close(out)

		var reported models.Usage
		var completion strings.Builder
		evaluator := guardrails.NewEvaluator(f.policy)
		truncated := false

	relay:
		for chunk := range upstream {
			if chunk.Usage != nil {
				reported = *chunk.Usage
			}
			for _, delta := range chunk.Choices {
				completion.WriteString(delta.Delta.Content)
			}
			if f.policy.Enabled && !truncated {
				result := evaluator.Check(guardrails.StageResponse, completion.String())
				if result.Action == guardrails.ActionBlock {
					truncated = true
					streamErr = guardrailError()
					if e.guardrails != nil {
						e.guardrails.RecordTruncation(context.WithoutCancel(ctx),
							e.screenInput(f, guardrails.StageResponse, completion.String()), result)
					}
					break relay
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				streamErr = ctx.Err()
				break relay
			}
		}

		closeErr := upstreamClose()
		if streamErr == nil && closeErr != nil {
			streamErr = closeErr
			e.router.ReportFailure(f.adm.alias, route)
		}

		used := reported
		if used.Zero() {
			used = estimateUsage(contentLen, completion.Len())
		}

		status := statusSuccess
		switch {
		case truncated:
			status = statusBlocked
		case streamErr != nil && (errors.Is(streamErr, context.Canceled) || errors.Is(streamErr, context.DeadlineExceeded)):
			status = statusCanceled
			if completion.Len() == 0 && reported.Zero() {
				used = models.Usage{}
			}
		case streamErr != nil:
			status = statusError
		}

		e.finish(ctx, f, outcome{route: route, status: status, usage: used})
	}()

	errFn := func() error {
		<-done
		return streamErr
	}
	return out, errFn, nil
}

// chatPromptText collects the user-authored turns for guardrail screening.
// System and assistant history is not screened.
func chatPromptText(req models.ChatRequest) string {
	parts := make([]string, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if !strings.EqualFold(msg.Role, "user") {
			continue
		}
		parts = append(parts, msg.Content)
	}
	return joinContent(parts)
}

// chatContentLen counts every message's content for the admission estimate.
func chatContentLen(req models.ChatRequest) int {
	n := 0
	for _, msg := range req.Messages {
		n += len(msg.Content)
	}
	return n
}

func chatResponseText(resp models.ChatResponse) string {
	parts := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		parts = append(parts, choice.Message.Content)
	}
	return joinContent(parts)
}
