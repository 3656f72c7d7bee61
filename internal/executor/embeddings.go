package executor

import (
	"context"

	"github.com/modelrelay/modelrelay/internal/limits"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers"
	"github.com/modelrelay/modelrelay/internal/requestctx"
)

// Embed runs an embeddings call through the pipeline.
func (e *Executor) Embed(ctx context.Context, rc *requestctx.Context, req models.EmbeddingsRequest, opts CallOptions) (models.EmbeddingsResponse, error) {
	input := joinContent(req.Input)

	f, err := e.begin(ctx, rc, admission{
		alias:      req.Model,
		opts:       opts,
		promptText: input,
		estTokens:  limits.EstimateTokens(len(input), 0),
	})
	if err != nil {
		return models.EmbeddingsResponse{}, err
	}

	var resp models.EmbeddingsResponse
	route, callErr := e.perform(ctx, f,
		func(r providers.Route) bool { return r.Embedding != nil },
		func(ctx context.Context, r providers.Route) error {
			ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
			defer cancel()
			inner := req
			inner.Model = r.Model
			var err error
			resp, err = r.Embedding.Embed(ctx, inner)
			return err
		})
	if callErr != nil {
		e.finish(ctx, f, outcome{route: route, status: statusFromError(callErr)})
		return models.EmbeddingsResponse{}, callErr
	}

	used := resp.Usage
	if used.Zero() {
		used = estimateUsage(len(input), 0)
	}

	e.finish(ctx, f, outcome{route: route, status: statusSuccess, usage: used})
	resp.Model = req.Model
	resp.Usage = used
	return resp, nil
}
