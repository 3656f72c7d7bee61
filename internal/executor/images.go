package executor

import (
	"context"

	"github.com/modelrelay/modelrelay/internal/limits"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers"
	"github.com/modelrelay/modelrelay/internal/requestctx"
)

// GenerateImage runs a text-to-image call through the pipeline.
func (e *Executor) GenerateImage(ctx context.Context, rc *requestctx.Context, req models.ImageRequest, opts CallOptions) (models.ImageResponse, error) {
	return e.runImage(ctx, rc, req.Model, req.Prompt, opts, func(ctx context.Context, r providers.Route) (models.ImageResponse, error) {
		inner := req
		inner.Model = r.Model
		return r.Image.Generate(ctx, inner)
	})
}

// EditImage runs an image edit through the pipeline.
func (e *Executor) EditImage(ctx context.Context, rc *requestctx.Context, req models.ImageEditRequest, opts CallOptions) (models.ImageResponse, error) {
	return e.runImage(ctx, rc, req.Model, req.Prompt, opts, func(ctx context.Context, r providers.Route) (models.ImageResponse, error) {
		inner := req
		inner.Model = r.Model
		return r.Image.Edit(ctx, inner)
	})
}

// ImageVariation runs an image variation through the pipeline.
func (e *Executor) ImageVariation(ctx context.Context, rc *requestctx.Context, req models.ImageVariationRequest, opts CallOptions) (models.ImageResponse, error) {
	return e.runImage(ctx, rc, req.Model, "", opts, func(ctx context.Context, r providers.Route) (models.ImageResponse, error) {
		inner := req
		inner.Model = r.Model
		return r.Image.Variation(ctx, inner)
	})
}

func (e *Executor) runImage(ctx context.Context, rc *requestctx.Context, alias, prompt string, opts CallOptions, call func(context.Context, providers.Route) (models.ImageResponse, error)) (models.ImageResponse, error) {
	f, err := e.begin(ctx, rc, admission{
		alias:      alias,
		opts:       opts,
		promptText: prompt,
		estTokens:  limits.EstimateTokens(len(prompt), 0),
	})
	if err != nil {
		return models.ImageResponse{}, err
	}

	var resp models.ImageResponse
	route, callErr := e.perform(ctx, f,
		func(r providers.Route) bool { return r.Image != nil },
		func(ctx context.Context, r providers.Route) error {
			ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
			defer cancel()
			var err error
			resp, err = call(ctx, r)
			return err
		})
	if callErr != nil {
		e.finish(ctx, f, outcome{route: route, status: statusFromError(callErr)})
		return models.ImageResponse{}, callErr
	}

	e.finish(ctx, f, outcome{
		route:  route,
		status: statusSuccess,
		usage:  resp.Usage,
		images: len(resp.Data),
	})
	return resp, nil
}
