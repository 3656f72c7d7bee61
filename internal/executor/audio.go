package executor

import (
	"context"

	"github.com/modelrelay/modelrelay/internal/guardrails"
	"github.com/modelrelay/modelrelay/internal/limits"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers"
	"github.com/modelrelay/modelrelay/internal/requestctx"
)

// Transcribe runs an audio transcription through the pipeline. The resulting
// text passes the response guardrail stage before it is returned.
func (e *Executor) Transcribe(ctx context.Context, rc *requestctx.Context, req models.AudioTranscriptionRequest, opts CallOptions) (models.AudioTranscriptionResponse, error) {
	return e.runTranscription(ctx, rc, req, opts,
		func(r providers.Route) bool { return r.AudioTranscribe != nil },
		func(ctx context.Context, r providers.Route, inner models.AudioTranscriptionRequest) (models.AudioTranscriptionResponse, error) {
			return r.AudioTranscribe.Transcribe(ctx, inner)
		})
}

// Translate runs an audio translation through the pipeline.
func (e *Executor) Translate(ctx context.Context, rc *requestctx.Context, req models.AudioTranscriptionRequest, opts CallOptions) (models.AudioTranscriptionResponse, error) {
	return e.runTranscription(ctx, rc, req, opts,
		func(r providers.Route) bool { return r.AudioTranslate != nil },
		func(ctx context.Context, r providers.Route, inner models.AudioTranscriptionRequest) (models.AudioTranscriptionResponse, error) {
			return r.AudioTranslate.Translate(ctx, inner)
		})
}

func (e *Executor) runTranscription(ctx context.Context, rc *requestctx.Context, req models.AudioTranscriptionRequest, opts CallOptions, supported func(providers.Route) bool, call func(context.Context, providers.Route, models.AudioTranscriptionRequest) (models.AudioTranscriptionResponse, error)) (models.AudioTranscriptionResponse, error) {
	f, err := e.begin(ctx, rc, admission{
		alias:      req.Model,
		opts:       opts,
		promptText: req.Prompt,
		estTokens:  limits.EstimateTokens(len(req.Prompt), 0),
	})
	if err != nil {
		return models.AudioTranscriptionResponse{}, err
	}

	var resp models.AudioTranscriptionResponse
	route, callErr := e.perform(ctx, f, supported,
		func(ctx context.Context, r providers.Route) error {
			ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
			defer cancel()
			inner := req
			inner.Model = r.Model
			var err error
			resp, err = call(ctx, r, inner)
			return err
		})
	if callErr != nil {
		e.finish(ctx, f, outcome{route: route, status: statusFromError(callErr)})
		return models.AudioTranscriptionResponse{}, callErr
	}

	used := resp.Usage
	if used.Zero() {
		used = estimateUsage(0, len(resp.Text))
	}

	status := statusSuccess
	if e.guardrails != nil && f.policy.Enabled && resp.Text != "" {
		result := e.guardrails.Screen(ctx, f.policy, e.screenInput(f, guardrails.StageResponse, resp.Text))
		if result.Action == guardrails.ActionBlock {
			resp.Text = guardrails.RefusalMessage
			status = statusBlocked
		}
	}

	e.finish(ctx, f, outcome{route: route, status: status, usage: used})
	resp.Usage = used
	return resp, nil
}

// Synthesize runs a text-to-speech call through the pipeline. Providers do
// not report token usage for speech, so the input length estimate is billed.
func (e *Executor) Synthesize(ctx context.Context, rc *requestctx.Context, req models.AudioSpeechRequest, opts CallOptions) (models.AudioSpeechResponse, error) {
	f, err := e.begin(ctx, rc, admission{
		alias:      req.Model,
		opts:       opts,
		promptText: req.Input,
		estTokens:  limits.EstimateTokens(len(req.Input), 0),
	})
	if err != nil {
		return models.AudioSpeechResponse{}, err
	}

	var resp models.AudioSpeechResponse
	route, callErr := e.perform(ctx, f,
		func(r providers.Route) bool { return r.TextToSpeech != nil },
		func(ctx context.Context, r providers.Route) error {
			ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
			defer cancel()
			inner := req
			inner.Model = r.Model
			var err error
			resp, err = r.TextToSpeech.Synthesize(ctx, inner)
			return err
		})
	if callErr != nil {
		e.finish(ctx, f, outcome{route: route, status: statusFromError(callErr)})
		return models.AudioSpeechResponse{}, callErr
	}

	used := resp.Usage
	if used.Zero() {
		used = estimateUsage(len(req.Input), 0)
	}

	e.finish(ctx, f, outcome{route: route, status: statusSuccess, usage: used})
	resp.Usage = used
	return resp, nil
}
