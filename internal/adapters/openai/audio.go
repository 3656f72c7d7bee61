package openai

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/openai/openai-go/v3"

	"github.com/modelrelay/modelrelay/internal/models"
)

func (a *Adapter) Transcribe(ctx context.Context, req models.AudioTranscriptionRequest) (models.AudioTranscriptionResponse, error) {
	if req.Input.Reader == nil {
		return models.AudioTranscriptionResponse{}, errors.New("openai: audio input required")
	}
	params := openai.AudioTranscriptionNewParams{
		File:  req.Input.Reader,
		Model: openai.AudioModel(req.Model),
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		params.Language = openai.String(lang)
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		params.Prompt = openai.String(prompt)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	}
	resp, err := a.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return models.AudioTranscriptionResponse{}, err
	}
	return models.AudioTranscriptionResponse{
		Text:  resp.Text,
		Usage: convertTranscriptionUsage(resp.Usage),
	}, nil
}

func (a *Adapter) Translate(ctx context.Context, req models.AudioTranscriptionRequest) (models.AudioTranscriptionResponse, error) {
	if req.Input.Reader == nil {
		return models.AudioTranscriptionResponse{}, errors.New("openai: audio input required")
	}
	params := openai.AudioTranslationNewParams{
		File:  req.Input.Reader,
		Model: openai.AudioModel(req.Model),
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		params.Prompt = openai.String(prompt)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	}
	resp, err := a.client.Audio.Translations.New(ctx, params)
	if err != nil {
		return models.AudioTranscriptionResponse{}, err
	}
	return models.AudioTranscriptionResponse{Text: resp.Text}, nil
}

func (a *Adapter) Synthesize(ctx context.Context, req models.AudioSpeechRequest) (models.AudioSpeechResponse, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return models.AudioSpeechResponse{}, errors.New("openai: input required for speech synthesis")
	}
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = "alloy"
	}
	format := strings.TrimSpace(req.Format)
	if format == "" {
		format = "mp3"
	}
	params := openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(req.Model),
		Input:          input,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(format),
	}
	switch {
	case strings.EqualFold(req.StreamFormat, "audio"):
		params.StreamFormat = openai.AudioSpeechNewParamsStreamFormatAudio
	case strings.EqualFold(req.StreamFormat, "sse"):
		params.StreamFormat = openai.AudioSpeechNewParamsStreamFormatSSE
	}

	resp, err := a.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return models.AudioSpeechResponse{}, err
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.AudioSpeechResponse{}, err
	}
	return models.AudioSpeechResponse{Audio: audio}, nil
}

func convertTranscriptionUsage(usage openai.AudioTranscriptionNewResponseUnionUsage) models.Usage {
	if usage.InputTokens == 0 && usage.OutputTokens == 0 && usage.TotalTokens == 0 {
		return models.Usage{}
	}
	return models.Usage{
		PromptTokens:     int32(usage.InputTokens),
		CompletionTokens: int32(usage.OutputTokens),
		TotalTokens:      int32(usage.TotalTokens),
	}
}
