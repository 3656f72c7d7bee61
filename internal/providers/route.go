package providers

import (
	"context"

	"github.com/modelrelay/modelrelay/internal/models"
)

// Route is a single provider deployment able to serve a public alias.
type Route struct {
	Alias           string
	Provider        string
	Model           string
	Deployment      string
	ContextWindow   int32
	MaxOutputTokens int32
	Modalities      []string
	SupportsTools   bool
	Pricing         models.Pricing
	Metadata        map[string]string

	Chat               ChatCompletions
	ChatStream         ChatStreaming
	Embedding          EmbeddingsProvider
	Image              ImagesProvider
	AudioTranscribe    AudioTranscriber
	AudioTranslate     AudioTranslator
	TextToSpeech       TextToSpeech
	TextToSpeechStream TextToSpeechStreaming
	Models             ModelLister
	Health             func(ctx context.Context) error
}

// ResolveDeployment returns the identifier health tracking keys on. Falls
// back to the provider model when no explicit deployment is set.
func (r Route) ResolveDeployment() string {
	if r.Deployment != "" {
		return r.Deployment
	}
	return r.Model
}

// ToModel converts the route into the public /v1/models shape.
func (r Route) ToModel() models.Model {
	return models.Model{
		Alias:           r.Alias,
		Provider:        r.Provider,
		ProviderModel:   r.Model,
		ContextWindow:   r.ContextWindow,
		MaxOutputTokens: r.MaxOutputTokens,
		Modalities:      r.Modalities,
		SupportsTools:   r.SupportsTools,
	}
}
