package models

import "github.com/shopspring/decimal"

// Model is the public /v1/models representation of a catalog entry.
type Model struct {
	Alias           string   `json:"alias"`
	Provider        string   `json:"provider"`
	ProviderModel   string   `json:"provider_model"`
	ContextWindow   int32    `json:"context_window"`
	MaxOutputTokens int32    `json:"max_output_tokens"`
	Modalities      []string `json:"modalities"`
	SupportsTools   bool     `json:"supports_tools"`
}

// Pricing holds per-million-token prices plus optional flat per-call and
// per-image rates for non-token modalities.
type Pricing struct {
	InputPerMTok  decimal.Decimal `json:"input_per_mtok"`
	OutputPerMTok decimal.Decimal `json:"output_per_mtok"`
	FlatPerCall   decimal.Decimal `json:"flat_per_call"`
	PerImage      decimal.Decimal `json:"per_image"`
}

// Cost computes the charge for a completed call. Token prices are quoted per
// million tokens. A zero pricing yields a zero cost; the usage event is still
// recorded by the caller.
func (p Pricing) Cost(usage Usage, images int) decimal.Decimal {
	million := decimal.NewFromInt(1_000_000)
	in := p.InputPerMTok.Mul(decimal.NewFromInt32(usage.PromptTokens)).Div(million)
	out := p.OutputPerMTok.Mul(decimal.NewFromInt32(usage.CompletionTokens)).Div(million)
	total := in.Add(out).Add(p.FlatPerCall)
	if images > 0 {
		total = total.Add(p.PerImage.Mul(decimal.NewFromInt(int64(images))))
	}
	return total
}

// EstimatedCost returns the admission-control estimate for a call expected to
// consume estTokens, priced at the average of the input and output rates.
func (p Pricing) EstimatedCost(estTokens int64) decimal.Decimal {
	avg := p.InputPerMTok.Add(p.OutputPerMTok).Div(decimal.NewFromInt(2))
	return avg.Mul(decimal.NewFromInt(estTokens)).Div(decimal.NewFromInt(1_000_000))
}
