package guardrails

import (
	"bytes"
	"encoding/json"
)

// Stage names used in events and webhook payloads.
const (
	StagePrompt   = "prompt"
	StageResponse = "response"
)

// Config is the structured guardrail policy evaluated on every request.
type Config struct {
	Enabled    bool             `json:"enabled"`
	Prompt     StageConfig      `json:"prompt"`
	Response   StageConfig      `json:"response"`
	Moderation ModerationConfig `json:"moderation"`
}

type StageConfig struct {
	BlockedKeywords []string `json:"blocked_keywords"`
}

type ModerationConfig struct {
	Enabled           bool   `json:"enabled"`
	WebhookURL        string `json:"webhook_url"`
	WebhookAuthHeader string `json:"webhook_auth_header"`
	WebhookAuthValue  string `json:"webhook_auth_value"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
}

// IsEmpty reports whether the raw policy document carries no settings. An
// empty key-level policy inherits the tenant policy instead of replacing it.
func IsEmpty(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("null"))
}

// ParseConfig decodes a stored policy document. Malformed documents degrade
// to the zero config, which allows everything.
func ParseConfig(raw []byte) Config {
	var cfg Config
	if IsEmpty(raw) {
		return cfg
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
