package config

// ProviderOverrides carries per-deployment provider settings for a catalog
// entry. Only the block matching the entry's provider family is consulted.
type ProviderOverrides struct {
	Azure            *AzureProviderConfig            `mapstructure:"azure" json:"azure,omitempty"`
	Bedrock          *BedrockProviderConfig          `mapstructure:"bedrock" json:"bedrock,omitempty"`
	OpenAI           *OpenAIProviderConfig           `mapstructure:"openai" json:"openai,omitempty"`
	OpenAICompatible *OpenAICompatibleProviderConfig `mapstructure:"openai_compatible" json:"openai_compatible,omitempty"`
	Anthropic        *AnthropicProviderConfig        `mapstructure:"anthropic" json:"anthropic,omitempty"`
}

type AzureProviderConfig struct {
	Deployment string `mapstructure:"deployment" json:"deployment"`
	Endpoint   string `mapstructure:"endpoint" json:"endpoint"`
	APIKey     string `mapstructure:"api_key" json:"api_key"`
	APIVersion string `mapstructure:"api_version" json:"api_version"`
	Region     string `mapstructure:"region" json:"region"`
}

type BedrockProviderConfig struct {
	Region           string `mapstructure:"region" json:"region"`
	DefaultMaxTokens int32  `mapstructure:"default_max_tokens" json:"default_max_tokens"`
	AnthropicVersion string `mapstructure:"anthropic_version" json:"anthropic_version"`
	AccessKeyID      string `mapstructure:"aws_access_key_id" json:"aws_access_key_id"`
	SecretAccessKey  string `mapstructure:"aws_secret_access_key" json:"aws_secret_access_key"`
	SessionToken     string `mapstructure:"aws_session_token" json:"aws_session_token"`
	RoleARN          string `mapstructure:"role_arn" json:"role_arn"`
	Profile          string `mapstructure:"aws_profile" json:"aws_profile"`
}

type OpenAIProviderConfig struct {
	APIKey       string `mapstructure:"api_key" json:"api_key"`
	Organization string `mapstructure:"organization" json:"organization"`
	BaseURL      string `mapstructure:"base_url" json:"base_url"`
}

type OpenAICompatibleProviderConfig struct {
	BaseURL      string `mapstructure:"base_url" json:"base_url"`
	APIKey       string `mapstructure:"api_key" json:"api_key"`
	Organization string `mapstructure:"organization" json:"organization"`
}

type AnthropicProviderConfig struct {
	APIKey  string `mapstructure:"api_key" json:"api_key"`
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	Version string `mapstructure:"version" json:"version"`
}
