package catalog

import "strings"

var providerAliases = map[string]string{
	"openai-compatible": "openai_compatible",
	"azure_openai":      "azure",
}

// NormalizeProviderSlug canonicalizes provider family identifiers so config,
// database rows, and the admin API agree on the same names.
func NormalizeProviderSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	if slug == "" {
		return ""
	}
	if canonical, ok := providerAliases[slug]; ok {
		return canonical
	}
	return slug
}
