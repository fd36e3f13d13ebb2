package llm

import (
	"strings"

	"agent-zero/internal/domain"
)

// protocol selects the wire transport used for a provider.
type protocol int

const (
	protocolOpenAI protocol = iota
	protocolAnthropic
	protocolGemini
)

// ProviderSpec describes one supported model provider.
type ProviderSpec struct {
	ID          string
	DisplayName string
	// BaseURL is the default OpenAI-compatible endpoint. Empty means the
	// provider needs base_url from configuration or uses a native SDK.
	BaseURL string

	protocol protocol
}

// The table is fixed at compile time and never mutated.
var providerSpecs = []ProviderSpec{
	{ID: "anthropic", DisplayName: "Anthropic", protocol: protocolAnthropic},
	{ID: "deepseek", DisplayName: "DeepSeek", BaseURL: "https://api.deepseek.com/v1"},
	{ID: "gemini", DisplayName: "Google", protocol: protocolGemini},
	{ID: "groq", DisplayName: "Groq", BaseURL: "https://api.groq.com/openai/v1"},
	{ID: "huggingface", DisplayName: "HuggingFace", BaseURL: "https://router.huggingface.co/v1"},
	{ID: "lm_studio", DisplayName: "LM Studio", BaseURL: "http://localhost:1234/v1"},
	{ID: "mistral", DisplayName: "Mistral AI", BaseURL: "https://api.mistral.ai/v1"},
	{ID: "ollama", DisplayName: "Ollama", BaseURL: "http://localhost:11434/v1"},
	{ID: "openai", DisplayName: "OpenAI", BaseURL: "https://api.openai.com/v1"},
	{ID: "azure", DisplayName: "OpenAI Azure"},
	{ID: "openrouter", DisplayName: "OpenRouter", BaseURL: "https://openrouter.ai/api/v1"},
	{ID: "sambanova", DisplayName: "Sambanova", BaseURL: "https://api.sambanova.ai/v1"},
	{ID: "other", DisplayName: "Other OpenAI compatible"},
}

// LookupProvider returns the spec for id. Matching is case-insensitive.
func LookupProvider(id string) (ProviderSpec, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	for _, p := range providerSpecs {
		if p.ID == key {
			return p, nil
		}
	}
	return ProviderSpec{}, domain.NewDomainError("LookupProvider", domain.ErrUnknownProvider, id)
}

// Providers returns a copy of the provider table in declaration order.
func Providers() []ProviderSpec {
	out := make([]ProviderSpec, len(providerSpecs))
	copy(out, providerSpecs)
	return out
}
