package gateway

// ProviderConfig is one entry in the static provider catalog. Entries are
// immutable after construction; the active provider is a settings-level
// pointer into this catalog.
type ProviderConfig struct {
	ID          string
	DisplayName string
	Endpoint    string
	ModelID     string
	MaxTokens   int
	Temperature float64
}

// Provider ids.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	// DefaultProviderID is used when no active provider has been chosen.
	DefaultProviderID = ProviderGemini
)

// catalog is the fixed set of supported providers.
var catalog = map[string]ProviderConfig{
	ProviderGemini: {
		ID:          ProviderGemini,
		DisplayName: "Google Gemini",
		Endpoint:    "https://generativelanguage.googleapis.com/v1beta/models",
		ModelID:     "gemini-2.5-flash",
		MaxTokens:   8192,
		Temperature: 0.7,
	},
	ProviderOpenAI: {
		ID:          ProviderOpenAI,
		DisplayName: "OpenAI GPT-4",
		Endpoint:    "https://api.openai.com/v1/chat/completions",
		ModelID:     "gpt-4-turbo",
		MaxTokens:   4096,
		Temperature: 0.7,
	},
	ProviderAnthropic: {
		ID:          ProviderAnthropic,
		DisplayName: "Anthropic Claude",
		Endpoint:    "https://api.anthropic.com/v1/messages",
		ModelID:     "claude-3-5-sonnet-20241022",
		MaxTokens:   4096,
		Temperature: 0.7,
	},
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (ProviderConfig, bool) {
	cfg, ok := catalog[id]
	return cfg, ok
}

// Providers returns the catalog entries in a stable order.
func Providers() []ProviderConfig {
	return []ProviderConfig{
		catalog[ProviderGemini],
		catalog[ProviderOpenAI],
		catalog[ProviderAnthropic],
	}
}
