package llm

import (
	"os"

	"github.com/normanking/nitro/internal/config"
)

// NewLocalFromConfig builds the local adapter described by cfg.Local.
// The provider is wrapped with MetricsProvider.
func NewLocalFromConfig(cfg *config.Config) (*LocalAdapter, *MetricsProvider) {
	lc := cfg.Local
	provider := NewMetricsProvider(NewOllamaProvider(&ProviderConfig{
		Endpoint:    lc.Endpoint,
		Model:       lc.Model,
		MaxTokens:   lc.MaxTokens,
		Temperature: lc.Temperature,
		TopP:        lc.TopP,
		NumCtx:      lc.NumCtx,
		Timeout:     lc.Timeout,
	}))

	adapter := NewLocalAdapter(provider,
		WithModel(lc.Model),
		WithMaxRetries(lc.MaxRetries),
		WithSystemPrompt(lc.SystemPrompt),
	)
	return adapter, provider
}

// NewCloudFromConfig builds the cloud adapter described by cfg.Cloud.
// A missing key in the file falls back to the standard environment variable.
func NewCloudFromConfig(cfg *config.Config) (*CloudAdapter, *MetricsProvider) {
	cc := cfg.Cloud
	apiKey := cc.APIKey
	if apiKey == "" {
		apiKey = getAPIKeyFromEnv("gemini")
	}

	var model string
	if len(cc.Models) > 0 {
		model = cc.Models[0]
	}

	provider := NewMetricsProvider(NewGeminiProvider(&ProviderConfig{
		Endpoint:    cc.Endpoint,
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   cc.MaxTokens,
		Temperature: cc.Temperature,
		TopP:        cc.TopP,
		TopK:        cc.TopK,
		Timeout:     cc.Timeout,
	}))

	return NewCloudAdapter(provider, cc.Models, cfg.Local.SystemPrompt), provider
}

// getAPIKeyFromEnv retrieves the API key from standard environment variables.
func getAPIKeyFromEnv(providerName string) string {
	envVars := map[string]string{
		"gemini": "GEMINI_API_KEY",
	}
	if envVar, ok := envVars[providerName]; ok {
		return os.Getenv(envVar)
	}
	return ""
}
