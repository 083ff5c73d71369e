// Package llm provides the model client adapters for Nitro: an Ollama
// provider for the local generation server, a Gemini provider for the cloud
// API, and the retry and fallback policies wrapped around them.
package llm

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Read caps for model server replies.
const (
	// maxErrorBody is how much of a non-2xx body is kept for the error text.
	maxErrorBody = 1 << 20
	// maxStreamBytes ends a streamed reply that keeps growing past it.
	maxStreamBytes = 50 << 20
)

// readLimitedBody reads up to maxBytes from r.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Provider defines the interface for LLM providers.
type Provider interface {
	// Chat sends a message and returns the response. One call is one attempt.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier.
	Name() string

	// Available returns true if the provider is configured and reachable.
	Available() bool
}

// StreamingProvider extends Provider with streaming support.
type StreamingProvider interface {
	Provider
	// ChatStream is like Chat but calls onToken for each token as it's generated.
	// Returns the complete response when done.
	ChatStream(ctx context.Context, req *ChatRequest, onToken func(token string)) (*ChatResponse, error)
}

// Generator is the adapter contract consumed by the router: one prompt in,
// one normalized response out, with the adapter's own retry or fallback
// policy applied.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*ChatResponse, error)
	Name() string
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	// Model to use (provider-specific).
	Model string `json:"model"`

	// SystemPrompt sets the AI's behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages in the conversation.
	Messages []Message `json:"messages"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `json:"temperature,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatResponse contains the LLM's response.
type ChatResponse struct {
	Content          string        `json:"content"`
	Model            string        `json:"model"`
	Provider         string        `json:"provider"`
	TokensUsed       int           `json:"tokens_used,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Duration         time.Duration `json:"duration"`
	FinishReason     string        `json:"finish_reason,omitempty"`
	// Attempts counts the network attempts an adapter made to produce this.
	Attempts int `json:"attempts,omitempty"`
}

// ProviderConfig contains configuration for an LLM provider.
type ProviderConfig struct {
	// Name identifies the provider (ollama, gemini).
	Name string

	// Endpoint is the API base URL.
	Endpoint string

	// APIKey for authentication.
	APIKey string

	// Model is the default model to use.
	Model string

	// Decoding parameters.
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
	NumCtx      int

	// Timeout for a single API call.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for a provider.
func DefaultConfig(name string) *ProviderConfig {
	switch name {
	case "ollama":
		return &ProviderConfig{
			Name:        "ollama",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3",
			MaxTokens:   800,
			Temperature: 0.7,
			TopP:        0.9,
			NumCtx:      2048,
			Timeout:     45 * time.Second,
		}
	case "gemini":
		return &ProviderConfig{
			Name:        "gemini",
			Endpoint:    "https://generativelanguage.googleapis.com/v1beta",
			Model:       "gemini-2.0-flash",
			MaxTokens:   500,
			Temperature: 0.7,
			TopP:        0.9,
			TopK:        40,
			Timeout:     30 * time.Second,
		}
	default:
		return &ProviderConfig{
			Name:        name,
			MaxTokens:   500,
			Temperature: 0.7,
			Timeout:     30 * time.Second,
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED HTTP PROVIDER STATE
// ═══════════════════════════════════════════════════════════════════════════════

// baseProvider holds the config and HTTP client shared by Ollama and Gemini.
type baseProvider struct {
	config *ProviderConfig
	client *http.Client
}

// newBaseProvider fills unset fields of cfg from DefaultConfig(providerName).
func newBaseProvider(cfg *ProviderConfig, providerName string) baseProvider {
	if cfg == nil {
		cfg = DefaultConfig(providerName)
	}

	defaults := DefaultConfig(providerName)
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaults.Temperature
	}
	if cfg.TopP == 0 {
		cfg.TopP = defaults.TopP
	}
	if cfg.TopK == 0 {
		cfg.TopK = defaults.TopK
	}
	if cfg.NumCtx == 0 {
		cfg.NumCtx = defaults.NumCtx
	}
	cfg.Name = providerName

	return baseProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the provider identifier.
func (b *baseProvider) Name() string {
	return b.config.Name
}

// Available checks if the API key is configured.
func (b *baseProvider) Available() bool {
	return b.config.APIKey != ""
}

// Config returns the effective provider configuration.
func (b *baseProvider) Config() ProviderConfig {
	return *b.config
}

// userRequest builds the single-turn request the adapters send.
func userRequest(model, system, prompt string) *ChatRequest {
	return &ChatRequest{
		Model:        model,
		SystemPrompt: system,
		Messages:     []Message{{Role: "user", Content: prompt}},
	}
}
