package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LOCAL ADAPTER (bounded retry on transient failures)
// ═══════════════════════════════════════════════════════════════════════════════

// DefaultLocalRetries is how many times a transient local failure is retried.
const DefaultLocalRetries = 2

// DefaultSystemPrompt is the preamble sent with every prompt.
const DefaultSystemPrompt = "You are Nitro AI, a helpful and friendly assistant. Answer clearly and concisely."

// LocalAdapter sends prompts to the local generation server.
//
// Connection-refused and timeout failures are retried up to MaxRetries times
// back to back with no delay. A non-2xx status or an empty reply is returned
// at once.
type LocalAdapter struct {
	provider     Provider
	model        string
	systemPrompt string
	maxRetries   int
}

// LocalOption configures a LocalAdapter.
type LocalOption func(*LocalAdapter)

// WithMaxRetries sets the retry bound for transient failures.
func WithMaxRetries(n int) LocalOption {
	return func(a *LocalAdapter) {
		if n >= 0 {
			a.maxRetries = n
		}
	}
}

// WithSystemPrompt overrides DefaultSystemPrompt.
func WithSystemPrompt(s string) LocalOption {
	return func(a *LocalAdapter) {
		if s != "" {
			a.systemPrompt = s
		}
	}
}

// WithModel pins the model name sent on every request.
func WithModel(m string) LocalOption {
	return func(a *LocalAdapter) { a.model = m }
}

// NewLocalAdapter wraps a provider with the local retry policy.
func NewLocalAdapter(p Provider, opts ...LocalOption) *LocalAdapter {
	a := &LocalAdapter{
		provider:     p,
		systemPrompt: DefaultSystemPrompt,
		maxRetries:   DefaultLocalRetries,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the wrapped provider's name.
func (a *LocalAdapter) Name() string { return a.provider.Name() }

// Generate runs the prompt with the retry policy.
func (a *LocalAdapter) Generate(ctx context.Context, prompt string) (*ChatResponse, error) {
	req := userRequest(a.model, a.systemPrompt, prompt)

	var lastErr error
	for attempt := 1; attempt <= a.maxRetries+1; attempt++ {
		resp, err := a.provider.Chat(ctx, req)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		lastErr = err

		if !IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_retries", a.maxRetries).
			Msg("local model unreachable, retrying")
	}

	return nil, lastErr
}

// Stream runs the prompt through the provider's streaming API when it has
// one. Transient failures are retried only while no token has been emitted.
func (a *LocalAdapter) Stream(ctx context.Context, prompt string, onToken func(string)) (*ChatResponse, error) {
	sp, ok := a.provider.(StreamingProvider)
	if !ok {
		resp, err := a.Generate(ctx, prompt)
		if err != nil {
			return nil, err
		}
		onToken(resp.Content)
		return resp, nil
	}

	req := userRequest(a.model, a.systemPrompt, prompt)
	emitted := false
	wrapped := func(tok string) {
		emitted = true
		onToken(tok)
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxRetries+1; attempt++ {
		resp, err := sp.ChatStream(ctx, req, wrapped)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		lastErr = err
		if emitted || !IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// ═══════════════════════════════════════════════════════════════════════════════
// CLOUD ADAPTER (priority-ordered model fallback chain)
// ═══════════════════════════════════════════════════════════════════════════════

// CloudAdapter walks a priority-ordered model list. An auth failure stops the
// walk; any other failure moves on to the next model. A model is never retried.
type CloudAdapter struct {
	provider     Provider
	models       []string
	systemPrompt string
}

// NewCloudAdapter wraps a provider with the model fallback chain.
func NewCloudAdapter(p Provider, models []string, systemPrompt string) *CloudAdapter {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &CloudAdapter{
		provider:     p,
		models:       append([]string(nil), models...),
		systemPrompt: systemPrompt,
	}
}

// Name returns the wrapped provider's name.
func (c *CloudAdapter) Name() string { return c.provider.Name() }

// Models returns the fallback chain in priority order.
func (c *CloudAdapter) Models() []string { return append([]string(nil), c.models...) }

// Generate tries each model in order until one answers.
func (c *CloudAdapter) Generate(ctx context.Context, prompt string) (*ChatResponse, error) {
	if len(c.models) == 0 {
		return nil, &ProviderError{Provider: c.Name(), Kind: KindOther, Err: ErrNoModels}
	}

	var lastErr error
	for i, model := range c.models {
		resp, err := c.provider.Chat(ctx, userRequest(model, c.systemPrompt, prompt))
		if err == nil {
			resp.Attempts = i + 1
			return resp, nil
		}
		lastErr = err

		if IsAuth(err) {
			log.Error().Err(err).Str("model", model).Msg("cloud authentication failed, not trying further models")
			return nil, err
		}

		log.Warn().
			Err(err).
			Str("model", model).
			Str("kind", KindOf(err).String()).
			Msg("cloud model failed, trying next")

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w (tried %s): last error: %w", ErrModelsExhausted, strings.Join(c.models, ", "), lastErr)
}
