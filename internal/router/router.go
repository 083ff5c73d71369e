// Package router decides which model adapter answers a prompt.
//
// In local mode the local server is tried first and the cloud API is the
// fallback. In managed mode only the cloud API is used. Every outcome is
// normalized into a Result.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/nitro/internal/llm"
	"github.com/normanking/nitro/internal/metrics"
	"github.com/normanking/nitro/internal/platform"
)

// Source tags which path produced a Result.
type Source string

const (
	SourceLocal     Source = "local-success"
	SourceCloud     Source = "cloud-success"
	SourceExhausted Source = "error-fallback-exhausted"
)

// NoModel is the ModelID of a Result that no model produced.
const NoModel = "none"

// Result is the normalized routing envelope.
type Result struct {
	Text    string        `json:"text"`
	ModelID string        `json:"model_id"`
	Source  Source        `json:"source"`
	Latency time.Duration `json:"latency"`
}

// Failed reports whether the result carries remediation text instead of an answer.
func (r Result) Failed() bool { return r.Source == SourceExhausted }

// Streamer is implemented by adapters that can emit partial output.
type Streamer interface {
	Stream(ctx context.Context, prompt string, onToken func(string)) (*llm.ChatResponse, error)
}

// Router selects adapters per deployment mode. It holds no mutable state.
type Router struct {
	mode   platform.DeploymentMode
	modeFn func() platform.DeploymentMode
	local  llm.Generator
	cloud  llm.Generator
}

// Option configures a Router.
type Option func(*Router)

// WithModeFunc makes the router classify the environment on every call
// instead of using the mode given to New.
func WithModeFunc(fn func() platform.DeploymentMode) Option {
	return func(r *Router) { r.modeFn = fn }
}

// New creates a router. Either adapter may be nil, in which case that
// path is treated as unavailable.
func New(mode platform.DeploymentMode, local, cloud llm.Generator, opts ...Option) *Router {
	if mode == "" {
		mode = platform.ModeLocal
	}
	r := &Router{mode: mode, local: local, cloud: cloud}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mode returns the deployment mode the next call will use.
func (r *Router) Mode() platform.DeploymentMode {
	if r.modeFn != nil {
		if m := r.modeFn(); m != "" {
			return m
		}
	}
	return r.mode
}

// Route answers prompt. On terminal failure the returned Result carries the
// remediation text and the error is an *ExhaustedError.
func (r *Router) Route(ctx context.Context, prompt string) (Result, error) {
	start := time.Now()
	mode := r.Mode()
	exhausted := &ExhaustedError{Mode: mode}

	if mode == platform.ModeLocal {
		resp, err := r.generate(ctx, r.local, prompt)
		if err == nil {
			return r.finish(start, resp, SourceLocal), nil
		}
		exhausted.add("local", err)
		log.Warn().Err(err).Msg("local model failed, falling back to cloud")
	}

	resp, err := r.generate(ctx, r.cloud, prompt)
	if err == nil {
		return r.finish(start, resp, SourceCloud), nil
	}
	exhausted.add("cloud", err)

	return r.fail(start, exhausted), exhausted
}

// Stream answers prompt, calling onChunk with partial output. In local mode
// the local adapter streams when it can; the cloud path always delivers its
// whole answer as one chunk. A local failure after output has started is
// terminal, since the chunks already sent cannot be taken back.
func (r *Router) Stream(ctx context.Context, prompt string, onChunk func(string)) (Result, error) {
	start := time.Now()
	mode := r.Mode()
	exhausted := &ExhaustedError{Mode: mode}

	if mode == platform.ModeLocal && r.local != nil {
		emitted := false
		emit := func(s string) {
			emitted = true
			onChunk(s)
		}

		var (
			resp *llm.ChatResponse
			err  error
		)
		if s, ok := r.local.(Streamer); ok {
			resp, err = s.Stream(ctx, prompt, emit)
		} else {
			resp, err = r.local.Generate(ctx, prompt)
			if err == nil {
				emit(resp.Content)
			}
		}
		if err == nil {
			return r.finish(start, resp, SourceLocal), nil
		}
		exhausted.add("local", err)
		if emitted {
			return r.fail(start, exhausted), exhausted
		}
	} else if mode == platform.ModeLocal {
		exhausted.add("local", errNotConfigured)
	}

	resp, err := r.generate(ctx, r.cloud, prompt)
	if err == nil {
		onChunk(resp.Content)
		return r.finish(start, resp, SourceCloud), nil
	}
	exhausted.add("cloud", err)

	return r.fail(start, exhausted), exhausted
}

// Summarize routes prompt and returns only the text, for callers that treat
// the router as a plain text generator.
func (r *Router) Summarize(ctx context.Context, prompt string) (string, error) {
	res, err := r.Route(ctx, prompt)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (r *Router) generate(ctx context.Context, g llm.Generator, prompt string) (*llm.ChatResponse, error) {
	if g == nil {
		return nil, errNotConfigured
	}
	return g.Generate(ctx, prompt)
}

func (r *Router) finish(start time.Time, resp *llm.ChatResponse, source Source) Result {
	metrics.RouteOutcomes.WithLabelValues(string(source)).Inc()
	res := Result{
		Text:    resp.Content,
		ModelID: resp.Model,
		Source:  source,
		Latency: time.Since(start),
	}
	log.Info().
		Str("model", res.ModelID).
		Str("source", string(source)).
		Int("attempts", resp.Attempts).
		Dur("latency", res.Latency).
		Msg("prompt routed")
	return res
}

func (r *Router) fail(start time.Time, exhausted *ExhaustedError) Result {
	metrics.RouteOutcomes.WithLabelValues(string(SourceExhausted)).Inc()
	log.Error().Err(exhausted).Str("mode", exhausted.Mode.String()).Msg("all model adapters failed")
	return Result{
		Text:    Remediation(exhausted),
		ModelID: NoModel,
		Source:  SourceExhausted,
		Latency: time.Since(start),
	}
}

// Attempt records one adapter's failure.
type Attempt struct {
	Adapter string
	Err     error
}

// ExhaustedError is returned when every adapter allowed by the mode failed.
type ExhaustedError struct {
	Mode     platform.DeploymentMode
	Attempts []Attempt
}

func (e *ExhaustedError) add(adapter string, err error) {
	e.Attempts = append(e.Attempts, Attempt{Adapter: adapter, Err: err})
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Adapter, a.Err))
	}
	return fmt.Sprintf("all adapters failed in %s mode (%s)", e.Mode, strings.Join(parts, "; "))
}

// Unwrap exposes every attempt's error to errors.Is and errors.As.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
