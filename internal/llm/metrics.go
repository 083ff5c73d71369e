package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/nitro/internal/metrics"
)

// MetricsProvider wraps a provider with timing and metrics collection.
// Every attempt made by an adapter passes through here, so retries and model
// fallbacks each show up as their own call.
type MetricsProvider struct {
	provider Provider
	name     string

	totalCalls  int64
	totalErrors int64
	totalTokens int64

	mu           sync.RWMutex
	totalLatency time.Duration
	maxLatency   time.Duration
	modelStats   map[string]*ModelMetrics
	kindCounts   map[string]int64
}

// ModelMetrics tracks per-model performance.
type ModelMetrics struct {
	Calls        int64
	Errors       int64
	TotalLatency time.Duration
}

// NewMetricsProvider wraps a provider with metrics collection.
func NewMetricsProvider(provider Provider) *MetricsProvider {
	return &MetricsProvider{
		provider:   provider,
		name:       provider.Name(),
		modelStats: make(map[string]*ModelMetrics),
		kindCounts: make(map[string]int64),
	}
}

// Chat implements Provider with metrics.
func (m *MetricsProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := m.provider.Chat(ctx, req)
	m.record(req, resp, err, time.Since(start))
	return resp, err
}

// ChatStream forwards to the wrapped provider's streaming API. A provider
// without one is called once and its full reply is emitted as a single token.
func (m *MetricsProvider) ChatStream(ctx context.Context, req *ChatRequest, onToken func(token string)) (*ChatResponse, error) {
	start := time.Now()

	var (
		resp *ChatResponse
		err  error
	)
	if sp, ok := m.provider.(StreamingProvider); ok {
		resp, err = sp.ChatStream(ctx, req, onToken)
	} else {
		resp, err = m.provider.Chat(ctx, req)
		if err == nil {
			onToken(resp.Content)
		}
	}

	m.record(req, resp, err, time.Since(start))
	return resp, err
}

func (m *MetricsProvider) record(req *ChatRequest, resp *ChatResponse, err error, latency time.Duration) {
	model := req.Model
	if resp != nil && resp.Model != "" {
		model = resp.Model
	}

	outcome := "success"
	atomic.AddInt64(&m.totalCalls, 1)
	if err != nil {
		outcome = KindOf(err).String()
		atomic.AddInt64(&m.totalErrors, 1)
	}
	if resp != nil {
		atomic.AddInt64(&m.totalTokens, int64(resp.TokensUsed))
	}

	metrics.LLMRequests.WithLabelValues(m.name, model, outcome).Inc()
	metrics.LLMLatency.WithLabelValues(m.name).Observe(latency.Seconds())

	m.mu.Lock()
	m.totalLatency += latency
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	stats, ok := m.modelStats[model]
	if !ok {
		stats = &ModelMetrics{}
		m.modelStats[model] = stats
	}
	stats.Calls++
	stats.TotalLatency += latency
	if err != nil {
		stats.Errors++
		m.kindCounts[outcome]++
	}
	m.mu.Unlock()

	if err != nil {
		log.Warn().
			Str("provider", m.name).
			Str("model", model).
			Dur("latency", latency).
			Err(err).
			Msg("model call failed")
		return
	}
	log.Debug().
		Str("provider", m.name).
		Str("model", model).
		Dur("latency", latency).
		Int("tokens", resp.TokensUsed).
		Msg("model call completed")
}

// Name implements Provider.
func (m *MetricsProvider) Name() string { return m.name }

// Available implements Provider.
func (m *MetricsProvider) Available() bool { return m.provider.Available() }

// GetMetrics returns a snapshot of the collected counters.
func (m *MetricsProvider) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := atomic.LoadInt64(&m.totalCalls)
	errs := atomic.LoadInt64(&m.totalErrors)

	var avgLatency time.Duration
	var errorRate float64
	if calls > 0 {
		avgLatency = m.totalLatency / time.Duration(calls)
		errorRate = float64(errs) / float64(calls)
	}

	models := make(map[string]interface{}, len(m.modelStats))
	for model, s := range m.modelStats {
		var avg time.Duration
		if s.Calls > 0 {
			avg = s.TotalLatency / time.Duration(s.Calls)
		}
		models[model] = map[string]interface{}{
			"calls":          s.Calls,
			"errors":         s.Errors,
			"avg_latency_ms": avg.Milliseconds(),
		}
	}

	kinds := make(map[string]int64, len(m.kindCounts))
	for k, v := range m.kindCounts {
		kinds[k] = v
	}

	return map[string]interface{}{
		"provider":       m.name,
		"total_calls":    calls,
		"total_errors":   errs,
		"error_rate":     errorRate,
		"error_kinds":    kinds,
		"total_tokens":   atomic.LoadInt64(&m.totalTokens),
		"avg_latency_ms": avgLatency.Milliseconds(),
		"max_latency_ms": m.maxLatency.Milliseconds(),
		"models":         models,
	}
}
