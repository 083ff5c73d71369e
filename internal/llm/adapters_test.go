package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/nitro/internal/metrics"
)

// scriptedProvider replays one outcome per call and records the requests.
type scriptedProvider struct {
	name string

	mu       sync.Mutex
	errs     []error
	requests []*ChatRequest
	stream   []string
}

func (p *scriptedProvider) Name() string    { return p.name }
func (p *scriptedProvider) Available() bool { return true }

func (p *scriptedProvider) next(req *ChatRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

func (p *scriptedProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := p.next(req); err != nil {
		return nil, err
	}
	return &ChatResponse{Content: "ok from " + req.Model, Model: req.Model, Provider: p.name}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.requests))
	for i, r := range p.requests {
		out[i] = r.Model
	}
	return out
}

type streamingScriptedProvider struct {
	*scriptedProvider
}

func (p streamingScriptedProvider) ChatStream(ctx context.Context, req *ChatRequest, onToken func(string)) (*ChatResponse, error) {
	if err := p.next(req); err != nil {
		return nil, err
	}
	for _, tok := range p.stream {
		onToken(tok)
	}
	return &ChatResponse{Content: "streamed", Model: req.Model}, nil
}

func kindErr(kind ErrorKind) error {
	return &ProviderError{Provider: "fake", Kind: kind, Err: errors.New(kind.String())}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOCAL ADAPTER
// ═══════════════════════════════════════════════════════════════════════════════

func TestLocalAdapter_RetriesTransientUpToBound(t *testing.T) {
	p := &scriptedProvider{name: "ollama", errs: []error{kindErr(KindTransient), kindErr(KindTransient)}}
	a := NewLocalAdapter(p, WithModel("llama3"))

	resp, err := a.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 3, p.calls())
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, DefaultSystemPrompt, p.requests[0].SystemPrompt)
	assert.Equal(t, "llama3", p.requests[0].Model)
}

func TestLocalAdapter_GivesUpAfterRetries(t *testing.T) {
	p := &scriptedProvider{name: "ollama", errs: []error{
		kindErr(KindTransient), kindErr(KindTransient), kindErr(KindTransient), kindErr(KindTransient),
	}}
	a := NewLocalAdapter(p)

	_, err := a.Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, DefaultLocalRetries+1, p.calls())
}

func TestLocalAdapter_NoRetryOnApplicationFailure(t *testing.T) {
	for _, kind := range []ErrorKind{KindStatus, KindEmpty, KindOther} {
		t.Run(kind.String(), func(t *testing.T) {
			p := &scriptedProvider{name: "ollama", errs: []error{kindErr(kind)}}
			_, err := NewLocalAdapter(p).Generate(context.Background(), "hi")
			require.Error(t, err)
			assert.Equal(t, kind, KindOf(err))
			assert.Equal(t, 1, p.calls())
		})
	}
}

func TestLocalAdapter_ZeroRetries(t *testing.T) {
	p := &scriptedProvider{name: "ollama", errs: []error{kindErr(KindTransient)}}
	_, err := NewLocalAdapter(p, WithMaxRetries(0)).Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, 1, p.calls())
}

func TestLocalAdapter_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &scriptedProvider{name: "ollama", errs: []error{kindErr(KindTransient), kindErr(KindTransient)}}
	_, err := NewLocalAdapter(p).Generate(ctx, "hi")
	require.Error(t, err)
	assert.Equal(t, 1, p.calls())
}

func TestLocalAdapter_Stream(t *testing.T) {
	p := streamingScriptedProvider{&scriptedProvider{name: "ollama", stream: []string{"a", "b"}}}

	var got []string
	resp, err := NewLocalAdapter(p).Stream(context.Background(), "hi", func(tok string) { got = append(got, tok) })
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, "streamed", resp.Content)
}

func TestLocalAdapter_StreamWithoutStreamingProvider(t *testing.T) {
	p := &scriptedProvider{name: "plain"}

	var got []string
	_, err := NewLocalAdapter(p, WithModel("m")).Stream(context.Background(), "hi", func(tok string) { got = append(got, tok) })
	require.NoError(t, err)
	assert.Equal(t, []string{"ok from m"}, got)
}

// ═══════════════════════════════════════════════════════════════════════════════
// CLOUD ADAPTER
// ═══════════════════════════════════════════════════════════════════════════════

var testModels = []string{"gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro"}

func TestCloudAdapter_FirstModelWins(t *testing.T) {
	p := &scriptedProvider{name: "gemini"}
	resp, err := NewCloudAdapter(p, testModels, "").Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", resp.Model)
	assert.Equal(t, 1, p.calls())
}

func TestCloudAdapter_FallsThroughQuotaAndOther(t *testing.T) {
	p := &scriptedProvider{name: "gemini", errs: []error{kindErr(KindQuota), kindErr(KindStatus)}}
	resp, err := NewCloudAdapter(p, testModels, "").Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", resp.Model)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, testModels, p.models())
}

func TestCloudAdapter_AuthIsTerminal(t *testing.T) {
	p := &scriptedProvider{name: "gemini", errs: []error{kindErr(KindQuota), kindErr(KindAuth)}}
	_, err := NewCloudAdapter(p, testModels, "").Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, IsAuth(err))
	assert.False(t, errors.Is(err, ErrModelsExhausted))
	assert.Equal(t, 2, p.calls())
}

func TestCloudAdapter_Exhausted(t *testing.T) {
	p := &scriptedProvider{name: "gemini", errs: []error{
		kindErr(KindOther), kindErr(KindOther), kindErr(KindQuota),
	}}
	_, err := NewCloudAdapter(p, testModels, "").Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelsExhausted)
	assert.True(t, IsQuota(err), "last underlying error is preserved")
	assert.Contains(t, err.Error(), "last error")
	assert.Equal(t, 3, p.calls())
}

func TestCloudAdapter_NoModels(t *testing.T) {
	p := &scriptedProvider{name: "gemini"}
	_, err := NewCloudAdapter(p, nil, "").Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoModels)
	assert.Zero(t, p.calls())
}

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS PROVIDER
// ═══════════════════════════════════════════════════════════════════════════════

func TestMetricsProvider_CountsEveryAttempt(t *testing.T) {
	name := "metrics-test"
	p := &scriptedProvider{name: name, errs: []error{kindErr(KindTransient)}}
	mp := NewMetricsProvider(p)

	_, err := NewLocalAdapter(mp, WithModel("m1")).Generate(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LLMRequests.WithLabelValues(name, "m1", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LLMRequests.WithLabelValues(name, "m1", "success")))

	snap := mp.GetMetrics()
	assert.Equal(t, int64(2), snap["total_calls"])
	assert.Equal(t, int64(1), snap["total_errors"])
	assert.Equal(t, map[string]int64{"transient": 1}, snap["error_kinds"])
}

func TestMetricsProvider_StreamFallsBackToChat(t *testing.T) {
	mp := NewMetricsProvider(&scriptedProvider{name: "plain-stream"})

	var got string
	_, err := mp.ChatStream(context.Background(), userRequest("m", "", "hi"), func(tok string) { got += tok })
	require.NoError(t, err)
	assert.Equal(t, "ok from m", got)
}
