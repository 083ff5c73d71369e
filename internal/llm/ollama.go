package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// OllamaProvider implements the Provider interface for an Ollama-compatible
// local generation server.
type OllamaProvider struct {
	baseProvider
	// streamClient has no overall timeout; a stream may legitimately run
	// longer than a single blocking call.
	streamClient *http.Client
}

// OllamaOption is a functional option for configuring OllamaProvider.
type OllamaOption func(*OllamaProvider)

// WithHTTPClient replaces the blocking-call HTTP client.
func WithHTTPClient(c *http.Client) OllamaOption {
	return func(p *OllamaProvider) {
		p.client = c
	}
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(cfg *ProviderConfig, opts ...OllamaOption) *OllamaProvider {
	p := &OllamaProvider{
		baseProvider: newBaseProvider(cfg, "ollama"),
	}
	p.streamClient = &http.Client{
		Transport: &http.Transport{
			// Headers arrive once the model starts answering, so this bounds
			// connection plus model load.
			ResponseHeaderTimeout: p.config.Timeout,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available checks that the server is reachable and has at least one model.
func (p *OllamaProvider) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	models, err := p.ListModels(ctx)
	return err == nil && len(models) > 0
}

// ListModels returns the model names installed on the server.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.fail("", transportKind(err), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.fail("", KindStatus, resp.StatusCode, fmt.Errorf("list models failed"))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Chat sends one blocking, non-streaming request to /api/chat.
func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	ollamaReq := p.buildRequest(req, false)

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.fail(ollamaReq.Model, transportKind(err), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := readLimitedBody(resp.Body, maxErrorBody)
		return nil, p.fail(ollamaReq.Model, KindStatus, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(bodyBytes))))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, p.fail(ollamaReq.Model, KindOther, 0, fmt.Errorf("decode response: %w", err))
	}

	content := strings.TrimSpace(chatResp.Message.Content)
	if content == "" {
		return nil, p.fail(ollamaReq.Model, KindEmpty, 0, fmt.Errorf("empty response from model"))
	}

	model := chatResp.Model
	if model == "" {
		model = ollamaReq.Model
	}

	return &ChatResponse{
		Content:          content,
		Model:            model,
		Provider:         p.Name(),
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
		TokensUsed:       chatResp.PromptEvalCount + chatResp.EvalCount,
		Duration:         time.Since(start),
		FinishReason:     chatResp.DoneReason,
		Attempts:         1,
	}, nil
}

// ChatStream streams /api/chat, calling onToken for each content fragment.
func (p *OllamaProvider) ChatStream(ctx context.Context, req *ChatRequest, onToken func(token string)) (*ChatResponse, error) {
	start := time.Now()

	ollamaReq := p.buildRequest(req, true)
	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		return nil, p.fail(ollamaReq.Model, transportKind(err), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := readLimitedBody(resp.Body, maxErrorBody)
		return nil, p.fail(ollamaReq.Model, KindStatus, resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(bodyBytes))))
	}

	var (
		full       strings.Builder
		totalBytes int64
		last       ollamaChatResponse
	)
	decoder := json.NewDecoder(resp.Body)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var chunk ollamaChatResponse
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return nil, p.fail(ollamaReq.Model, KindOther, 0, fmt.Errorf("decode stream chunk: %w", err))
		}

		if token := chunk.Message.Content; token != "" {
			totalBytes += int64(len(token))
			if totalBytes > maxStreamBytes {
				return nil, p.fail(ollamaReq.Model, KindOther, 0, fmt.Errorf("streamed reply exceeded %d bytes", maxStreamBytes))
			}
			full.WriteString(token)
			if onToken != nil {
				onToken(token)
			}
		}

		last = chunk
		if chunk.Done {
			break
		}
	}

	if strings.TrimSpace(full.String()) == "" {
		return nil, p.fail(ollamaReq.Model, KindEmpty, 0, fmt.Errorf("empty response from model"))
	}

	model := last.Model
	if model == "" {
		model = ollamaReq.Model
	}

	log.Debug().
		Str("model", model).
		Int("bytes", int(totalBytes)).
		Dur("duration", time.Since(start)).
		Msg("ollama stream complete")

	return &ChatResponse{
		Content:          full.String(),
		Model:            model,
		Provider:         p.Name(),
		PromptTokens:     last.PromptEvalCount,
		CompletionTokens: last.EvalCount,
		TokensUsed:       last.PromptEvalCount + last.EvalCount,
		Duration:         time.Since(start),
		FinishReason:     last.DoneReason,
		Attempts:         1,
	}, nil
}

// buildRequest converts a ChatRequest to Ollama's wire format.
func (p *OllamaProvider) buildRequest(req *ChatRequest, stream bool) ollamaChatRequest {
	ollamaReq := ollamaChatRequest{
		Model:  req.Model,
		Stream: stream,
	}
	if ollamaReq.Model == "" {
		ollamaReq.Model = p.config.Model
	}

	if req.SystemPrompt != "" {
		ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{Role: msg.Role, Content: msg.Content})
	}

	ollamaReq.Options.Temperature = req.Temperature
	if ollamaReq.Options.Temperature == 0 {
		ollamaReq.Options.Temperature = p.config.Temperature
	}
	ollamaReq.Options.NumPredict = req.MaxTokens
	if ollamaReq.Options.NumPredict == 0 {
		ollamaReq.Options.NumPredict = p.config.MaxTokens
	}
	ollamaReq.Options.TopP = p.config.TopP
	ollamaReq.Options.NumCtx = p.config.NumCtx

	return ollamaReq
}

func (p *OllamaProvider) fail(model string, kind ErrorKind, status int, err error) *ProviderError {
	return &ProviderError{Provider: p.Name(), Model: model, Kind: kind, StatusCode: status, Err: err}
}

// Ollama API types
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}
