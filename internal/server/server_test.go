package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/nitro/internal/agents"
	"github.com/normanking/nitro/internal/config"
	"github.com/normanking/nitro/internal/llm"
	"github.com/normanking/nitro/internal/media"
	"github.com/normanking/nitro/internal/memory"
	"github.com/normanking/nitro/internal/metrics"
	"github.com/normanking/nitro/internal/platform"
	"github.com/normanking/nitro/internal/router"
	"github.com/normanking/nitro/internal/search"
)

// fakeModel answers every prompt with text, or fails with err, after delay.
type fakeModel struct {
	name   string
	text   string
	chunks []string
	err    error
	delay  time.Duration
}

func (f *fakeModel) Name() string { return f.name }

func (f *fakeModel) wait(ctx context.Context) error {
	if f.delay == 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeModel) Generate(ctx context.Context, prompt string) (*llm.ChatResponse, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.text, Model: f.name, Attempts: 1}, nil
}

// streamingModel also implements router.Streamer.
type streamingModel struct{ fakeModel }

func (f *streamingModel) Stream(ctx context.Context, prompt string, onToken func(string)) (*llm.ChatResponse, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.chunks {
		onToken(c)
	}
	return &llm.ChatResponse{Content: strings.Join(f.chunks, ""), Model: f.name, Attempts: 1}, nil
}

type fakeSearcher struct {
	query     string
	summarize bool
}

func (f *fakeSearcher) Search(ctx context.Context, query string, summarize bool) search.Result {
	f.query, f.summarize = query, summarize
	return search.Result{Status: search.StatusSuccess, Query: query, Summary: "summary"}
}

var errRefused = &llm.ProviderError{Provider: "ollama", Kind: llm.KindTransient, Err: errors.New("connection refused")}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Limits.RateLimitPerMinute = 0
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	return cfg
}

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	backend, err := memory.NewJSONBackend(filepath.Join(t.TempDir(), "conversations.json"))
	require.NoError(t, err)
	store, err := memory.New(context.Background(), backend)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestServer(t *testing.T, cfg *config.Config, local llm.Generator, mutate ...func(*Deps)) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	deps := Deps{
		Config: cfg,
		Store:  newTestStore(t),
		Router: router.New(platform.ModeLocal, local, nil),
		Platform: platform.Report{
			Mode:     platform.ModeLocal,
			LocalURL: cfg.Local.Endpoint,
		},
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	return New(deps)
}

func do(t *testing.T, s *Server, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t, nil, &fakeModel{name: "llama3", text: "hi"})

	rec := do(t, s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode[RootResponse](t, rec)
	assert.Equal(t, "running", root.Status)
	assert.Equal(t, config.Version, root.Version)
	assert.Contains(t, root.Features, "Web search")
	assert.NotContains(t, root.Features, "Video generation")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, rec.Header().Get("X-Process-Time"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "json", health.MemoryStats.Backend)
	assert.Equal(t, platform.ModeLocal, health.Deployment.Mode)
}

func TestHSTSOnlyOverHTTPS(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodGet, "/", nil, "X-Forwarded-Proto", "https")
	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=31536000")
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := do(t, s, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decode[ErrorResponse](t, rec).Detail)

	rec = do(t, s, http.MethodGet, "/chat", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChat_Validation(t *testing.T) {
	s := newTestServer(t, nil, &fakeModel{name: "llama3", text: "hi"})

	rec := do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Message cannot be empty", decode[ErrorResponse](t, rec).Detail)

	rec = do(t, s, http.MethodPost, "/chat", ChatRequest{Message: strings.Repeat("a", 1001)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Message too long. Maximum 1000 characters allowed.", decode[ErrorResponse](t, rec).Detail)

	// The limit counts characters, not bytes.
	rec = do(t, s, http.MethodPost, "/chat", ChatRequest{Message: strings.Repeat("é", 1000)})
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChat_LocalSuccessIsStored(t *testing.T) {
	s := newTestServer(t, nil, &fakeModel{name: "llama3", text: "Hello there"})

	rec := do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "  Hi  "})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ChatResponse](t, rec)
	assert.Equal(t, "Hello there", resp.Response)
	assert.Equal(t, "llama3", resp.AIModel)
	assert.Equal(t, "ollama_local", resp.AISource)
	assert.Equal(t, "anonymous", resp.UserID)
	assert.Equal(t, "success", resp.Status)
	require.NotEmpty(t, resp.SessionID)

	rec = do(t, s, http.MethodGet, "/history/"+resp.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decode[memory.Session](t, rec)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "Hi", sess.Messages[0].Message)
	assert.Equal(t, "Hello there", sess.Messages[0].Response)
	assert.Equal(t, "llama3", sess.Messages[0].Model)
	assert.Equal(t, "ollama_local", sess.Messages[0].Source)

	// A second message reuses the session.
	rec = do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "again", SessionID: resp.SessionID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, resp.SessionID, decode[ChatResponse](t, rec).SessionID)

	sess = decode[memory.Session](t, do(t, s, http.MethodGet, "/history/"+resp.SessionID, nil))
	assert.Equal(t, 2, sess.MessageCount)
}

func TestChat_ExhaustedReturnsRemediation(t *testing.T) {
	s := newTestServer(t, nil, &fakeModel{name: "llama3", err: errRefused})

	rec := do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "Hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ChatResponse](t, rec)
	assert.Equal(t, router.NoModel, resp.AIModel)
	assert.Equal(t, "error", resp.AISource)
	assert.True(t, strings.HasPrefix(resp.Response, "**The local AI model is not running**"), resp.Response)

	sess := decode[memory.Session](t, do(t, s, http.MethodGet, "/history/"+resp.SessionID, nil))
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, resp.Response, sess.Messages[0].Response)
}

func TestChat_UnknownSessionIsNotCreated(t *testing.T) {
	s := newTestServer(t, nil, &fakeModel{name: "llama3", text: "ok"})

	rec := do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "Hi", SessionID: "missing"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "missing", decode[ChatResponse](t, rec).SessionID)

	rec = do(t, s, http.MethodGet, "/history/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func readEvents(t *testing.T, body io.Reader) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

// slowServer serves s on a real listener whose write timeout is shorter than
// the model's answer time.
func slowServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewUnstartedServer(s.Handler())
	ts.Config.WriteTimeout = time.Second
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestChat_OutlivesServerWriteTimeout(t *testing.T) {
	s := newTestServer(t, nil, &fakeModel{name: "llama3", err: errRefused, delay: 1500 * time.Millisecond})
	ts := slowServer(t, s)

	resp := postJSON(t, ts.URL+"/chat", ChatRequest{Message: "Hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, router.NoModel, body.AIModel)
	assert.True(t, strings.HasPrefix(body.Response, "**The local AI model is not running**"), body.Response)
}

func TestChatStream_OutlivesServerWriteTimeout(t *testing.T) {
	local := &streamingModel{fakeModel{name: "llama3", chunks: []string{"slow ", "answer"}, delay: 1500 * time.Millisecond}}
	s := newTestServer(t, nil, local)
	ts := slowServer(t, s)

	resp := postJSON(t, ts.URL+"/chat/stream", ChatRequest{Message: "Hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readEvents(t, resp.Body)
	require.Len(t, events, 3)
	assert.Equal(t, "slow ", events[0].Chunk)
	assert.True(t, events[2].Done)
	assert.NotEmpty(t, events[2].SessionID)
}

func TestChatTimeoutFollowsRoutingBudget(t *testing.T) {
	cfg := testConfig()
	s := newTestServer(t, cfg, &fakeModel{name: "llama3", text: "hi"})
	assert.Equal(t, cfg.RoutingBudget(), s.chatTimeout)
	assert.Greater(t, s.chatTimeout+writeSlack, cfg.Server.WriteTimeout)

	cfg = testConfig()
	cfg.Local.Timeout, cfg.Cloud.Timeout = 0, 0
	s = newTestServer(t, cfg, &fakeModel{name: "llama3", text: "hi"})
	assert.Equal(t, defaultChatTimeout, s.chatTimeout)
}

func TestChatStream(t *testing.T) {
	local := &streamingModel{fakeModel{name: "llama3", chunks: []string{"Hel", "lo"}}}
	s := newTestServer(t, nil, local)

	rec := do(t, s, http.MethodPost, "/chat/stream", ChatRequest{Message: "Hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	events := readEvents(t, rec.Body)
	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0].Chunk)
	assert.Equal(t, "lo", events[1].Chunk)
	assert.False(t, events[1].Done)
	assert.True(t, events[2].Done)
	require.NotEmpty(t, events[2].SessionID)

	sess := decode[memory.Session](t, do(t, s, http.MethodGet, "/history/"+events[2].SessionID, nil))
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "Hello", sess.Messages[0].Response)
}

func TestChatStream_Failure(t *testing.T) {
	s := newTestServer(t, nil, &streamingModel{fakeModel{name: "llama3", err: errRefused}})

	rec := do(t, s, http.MethodPost, "/chat/stream", ChatRequest{Message: "Hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	events := readEvents(t, rec.Body)
	require.Len(t, events, 1)
	assert.True(t, events[0].Done)
	assert.True(t, events[0].Error)
	assert.True(t, strings.HasPrefix(events[0].Chunk, "Error: **The local AI model is not running**"))

	stats := decode[StatsResponse](t, do(t, s, http.MethodGet, "/stats", nil))
	assert.Equal(t, 0, stats.Statistics.TotalMessages)
}

func TestWebSocketChat(t *testing.T) {
	local := &streamingModel{fakeModel{name: "llama3", chunks: []string{"a", "b"}}}
	s := newTestServer(t, nil, local)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var frame WSResponse
	require.NoError(t, conn.WriteJSON(WSRequest{Type: "ping"}))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "pong", frame.Type)

	require.NoError(t, conn.WriteJSON(WSRequest{Type: "message", Content: "Hi"}))
	var frames []WSResponse
	for {
		var f WSResponse
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.Type != "chunk" {
			break
		}
	}
	require.Len(t, frames, 3)
	assert.Equal(t, "a", frames[0].Content)
	assert.Equal(t, "b", frames[1].Content)
	done := frames[2]
	assert.Equal(t, "done", done.Type)
	assert.Equal(t, "llama3", done.Model)
	assert.Equal(t, "ollama_local", done.Source)
	require.NotEmpty(t, done.SessionID)

	require.NoError(t, conn.WriteJSON(WSRequest{Type: "message", Content: ""}))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "Message cannot be empty", frame.Detail)

	frame = WSResponse{}
	require.NoError(t, conn.WriteJSON(WSRequest{Type: "bogus"}))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "Unknown message type: bogus", frame.Detail)

	sess := decode[memory.Session](t, do(t, s, http.MethodGet, "/history/"+done.SessionID, nil))
	assert.Equal(t, 1, sess.MessageCount)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t, nil, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSessions(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := do(t, s, http.MethodPost, "/session/create", SessionCreateRequest{UserID: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	created := decode[SessionResponse](t, rec)
	assert.Equal(t, "alice", created.UserID)
	assert.Equal(t, "Session created successfully", created.Message)

	// An empty body uses the default user.
	req := httptest.NewRequest(http.MethodPost, "/session/create", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "anonymous", decode[SessionResponse](t, rr).UserID)

	recent := decode[RecentSessionsResponse](t, do(t, s, http.MethodGet, "/sessions/recent", nil))
	assert.Equal(t, 2, recent.Count)

	recent = decode[RecentSessionsResponse](t, do(t, s, http.MethodGet, "/sessions/recent?user_id=alice&limit=5", nil))
	require.Equal(t, 1, recent.Count)
	assert.Equal(t, created.SessionID, recent.Sessions[0].SessionID)

	rec = do(t, s, http.MethodGet, "/sessions/recent?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodDelete, "/session/"+created.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Session deleted successfully", decode[DeleteResponse](t, rec).Message)

	rec = do(t, s, http.MethodDelete, "/session/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session not found", decode[ErrorResponse](t, rec).Detail)

	rec = do(t, s, http.MethodGet, "/history/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	stats := decode[StatsResponse](t, do(t, s, http.MethodGet, "/stats", nil))
	assert.Equal(t, config.Version, stats.ServerVersion)
	assert.Equal(t, "json", stats.Statistics.Backend)
}

func TestDebugClearMemory(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodPost, "/debug/clear-memory", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cfg := testConfig()
	cfg.Server.Debug = true
	s = newTestServer(t, cfg, nil)
	do(t, s, http.MethodPost, "/session/create", nil)

	rec = do(t, s, http.MethodPost, "/debug/clear-memory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, do(t, s, http.MethodGet, "/stats", nil))
	assert.Equal(t, 0, stats.Statistics.TotalSessions)
}

func TestLanguageEndpoints(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := do(t, s, http.MethodPost, "/language/detect", LanguageDetectRequest{Text: "Hello, how are you?"})
	require.Equal(t, http.StatusOK, rec.Code)
	det := decode[LanguageDetectResponse](t, rec)
	assert.Equal(t, "en", det.DetectedLanguage)
	assert.Equal(t, "English", det.LanguageName)
	assert.True(t, det.Supported)

	sup := decode[SupportedLanguagesResponse](t, do(t, s, http.MethodGet, "/language/supported", nil))
	assert.Equal(t, len(sup.Languages), sup.Total)
	assert.Equal(t, "English", sup.Languages["en"])

	rec = do(t, s, http.MethodGet, "/language/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "total_detections")

	rec = do(t, s, http.MethodPost, "/language/preference", LanguagePreferenceRequest{UserID: "bob", Language: "xx"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Language 'xx' is not supported", decode[ErrorResponse](t, rec).Detail)

	rec = do(t, s, http.MethodPost, "/language/preference", LanguagePreferenceRequest{UserID: "bob", Language: "en"})
	require.Equal(t, http.StatusOK, rec.Code)
	pref := decode[LanguagePreferenceResponse](t, rec)
	assert.True(t, pref.AutoDetect)
	assert.Equal(t, "Language preference set to English", pref.Message)

	stored, ok := s.LanguagePreference("bob")
	require.True(t, ok)
	assert.Equal(t, "en", stored.Language)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.RateLimitPerMinute = 2
	s := newTestServer(t, cfg, nil)
	limited := testutil.ToFloat64(metrics.RateLimited)

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodGet, "/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := do(t, s, http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "Rate limit exceeded. Maximum 2 requests per minute.", decode[ErrorResponse](t, rec).Detail)
	assert.Equal(t, limited+1, testutil.ToFloat64(metrics.RateLimited))

	// Exempt paths and other clients are unaffected.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/stats", nil, "X-Forwarded-For", "203.0.113.9").Code)
}

func TestAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.Server.APIKey = "secret"
	s := newTestServer(t, cfg, nil)

	rec := do(t, s, http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Detail, "X-API-Key")

	rec = do(t, s, http.MethodGet, "/stats", nil, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Invalid API key", decode[ErrorResponse](t, rec).Detail)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/stats", nil, "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/stats", nil, "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", nil).Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := do(t, s, http.MethodOptions, "/chat", nil,
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "Content-Type")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))

	rec = do(t, s, http.MethodGet, "/", nil, "Origin", "http://evil.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"https://app.example.com", "https://*.preview.dev/*", "http://localhost/*"}
	s := newTestServer(t, cfg, nil)

	assert.True(t, s.originAllowed("https://app.example.com"))
	assert.True(t, s.originAllowed("http://localhost:5173"))
	assert.False(t, s.originAllowed("https://other.example.com"))

	cfg.Server.AllowedOrigins = []string{"*"}
	assert.True(t, s.originAllowed("https://anything.example"))
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4242"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("CF-Connecting-IP", "203.0.113.5")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodPost, "/search", SearchRequest{Query: "golang"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"disabled"`)

	fake := &fakeSearcher{}
	s = newTestServer(t, nil, nil, func(d *Deps) { d.Search = fake })

	rec = do(t, s, http.MethodPost, "/search", SearchRequest{Query: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Query cannot be empty", decode[ErrorResponse](t, rec).Detail)

	rec = do(t, s, http.MethodPost, "/search", SearchRequest{Query: "golang"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "golang", fake.query)
	assert.True(t, fake.summarize)
	assert.Equal(t, "summary", decode[search.Result](t, rec).Summary)

	rec = do(t, s, http.MethodPost, "/search?query=rust&summarize=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rust", fake.query)
	assert.False(t, fake.summarize)
}

func TestAgentEndpoints(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodGet, "/agent/list", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	root := t.TempDir()
	s = newTestServer(t, nil, nil, func(d *Deps) { d.Agents = agents.NewManager(root) })

	list := decode[AgentListResponse](t, do(t, s, http.MethodGet, "/agent/list", nil))
	assert.Equal(t, 3, list.Total)
	assert.Contains(t, list.Agents, agents.KeyCodeAssistant)

	rec = do(t, s, http.MethodPost, "/agent/execute", agents.Task{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/agent/execute", agents.Task{Type: "code_analyze", Code: "def f():\n    return 1\n", Language: "python"})
	require.Equal(t, http.StatusOK, rec.Code)
	exec := decode[AgentExecuteResponse](t, rec)
	assert.Equal(t, "success", exec.Status)
	assert.True(t, exec.Result.Success())

	rec = do(t, s, http.MethodPost, "/agent/execute", agents.Task{Type: "unknown_type"})
	require.Equal(t, http.StatusOK, rec.Code)
	exec = decode[AgentExecuteResponse](t, rec)
	assert.Equal(t, "error", exec.Status)
	assert.Equal(t, "No agent available for task type: unknown_type", exec.Result.Error())

	rec = do(t, s, http.MethodPost, "/agent/file-analyze", FileAnalyzeRequest{FilePath: "/etc/passwd"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[agents.Result](t, rec)
	assert.False(t, res.Success())
	assert.Equal(t, "Path is outside the allowed directory", res.Error())

	rec = do(t, s, http.MethodPost, "/agent/code-review", CodeReviewRequest{Code: "x = 1\n", Language: "python"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[agents.Result](t, rec).Success())
}

func TestMediaEndpoints(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := do(t, s, http.MethodPost, "/video/generate", media.VideoRequest{Prompt: "a cat surfing"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"disabled"`)

	s = newTestServer(t, nil, nil, func(d *Deps) {
		d.Video = media.NewVideoGenerator(true, "")
		d.Image = media.NewImageGenerator(true, t.TempDir())
		d.Voice = media.NewVoiceAssistant(true)
	})

	rec = do(t, s, http.MethodPost, "/video/generate", media.VideoRequest{Prompt: "a cat surfing"})
	require.Equal(t, http.StatusOK, rec.Code)
	video := decode[media.VideoResult](t, rec)
	assert.True(t, strings.HasPrefix(video.VideoID, "vid_"))

	rec = do(t, s, http.MethodPost, "/video/generate", media.VideoRequest{Prompt: "ab"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/video/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"current_model":"runway"`)

	rec = do(t, s, http.MethodPost, "/image/generate", media.ImageRequest{Prompt: "sunset", Size: "256x256"})
	require.Equal(t, http.StatusOK, rec.Code)
	img := decode[media.ImageResult](t, rec)
	assert.Equal(t, media.StatusPlaceholder, img.Status)
	assert.Equal(t, 256, img.Width)

	rec = do(t, s, http.MethodGet, "/image/gallery", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":0`)

	rec = do(t, s, http.MethodPost, "/voice/text-to-speech", media.TextToSpeechRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/voice/text-to-speech", media.TextToSpeechRequest{Text: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
}

// echoProvider is an llm.Provider that answers every request.
type echoProvider struct{ name string }

func (p *echoProvider) Name() string   { return p.name }
func (p *echoProvider) Available() bool { return true }

func (p *echoProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: "ok", Model: req.Model, Provider: p.name}, nil
}

func TestMetricsEndpoints(t *testing.T) {
	mp := llm.NewMetricsProvider(&echoProvider{name: "metrics-endpoint"})
	local := llm.NewLocalAdapter(mp, llm.WithModel("llama3"))
	s := newTestServer(t, nil, local, func(d *Deps) {
		d.Agents = agents.NewManager("")
		d.Models = []ModelStats{mp}
	})
	do(t, s, http.MethodPost, "/chat", ChatRequest{Message: "Hi"})

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[MetricsResponse](t, rec)
	assert.Equal(t, "healthy", m.Status)
	assert.Equal(t, 1, m.Application.ActiveSessions)
	assert.Equal(t, 1, m.Application.TotalMessages)
	assert.Equal(t, 3, m.Agents.Available)
	assert.Positive(t, m.System.Goroutines)

	require.Contains(t, m.Models, "metrics-endpoint")
	assert.Equal(t, 1.0, m.Models["metrics-endpoint"]["total_calls"])
	assert.Equal(t, 0.0, m.Models["metrics-endpoint"]["total_errors"])

	rec = do(t, s, http.MethodGet, "/metrics/prometheus", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nitro_http_requests_total")
}
