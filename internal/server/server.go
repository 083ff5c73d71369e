// Package server exposes Nitro over HTTP: chat (plain, SSE and websocket),
// session history, language detection, search, agents, media placeholders
// and metrics, behind the shared middleware chain.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/normanking/nitro/internal/agents"
	"github.com/normanking/nitro/internal/config"
	"github.com/normanking/nitro/internal/language"
	"github.com/normanking/nitro/internal/media"
	"github.com/normanking/nitro/internal/memory"
	"github.com/normanking/nitro/internal/platform"
	"github.com/normanking/nitro/internal/router"
	"github.com/normanking/nitro/internal/search"
)

// ChatRouter answers prompts. *router.Router implements it.
type ChatRouter interface {
	Route(ctx context.Context, prompt string) (router.Result, error)
	Stream(ctx context.Context, prompt string, onChunk func(string)) (router.Result, error)
}

// Searcher runs web searches. *search.Searcher implements it.
type Searcher interface {
	Search(ctx context.Context, query string, summarize bool) search.Result
}

// ModelStats reports a model provider's counters. *llm.MetricsProvider
// implements it.
type ModelStats interface {
	Name() string
	GetMetrics() map[string]interface{}
}

// Deps are the components the server serves. Search, Agents and the media
// generators may be nil; their endpoints then report the feature disabled.
type Deps struct {
	Config   *config.Config
	Store    *memory.Store
	Router   ChatRouter
	Detector *language.Detector
	Search   Searcher
	Agents   *agents.Manager
	Image    *media.ImageGenerator
	Video    *media.VideoGenerator
	Voice    *media.VoiceAssistant
	Platform platform.Report
	// Models are listed by /metrics.
	Models []ModelStats
}

// Server is the HTTP front end.
type Server struct {
	cfg      *config.Config
	store    *memory.Store
	chat     ChatRouter
	detector *language.Detector
	searcher Searcher
	agents   *agents.Manager
	image    *media.ImageGenerator
	video    *media.VideoGenerator
	voice    *media.VoiceAssistant
	platform platform.Report
	models   []ModelStats

	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	limiter    *rateLimiter
	upgrader   websocket.Upgrader
	startTime  time.Time
	now        func() time.Time

	// chatTimeout bounds one generation, independent of the client connection.
	chatTimeout time.Duration

	prefMu      sync.Mutex
	preferences map[string]LanguagePreferenceResponse
}

const (
	// defaultChatTimeout applies when the configured model timeouts are unset.
	defaultChatTimeout = 3 * time.Minute
	// writeSlack is left after a generation to store the turn and send it.
	writeSlack = 15 * time.Second
)

// New creates the server and registers its routes.
func New(deps Deps) *Server {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	detector := deps.Detector
	if detector == nil {
		detector = language.NewDetector()
	}

	s := &Server{
		cfg:         cfg,
		store:       deps.Store,
		chat:        deps.Router,
		detector:    detector,
		searcher:    deps.Search,
		agents:      deps.Agents,
		image:       deps.Image,
		video:       deps.Video,
		voice:       deps.Voice,
		platform:    deps.Platform,
		models:      deps.Models,
		startTime:   time.Now(),
		now:         realClock,
		chatTimeout: cfg.RoutingBudget(),
		preferences: make(map[string]LanguagePreferenceResponse),
	}
	if s.chatTimeout <= 0 {
		s.chatTimeout = defaultChatTimeout
	}
	if cfg.Limits.RateLimitPerMinute > 0 {
		s.limiter = newRateLimiter(cfg.Limits.RateLimitPerMinute, time.Minute)
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	s.router = mux.NewRouter()
	s.routes()

	// outermost first
	var h http.Handler = s.router
	h = s.apiKeyMiddleware(h)
	h = s.rateLimitMiddleware(h)
	h = s.securityHeadersMiddleware(h)
	h = s.corsMiddleware(h)
	h = processTimeMiddleware(h)
	h = s.loggingMiddleware(h)
	h = recoverMiddleware(h)
	s.handler = h

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/chat/stream", s.handleChatStream).Methods(http.MethodPost)
	r.HandleFunc("/ws/chat", s.handleWebSocket).Methods(http.MethodGet)

	r.HandleFunc("/session/create", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/history/{session_id}", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/sessions/recent", s.handleRecentSessions).Methods(http.MethodGet)
	r.HandleFunc("/session/{session_id}", s.handleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	r.HandleFunc("/language/detect", s.handleDetectLanguage).Methods(http.MethodPost)
	r.HandleFunc("/language/supported", s.handleSupportedLanguages).Methods(http.MethodGet)
	r.HandleFunc("/language/stats", s.handleLanguageStats).Methods(http.MethodGet)
	r.HandleFunc("/language/preference", s.handleLanguagePreference).Methods(http.MethodPost)

	r.HandleFunc("/video/generate", s.handleVideoGenerate).Methods(http.MethodPost)
	r.HandleFunc("/video/status/{video_id}", s.handleVideoStatus).Methods(http.MethodGet)
	r.HandleFunc("/video/models", s.handleVideoModels).Methods(http.MethodGet)
	r.HandleFunc("/image/generate", s.handleImageGenerate).Methods(http.MethodPost)
	r.HandleFunc("/image/gallery", s.handleImageGallery).Methods(http.MethodGet)
	r.HandleFunc("/voice/speech-to-text", s.handleSpeechToText).Methods(http.MethodPost)
	r.HandleFunc("/voice/text-to-speech", s.handleTextToSpeech).Methods(http.MethodPost)

	r.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)

	r.HandleFunc("/agent/execute", s.handleAgentExecute).Methods(http.MethodPost)
	r.HandleFunc("/agent/list", s.handleAgentList).Methods(http.MethodGet)
	r.HandleFunc("/agent/code-review", s.handleCodeReview).Methods(http.MethodPost)
	r.HandleFunc("/agent/file-analyze", s.handleFileAnalyze).Methods(http.MethodPost)

	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.Handle("/metrics/prometheus", promhttp.Handler()).Methods(http.MethodGet)

	if s.cfg.Server.Debug {
		r.HandleFunc("/debug/clear-memory", s.handleClearMemory).Methods(http.MethodPost)
		log.Warn().Msg("debug endpoints enabled")
	}
}

// extendWriteDeadline lets a routed request outlive server.write_timeout.
// The routing budget can exceed it, and a reply cut off by the listener
// deadline reaches the client as a bare EOF.
func (s *Server) extendWriteDeadline(w http.ResponseWriter) {
	rc := http.NewResponseController(w)
	err := rc.SetWriteDeadline(time.Now().Add(s.chatTimeout + writeSlack))
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Debug().Err(err).Msg("failed to extend write deadline")
	}
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
