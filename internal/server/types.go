package server

import (
	"github.com/normanking/nitro/internal/agents"
	"github.com/normanking/nitro/internal/memory"
	"github.com/normanking/nitro/internal/platform"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// RootResponse is returned by GET /.
type RootResponse struct {
	Message  string   `json:"message"`
	Status   string   `json:"status"`
	Version  string   `json:"version"`
	Docs     string   `json:"docs"`
	Health   string   `json:"health"`
	Features []string `json:"features"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Version     string            `json:"version"`
	MemoryStats memory.Statistics `json:"memory_stats"`
	Deployment  platform.Report   `json:"deployment"`
}

// ChatRequest is the body of POST /chat and POST /chat/stream.
type ChatRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is returned by POST /chat.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	UserID    string `json:"user_id"`
	AIModel   string `json:"ai_model"`
	AISource  string `json:"ai_source"`
}

// StreamEvent is one SSE data frame of POST /chat/stream.
type StreamEvent struct {
	Chunk     string `json:"chunk"`
	Done      bool   `json:"done"`
	SessionID string `json:"session_id,omitempty"`
	Error     bool   `json:"error,omitempty"`
}

// WSRequest is a client frame on /ws/chat.
type WSRequest struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// WSResponse is a server frame on /ws/chat.
type WSResponse struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
	Source    string `json:"source,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// SessionCreateRequest is the body of POST /session/create.
type SessionCreateRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// SessionResponse is returned by POST /session/create.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at"`
	Message   string `json:"message"`
}

// RecentSessionsResponse is returned by GET /sessions/recent.
type RecentSessionsResponse struct {
	Sessions  []*memory.Session `json:"sessions"`
	Count     int               `json:"count"`
	Timestamp string            `json:"timestamp"`
}

// DeleteResponse is returned by DELETE /session/{id}.
type DeleteResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Statistics    memory.Statistics `json:"statistics"`
	ServerVersion string            `json:"server_version"`
	Timestamp     string            `json:"timestamp"`
}

// LanguageDetectRequest is the body of POST /language/detect.
type LanguageDetectRequest struct {
	Text string `json:"text"`
}

// LanguageDetectResponse is returned by POST /language/detect.
type LanguageDetectResponse struct {
	DetectedLanguage string  `json:"detected_language"`
	LanguageName     string  `json:"language_name"`
	Confidence       float64 `json:"confidence"`
	Supported        bool    `json:"supported"`
}

// SupportedLanguagesResponse is returned by GET /language/supported.
type SupportedLanguagesResponse struct {
	Languages map[string]string `json:"languages"`
	Total     int               `json:"total"`
}

// LanguagePreferenceRequest is the body of POST /language/preference.
type LanguagePreferenceRequest struct {
	UserID     string `json:"user_id"`
	Language   string `json:"language"`
	AutoDetect *bool  `json:"auto_detect,omitempty"`
}

// LanguagePreferenceResponse is returned by POST /language/preference.
type LanguagePreferenceResponse struct {
	UserID       string `json:"user_id"`
	Language     string `json:"language"`
	LanguageName string `json:"language_name"`
	AutoDetect   bool   `json:"auto_detect"`
	Message      string `json:"message"`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query     string `json:"query"`
	Summarize *bool  `json:"summarize,omitempty"`
}

// AgentExecuteResponse is returned by POST /agent/execute.
type AgentExecuteResponse struct {
	Status    string        `json:"status"`
	Result    agents.Result `json:"result"`
	Timestamp string        `json:"timestamp"`
}

// AgentListResponse is returned by GET /agent/list.
type AgentListResponse struct {
	Status string                      `json:"status"`
	Agents map[string]agents.AgentInfo `json:"agents"`
	Total  int                         `json:"total"`
}

// CodeReviewRequest is the body of POST /agent/code-review.
type CodeReviewRequest struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

// FileAnalyzeRequest is the body of POST /agent/file-analyze.
type FileAnalyzeRequest struct {
	FilePath string `json:"file_path"`
}

// MetricsResponse is returned by GET /metrics.
type MetricsResponse struct {
	Status      string             `json:"status"`
	Timestamp   string             `json:"timestamp"`
	System      SystemMetrics      `json:"system"`
	Application ApplicationMetrics `json:"application"`
	Agents      AgentMetrics       `json:"agents"`
	// Models holds each model provider's call counters, keyed by provider.
	Models map[string]map[string]interface{} `json:"models,omitempty"`
}

// SystemMetrics describes the process.
type SystemMetrics struct {
	Goroutines int     `json:"goroutines"`
	MemoryMB   float64 `json:"memory_mb"`
}

// ApplicationMetrics describes the store and uptime.
type ApplicationMetrics struct {
	ActiveSessions int   `json:"active_sessions"`
	TotalMessages  int   `json:"total_messages"`
	UptimeSeconds  int64 `json:"uptime_seconds"`
}

// AgentMetrics counts the automation agents.
type AgentMetrics struct {
	Available int `json:"available"`
	Enabled   int `json:"enabled"`
}
