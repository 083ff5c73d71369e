package server

import (
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/normanking/nitro/internal/agents"
	"github.com/normanking/nitro/internal/language"
	"github.com/normanking/nitro/internal/media"
)

func (s *Server) handleDetectLanguage(w http.ResponseWriter, r *http.Request) {
	var req LanguageDetectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	code, confidence := s.detector.Detect(req.Text)
	log.Debug().Str("language", code).Float64("confidence", confidence).Msg("language detected")

	writeJSON(w, http.StatusOK, LanguageDetectResponse{
		DetectedLanguage: code,
		LanguageName:     language.Name(code),
		Confidence:       confidence,
		Supported:        language.IsSupported(code),
	})
}

func (s *Server) handleSupportedLanguages(w http.ResponseWriter, r *http.Request) {
	langs := language.Supported()
	writeJSON(w, http.StatusOK, SupportedLanguagesResponse{Languages: langs, Total: len(langs)})
}

func (s *Server) handleLanguageStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.detector.Stats())
}

func (s *Server) handleLanguagePreference(w http.ResponseWriter, r *http.Request) {
	var req LanguagePreferenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !language.IsSupported(req.Language) {
		writeError(w, http.StatusBadRequest, "Language '"+req.Language+"' is not supported")
		return
	}

	autoDetect := true
	if req.AutoDetect != nil {
		autoDetect = *req.AutoDetect
	}
	name := language.Name(req.Language)
	pref := LanguagePreferenceResponse{
		UserID:       s.userID(req.UserID),
		Language:     req.Language,
		LanguageName: name,
		AutoDetect:   autoDetect,
		Message:      "Language preference set to " + name,
	}

	s.prefMu.Lock()
	s.preferences[pref.UserID] = pref
	s.prefMu.Unlock()

	log.Info().Str("user_id", pref.UserID).Str("language", req.Language).Msg("language preference set")
	writeJSON(w, http.StatusOK, pref)
}

// LanguagePreference returns the stored preference for userID.
func (s *Server) LanguagePreference(userID string) (LanguagePreferenceResponse, bool) {
	s.prefMu.Lock()
	defer s.prefMu.Unlock()
	p, ok := s.preferences[userID]
	return p, ok
}

// mediaError maps generator errors to responses.
func mediaError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, media.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Error().Err(err).Msg(what + " failed")
	writeError(w, http.StatusInternalServerError, "Failed to "+what)
}

func disabled(w http.ResponseWriter, feature string) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  media.StatusDisabled,
		"message": feature + " is disabled",
	})
}

func (s *Server) handleVideoGenerate(w http.ResponseWriter, r *http.Request) {
	if s.video == nil {
		disabled(w, "Video generation")
		return
	}
	var req media.VideoRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	res, err := s.video.Generate(req)
	if err != nil {
		mediaError(w, err, "generate video")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVideoStatus(w http.ResponseWriter, r *http.Request) {
	if s.video == nil {
		disabled(w, "Video generation")
		return
	}
	writeJSON(w, http.StatusOK, s.video.Status(mux.Vars(r)["video_id"]))
}

func (s *Server) handleVideoModels(w http.ResponseWriter, r *http.Request) {
	if s.video == nil {
		disabled(w, "Video generation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":        s.video.Models(),
		"current_model": s.video.Model(),
		"enabled":       s.video.Enabled(),
	})
}

func (s *Server) handleImageGenerate(w http.ResponseWriter, r *http.Request) {
	if s.image == nil {
		disabled(w, "Image generation")
		return
	}
	var req media.ImageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Prompt == "" {
		req.Prompt = r.URL.Query().Get("prompt")
	}
	res, err := s.image.Generate(req)
	if err != nil {
		mediaError(w, err, "generate image")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleImageGallery(w http.ResponseWriter, r *http.Request) {
	if s.image == nil {
		disabled(w, "Image generation")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	images, err := s.image.Gallery(limit)
	if err != nil {
		log.Error().Err(err).Msg("gallery error")
		writeError(w, http.StatusInternalServerError, "Failed to load gallery")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"images": images,
		"total":  len(images),
	})
}

func (s *Server) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil {
		disabled(w, "Voice features")
		return
	}
	var req media.SpeechToTextRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	res, err := s.voice.SpeechToText(req)
	if err != nil {
		mediaError(w, err, "convert speech to text")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	if s.voice == nil {
		disabled(w, "Voice features")
		return
	}
	var req media.TextToSpeechRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	res, err := s.voice.TextToSpeech(req)
	if err != nil {
		mediaError(w, err, "convert text to speech")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil || !s.cfg.Features.Search {
		disabled(w, "Web search")
		return
	}
	var req SearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	q := r.URL.Query()
	if req.Query == "" {
		req.Query = q.Get("query")
	}
	if req.Summarize == nil {
		if v, err := strconv.ParseBool(q.Get("summarize")); err == nil {
			req.Summarize = &v
		}
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "Query cannot be empty")
		return
	}

	summarize := req.Summarize == nil || *req.Summarize
	if summarize {
		s.extendWriteDeadline(w)
	}
	writeJSON(w, http.StatusOK, s.searcher.Search(r.Context(), req.Query, summarize))
}

func (s *Server) agentsReady(w http.ResponseWriter) bool {
	if s.agents == nil || !s.cfg.Features.Agents {
		writeError(w, http.StatusServiceUnavailable, "Automation agents are disabled")
		return false
	}
	return true
}

func (s *Server) handleAgentExecute(w http.ResponseWriter, r *http.Request) {
	if !s.agentsReady(w) {
		return
	}
	var task agents.Task
	if err := decodeBody(r, &task); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if task.Type == "" {
		writeError(w, http.StatusBadRequest, "Task type is required")
		return
	}
	log.Info().Str("task_type", task.Type).Msg("agent task requested")

	res := s.agents.Execute(r.Context(), task)
	status := "success"
	if !res.Success() {
		status = "error"
	}
	writeJSON(w, http.StatusOK, AgentExecuteResponse{Status: status, Result: res, Timestamp: s.timestamp()})
}

func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	if !s.agentsReady(w) {
		return
	}
	info := s.agents.Info()
	writeJSON(w, http.StatusOK, AgentListResponse{Status: "success", Agents: info, Total: len(info)})
}

func (s *Server) handleCodeReview(w http.ResponseWriter, r *http.Request) {
	if !s.agentsReady(w) {
		return
	}
	var req CodeReviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	q := r.URL.Query()
	if req.Code == "" {
		req.Code = q.Get("code")
	}
	if req.Language == "" {
		req.Language = q.Get("language")
	}

	writeJSON(w, http.StatusOK, s.agents.Execute(r.Context(), agents.Task{
		Type:     "code_review",
		Agent:    agents.KeyCodeAssistant,
		Code:     req.Code,
		Language: req.Language,
	}))
}

func (s *Server) handleFileAnalyze(w http.ResponseWriter, r *http.Request) {
	if !s.agentsReady(w) {
		return
	}
	var req FileAnalyzeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.FilePath == "" {
		req.FilePath = r.URL.Query().Get("file_path")
	}

	writeJSON(w, http.StatusOK, s.agents.Execute(r.Context(), agents.Task{
		Type:  "file_analyze",
		Agent: agents.KeyFileAnalyzer,
		Path:  req.FilePath,
	}))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("metrics could not read store statistics")
		writeError(w, http.StatusInternalServerError, "Failed to get metrics")
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := MetricsResponse{
		Status:    "healthy",
		Timestamp: s.timestamp(),
		System: SystemMetrics{
			Goroutines: runtime.NumGoroutine(),
			MemoryMB:   float64(mem.Sys) / 1024 / 1024,
		},
		Application: ApplicationMetrics{
			ActiveSessions: stats.TotalSessions,
			TotalMessages:  stats.TotalMessages,
			UptimeSeconds:  int64(time.Since(s.startTime) / time.Second),
		},
	}
	if s.agents != nil {
		resp.Agents = AgentMetrics{Available: s.agents.Count(), Enabled: s.agents.EnabledCount()}
	}
	if len(s.models) > 0 {
		resp.Models = make(map[string]map[string]interface{}, len(s.models))
		for _, m := range s.models {
			resp.Models[m.Name()] = m.GetMetrics()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
