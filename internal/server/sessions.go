package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/normanking/nitro/internal/config"
	"github.com/normanking/nitro/internal/memory"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	features := []string{
		"Chat with AI assistant",
		"Conversation memory",
		"Chat history",
		"Multi-session support",
		"Language detection",
	}
	f := s.cfg.Features
	if f.Search {
		features = append(features, "Web search")
	}
	if f.Agents {
		features = append(features, "Automation agents")
	}
	if f.Image {
		features = append(features, "Image generation")
	}
	if f.Video {
		features = append(features, "Video generation")
	}
	if f.Voice {
		features = append(features, "Voice assistant")
	}

	writeJSON(w, http.StatusOK, RootResponse{
		Message:  "Welcome to " + config.AppName + "!",
		Status:   "running",
		Version:  config.Version,
		Docs:     "/docs",
		Health:   "/health",
		Features: features,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context())
	if err != nil {
		// Health stays 200 when the store cannot be read.
		log.Error().Err(err).Msg("health check could not read store statistics")
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Timestamp:   s.timestamp(),
		Version:     config.Version,
		MemoryStats: stats,
		Deployment:  s.platform,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	userID := s.userID(req.UserID)

	id, err := s.store.CreateSession(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		SessionID: id,
		UserID:    userID,
		CreatedAt: s.timestamp(),
		Message:   "Session created successfully",
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]
	sess, err := s.store.GetSession(r.Context(), id)
	if errors.Is(err, memory.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("failed to retrieve history")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := s.cfg.Limits.RecentSessionsDefault
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	sessions, err := s.store.RecentSessions(r.Context(), limit, q.Get("user_id"))
	if err != nil {
		log.Error().Err(err).Msg("failed to retrieve recent sessions")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve sessions")
		return
	}
	if sessions == nil {
		sessions = []*memory.Session{}
	}

	writeJSON(w, http.StatusOK, RecentSessionsResponse{
		Sessions:  sessions,
		Count:     len(sessions),
		Timestamp: s.timestamp(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]
	ok, err := s.store.DeleteSession(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("failed to delete session")
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{
		Message:   "Session deleted successfully",
		SessionID: id,
		Timestamp: s.timestamp(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to retrieve statistics")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Statistics:    stats,
		ServerVersion: config.Version,
		Timestamp:     s.timestamp(),
	})
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		log.Error().Err(err).Msg("failed to clear memory")
		writeError(w, http.StatusInternalServerError, "Failed to clear memory")
		return
	}
	log.Warn().Msg("all memory cleared via debug endpoint")
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "All conversation memory cleared",
		"timestamp": s.timestamp(),
	})
}
