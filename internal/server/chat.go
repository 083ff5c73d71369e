package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/normanking/nitro/internal/logging"
	"github.com/normanking/nitro/internal/memory"
	"github.com/normanking/nitro/internal/router"
)

// Values of ai_source in chat responses.
const (
	aiSourceLocal = "ollama_local"
	aiSourceCloud = "gemini_cloud"
	aiSourceError = "error"
)

func aiSource(src router.Source) string {
	switch src {
	case router.SourceLocal:
		return aiSourceLocal
	case router.SourceCloud:
		return aiSourceCloud
	default:
		return aiSourceError
	}
}

// validateMessage trims text and checks it against the length limit. It
// returns the text or a client-facing error detail.
func (s *Server) validateMessage(text string) (string, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "Message cannot be empty"
	}
	if limit := s.cfg.Limits.MaxMessageLength; utf8.RuneCountInString(text) > limit {
		log.Warn().Int("length", utf8.RuneCountInString(text)).Msg("message too long")
		return "", fmt.Sprintf("Message too long. Maximum %d characters allowed.", limit)
	}
	return text, ""
}

func (s *Server) userID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return s.cfg.Limits.DefaultUserID
}

// ensureSession returns sessionID, creating a session when it is empty.
func (s *Server) ensureSession(ctx context.Context, sessionID, userID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	id, err := s.store.CreateSession(ctx, userID)
	if err != nil {
		return "", err
	}
	log.Info().Str("session_id", id).Str("user_id", userID).Msg("created session for chat")
	return id, nil
}

func (s *Server) recordTurn(ctx context.Context, sessionID, text string, res router.Result) error {
	ok, err := s.store.AddTurn(ctx, sessionID, memory.Turn{
		Message:  text,
		Response: res.Text,
		Model:    res.ModelID,
		Source:   aiSource(res.Source),
	})
	if err != nil {
		return err
	}
	if !ok {
		log.Warn().Str("session_id", sessionID).Msg("turn not stored, unknown session")
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	text, detail := s.validateMessage(req.Message)
	if detail != "" {
		writeError(w, http.StatusBadRequest, detail)
		return
	}
	userID := s.userID(req.UserID)
	s.extendWriteDeadline(w)

	// The generation and the store write finish even if the client hangs up.
	ctx, cancel := logging.DetachContextWithTimeout(r.Context(), s.chatTimeout)
	defer cancel()

	sessionID, err := s.ensureSession(ctx, req.SessionID, userID)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		writeError(w, http.StatusInternalServerError, "An error occurred while processing your message.")
		return
	}

	// On exhaustion res already carries the remediation text.
	res, err := s.chat.Route(ctx, text)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("chat answered with remediation")
	}

	if err := s.recordTurn(ctx, sessionID, text, res); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to store conversation")
		writeError(w, http.StatusInternalServerError, "An error occurred while processing your message.")
		return
	}

	log.Info().
		Str("session_id", sessionID).
		Str("model", res.ModelID).
		Str("source", string(res.Source)).
		Msg("conversation saved")

	writeJSON(w, http.StatusOK, ChatResponse{
		SessionID: sessionID,
		Response:  res.Text,
		Timestamp: s.timestamp(),
		Status:    "success",
		UserID:    userID,
		AIModel:   res.ModelID,
		AISource:  aiSource(res.Source),
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	text, detail := s.validateMessage(req.Message)
	if detail != "" {
		writeError(w, http.StatusBadRequest, detail)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	s.extendWriteDeadline(w)
	ctx, cancel := logging.DetachContextWithTimeout(r.Context(), s.chatTimeout)
	defer cancel()

	sessionID, err := s.ensureSession(ctx, req.SessionID, s.userID(req.UserID))
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		writeError(w, http.StatusInternalServerError, "Streaming error occurred")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(ev StreamEvent) {
		data, _ := json.Marshal(ev)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	res, err := s.chat.Stream(ctx, text, func(chunk string) {
		send(StreamEvent{Chunk: chunk})
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("streaming failed")
		send(StreamEvent{Chunk: "Error: " + res.Text, Done: true, Error: true})
		return
	}

	if err := s.recordTurn(ctx, sessionID, text, res); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to store streamed conversation")
		send(StreamEvent{Chunk: "Error: failed to save conversation", Done: true, Error: true})
		return
	}
	send(StreamEvent{Done: true, SessionID: sessionID})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	log.Debug().Str("client", clientIP(r)).Msg("websocket connected")
	ctx := r.Context()

	for {
		var msg WSRequest
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		switch msg.Type {
		case "ping":
			err = conn.WriteJSON(WSResponse{Type: "pong"})
		case "message":
			err = s.wsChat(ctx, conn, msg)
		default:
			err = conn.WriteJSON(WSResponse{Type: "error", Detail: fmt.Sprintf("Unknown message type: %s", msg.Type)})
		}
		if err != nil {
			log.Warn().Err(err).Msg("websocket write error")
			return
		}
	}
}

// wsChat answers one websocket message. Only write errors are returned;
// request problems are reported to the client as error frames.
func (s *Server) wsChat(ctx context.Context, conn *websocket.Conn, msg WSRequest) error {
	text, detail := s.validateMessage(msg.Content)
	if detail != "" {
		return conn.WriteJSON(WSResponse{Type: "error", Detail: detail})
	}

	ctx, cancel := logging.DetachContextWithTimeout(ctx, s.chatTimeout)
	defer cancel()

	sessionID, err := s.ensureSession(ctx, msg.SessionID, s.userID(msg.UserID))
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		return conn.WriteJSON(WSResponse{Type: "error", Detail: "Failed to create session"})
	}

	var writeErr error
	res, err := s.chat.Stream(ctx, text, func(chunk string) {
		if writeErr == nil {
			writeErr = conn.WriteJSON(WSResponse{Type: "chunk", Content: chunk})
		}
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		return conn.WriteJSON(WSResponse{Type: "error", Detail: res.Text, SessionID: sessionID})
	}

	if err := s.recordTurn(ctx, sessionID, text, res); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to store websocket conversation")
		return conn.WriteJSON(WSResponse{Type: "error", Detail: "Failed to save conversation", SessionID: sessionID})
	}

	return conn.WriteJSON(WSResponse{
		Type:      "done",
		SessionID: sessionID,
		Model:     res.ModelID,
		Source:    aiSource(res.Source),
	})
}
