package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/normanking/nitro/internal/metrics"
)

// Store is the conversation store. All operations are serialized by one
// mutex, so concurrent appends never lose updates.
type Store struct {
	mu      sync.Mutex
	backend Backend
	now     func() time.Time
	newID   func() string
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces the UUID session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// New creates a store over backend, initializing empty storage.
func New(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, ok, err := backend.LoadMeta(ctx); err != nil {
		return nil, errors.Wrap(err, "load metadata")
	} else if !ok {
		if err := backend.Reset(ctx, newMetadata(s.now())); err != nil {
			return nil, errors.Wrap(err, "initialize storage")
		}
		log.Info().Str("backend", backend.Name()).Msg("initialized new conversation storage")
	}

	s.refreshGauge(ctx)
	log.Info().Str("backend", backend.Name()).Msg("conversation store ready")
	return s, nil
}

// Backend returns the backend name.
func (s *Store) Backend() string { return s.backend.Name() }

// Close releases the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}

func (s *Store) meta(ctx context.Context) (Metadata, error) {
	meta, ok, err := s.backend.LoadMeta(ctx)
	if err != nil {
		return Metadata{}, err
	}
	if !ok {
		meta = newMetadata(s.now())
	}
	return meta, nil
}

func (s *Store) count(op string) {
	metrics.StoreOperations.WithLabelValues(op, s.backend.Name()).Inc()
}

func (s *Store) refreshGauge(ctx context.Context) {
	sessions, err := s.backend.ListSessions(ctx)
	if err == nil {
		metrics.ActiveSessions.Set(float64(len(sessions)))
	}
}

// CreateSession adds an empty session for userID and returns its id.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		userID = DefaultUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("create")

	meta, err := s.meta(ctx)
	if err != nil {
		return "", errors.Wrap(err, "create session")
	}

	now := formatTime(s.now())
	sess := &Session{
		SessionID:   s.newID(),
		UserID:      userID,
		CreatedAt:   now,
		LastUpdated: now,
		Messages:    []Message{},
	}
	meta.TotalSessions++

	if err := s.backend.PutSession(ctx, sess, meta); err != nil {
		return "", errors.Wrap(err, "create session")
	}
	metrics.ActiveSessions.Inc()

	log.Info().Str("session_id", sess.SessionID).Str("user_id", userID).Msg("created session")
	return sess.SessionID, nil
}

// AddMessage appends a record to a session. It returns false, without
// changing anything, when the session does not exist. response is kept only
// on user records.
func (s *Store) AddMessage(ctx context.Context, sessionID, text, sender, response string) (bool, error) {
	msg := Message{Sender: sender, Message: text}
	if sender == SenderUser {
		msg.Response = response
	}
	return s.appendMessage(ctx, sessionID, msg)
}

// AddTurn records a user message together with the reply that answered it.
func (s *Store) AddTurn(ctx context.Context, sessionID string, t Turn) (bool, error) {
	return s.appendMessage(ctx, sessionID, Message{
		Sender:   SenderUser,
		Message:  t.Message,
		Response: t.Response,
		Model:    t.Model,
		Source:   t.Source,
	})
}

func (s *Store) appendMessage(ctx context.Context, sessionID string, msg Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("add_message")

	sess, err := s.backend.GetSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		log.Warn().Str("session_id", sessionID).Msg("session not found, message dropped")
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "add message")
	}

	meta, err := s.meta(ctx)
	if err != nil {
		return false, errors.Wrap(err, "add message")
	}

	now := formatTime(s.now())
	msg.Timestamp = now
	sess.Messages = append(sess.Messages, msg)
	sess.MessageCount++
	sess.LastUpdated = now
	meta.TotalMessages++

	if err := s.backend.PutSession(ctx, sess, meta); err != nil {
		return false, errors.Wrap(err, "add message")
	}

	log.Debug().Str("session_id", sessionID).Int("message_count", sess.MessageCount).Msg("added message")
	return true, nil
}

// GetSession returns a copy of a session, or ErrSessionNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("get")

	sess, err := s.backend.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			err = errors.Wrap(err, "get session")
		}
		return nil, err
	}
	return sess.Clone(), nil
}

// RecentSessions returns up to limit sessions, most recently updated first,
// optionally only those owned by userID. limit <= 0 means DefaultRecentLimit.
func (s *Store) RecentSessions(ctx context.Context, limit int, userID string) ([]*Session, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("recent")

	all, err := s.backend.ListSessions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}

	out := make([]*Session, 0, len(all))
	for _, sess := range all {
		if userID != "" && sess.UserID != userID {
			continue
		}
		out = append(out, sess.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUpdated > out[j].LastUpdated
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteSession removes a session. It returns false when the id is unknown.
// The session counter is decremented, matching the historical file format.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("delete")

	if _, err := s.backend.GetSession(ctx, sessionID); errors.Is(err, ErrSessionNotFound) {
		log.Warn().Str("session_id", sessionID).Msg("session not found for deletion")
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "delete session")
	}

	meta, err := s.meta(ctx)
	if err != nil {
		return false, errors.Wrap(err, "delete session")
	}
	meta.TotalSessions--

	ok, err := s.backend.DeleteSession(ctx, sessionID, meta)
	if err != nil {
		return false, errors.Wrap(err, "delete session")
	}
	if ok {
		metrics.ActiveSessions.Dec()
		log.Info().Str("session_id", sessionID).Int("total_sessions", meta.TotalSessions).Msg("deleted session")
	}
	return ok, nil
}

// Statistics summarizes the store.
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("stats")

	meta, err := s.meta(ctx)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "statistics")
	}
	sessions, err := s.backend.ListSessions(ctx)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "statistics")
	}
	size, err := s.backend.Size(ctx)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "statistics")
	}

	return Statistics{
		TotalSessions:  meta.TotalSessions,
		TotalMessages:  meta.TotalMessages,
		StorageCreated: meta.Created,
		ActiveSessions: len(sessions),
		StorageSizeKB:  math.Round(float64(size)/1024*100) / 100,
		Backend:        s.backend.Name(),
	}, nil
}

// Clear drops every session and resets the counters.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("clear")

	if err := s.backend.Reset(ctx, newMetadata(s.now())); err != nil {
		return errors.Wrap(err, "clear sessions")
	}
	metrics.ActiveSessions.Set(0)
	log.Warn().Msg("all conversation history cleared")
	return nil
}

// Snapshot returns the whole store as a Document.
func (s *Store) Snapshot(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.meta(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := s.backend.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	doc := &Document{Sessions: make([]*Session, 0, len(sessions)), Metadata: meta}
	for _, sess := range sessions {
		doc.Sessions = append(doc.Sessions, sess.Clone())
	}
	return doc, nil
}
