// Package memory is the conversation store: sessions, their messages, and
// store-wide counters, persisted through a pluggable Backend.
package memory

import (
	"time"

	"github.com/pkg/errors"
)

// TimeFormat is fixed-width UTC with microseconds, so comparing two
// timestamps as strings orders them chronologically.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// DefaultUserID owns sessions created without a user.
const DefaultUserID = "anonymous"

// DefaultRecentLimit applies when RecentSessions is called with limit <= 0.
const DefaultRecentLimit = 10

// SenderUser is the sender tag of a user turn.
const SenderUser = "user"

var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Message is one record in a session. A user record also carries the
// assistant's reply and, when known, the model and routing source behind it.
type Message struct {
	Timestamp string `json:"timestamp"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Response  string `json:"response,omitempty"`
	Model     string `json:"model,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Session is a conversation thread.
type Session struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	CreatedAt    string    `json:"created_at"`
	LastUpdated  string    `json:"last_updated"`
	Messages     []Message `json:"messages"`
	MessageCount int       `json:"message_count"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return &c
}

// Metadata holds the store-wide counters. TotalMessages never decreases.
// TotalSessions is decremented on delete, so it is not a lifetime total.
type Metadata struct {
	Created       string `json:"created"`
	TotalMessages int    `json:"total_messages"`
	TotalSessions int    `json:"total_sessions"`
}

// Document is the whole store in its file form.
type Document struct {
	Sessions []*Session `json:"sessions"`
	Metadata Metadata   `json:"metadata"`
}

func newMetadata(now time.Time) Metadata {
	return Metadata{Created: formatTime(now)}
}

func newDocument(now time.Time) *Document {
	return &Document{Sessions: []*Session{}, Metadata: newMetadata(now)}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Turn is one exchange: the user's text and the reply that answered it.
type Turn struct {
	Message  string
	Response string
	Model    string
	Source   string
}

// Statistics summarizes the store.
type Statistics struct {
	TotalSessions  int     `json:"total_sessions"`
	TotalMessages  int     `json:"total_messages"`
	StorageCreated string  `json:"storage_created"`
	ActiveSessions int     `json:"active_sessions"`
	StorageSizeKB  float64 `json:"storage_size_kb"`
	Backend        string  `json:"backend"`
}
