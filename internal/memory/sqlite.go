package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteBackend stores one row per session.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (or creates) the database at path.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	b := &SQLiteBackend{db: db, path: path}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return b, nil
}

func (b *SQLiteBackend) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		last_updated TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		messages TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_last_updated ON sessions(last_updated DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS metadata (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		created TEXT NOT NULL,
		total_messages INTEGER NOT NULL,
		total_sessions INTEGER NOT NULL
	);
	`
	_, err := b.db.ExecContext(ctx, schema)
	return err
}

// Name implements Backend.
func (b *SQLiteBackend) Name() string { return "sqlite" }

// LoadMeta implements Backend.
func (b *SQLiteBackend) LoadMeta(ctx context.Context) (Metadata, bool, error) {
	var m Metadata
	err := b.db.QueryRowContext(ctx,
		`SELECT created, total_messages, total_sessions FROM metadata WHERE id = 1`,
	).Scan(&m.Created, &m.TotalMessages, &m.TotalSessions)
	if errors.Is(err, sql.ErrNoRows) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, errors.Wrap(err, "load metadata")
	}
	return m, true, nil
}

// scanSession reads one row. An undecodable messages column is an error, so
// the row is never rewritten over what could not be read.
func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var (
		s        Session
		messages string
	)
	if err := row.Scan(&s.SessionID, &s.UserID, &s.CreatedAt, &s.LastUpdated, &s.MessageCount, &messages); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &s.Messages); err != nil {
		return nil, errors.Wrapf(err, "decode messages of session %s", s.SessionID)
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	return &s, nil
}

// GetSession implements Backend.
func (b *SQLiteBackend) GetSession(ctx context.Context, id string) (*Session, error) {
	row := b.db.QueryRowContext(ctx, `
	SELECT session_id, user_id, created_at, last_updated, message_count, messages
	FROM sessions WHERE session_id = ?`, id)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	return s, nil
}

// ListSessions implements Backend.
func (b *SQLiteBackend) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := b.db.QueryContext(ctx, `
	SELECT session_id, user_id, created_at, last_updated, message_count, messages
	FROM sessions ORDER BY rowid`)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func putMeta(ctx context.Context, tx *sql.Tx, meta Metadata) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO metadata (id, created, total_messages, total_sessions)
	VALUES (1, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		created = excluded.created,
		total_messages = excluded.total_messages,
		total_sessions = excluded.total_sessions`,
		meta.Created, meta.TotalMessages, meta.TotalSessions)
	return err
}

// PutSession implements Backend.
func (b *SQLiteBackend) PutSession(ctx context.Context, s *Session, meta Metadata) error {
	messages, err := json.Marshal(s.Messages)
	if err != nil {
		return errors.Wrap(err, "encode messages")
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO sessions (session_id, user_id, created_at, last_updated, message_count, messages)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		user_id = excluded.user_id,
		last_updated = excluded.last_updated,
		message_count = excluded.message_count,
		messages = excluded.messages`,
		s.SessionID, s.UserID, s.CreatedAt, s.LastUpdated, s.MessageCount, string(messages))
	if err != nil {
		return errors.Wrap(err, "save session")
	}
	if err := putMeta(ctx, tx, meta); err != nil {
		return errors.Wrap(err, "save metadata")
	}
	return tx.Commit()
}

// DeleteSession implements Backend.
func (b *SQLiteBackend) DeleteSession(ctx context.Context, id string, meta Metadata) (bool, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "delete session")
	}
	if n == 0 {
		return false, nil
	}
	if err := putMeta(ctx, tx, meta); err != nil {
		return false, errors.Wrap(err, "save metadata")
	}
	return true, tx.Commit()
}

// Reset implements Backend.
func (b *SQLiteBackend) Reset(ctx context.Context, meta Metadata) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return errors.Wrap(err, "clear sessions")
	}
	if err := putMeta(ctx, tx, meta); err != nil {
		return errors.Wrap(err, "save metadata")
	}
	return tx.Commit()
}

// Size implements Backend.
func (b *SQLiteBackend) Size(ctx context.Context) (int64, error) {
	var pages, pageSize int64
	if err := b.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return 0, errors.Wrap(err, "page count")
	}
	if err := b.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, errors.Wrap(err, "page size")
	}
	return pages * pageSize, nil
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error { return b.db.Close() }
