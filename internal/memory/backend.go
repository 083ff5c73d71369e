package memory

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/normanking/nitro/internal/config"
)

// Backend persists sessions and metadata. Implementations need not be safe
// for concurrent use; Store serializes every call.
//
// PutSession and DeleteSession write the session change and the new metadata
// together, so a crash never leaves counters and sessions out of step.
type Backend interface {
	Name() string

	// LoadMeta returns the metadata, or ok=false when the store is empty.
	LoadMeta(ctx context.Context) (meta Metadata, ok bool, err error)
	GetSession(ctx context.Context, id string) (*Session, error)
	// ListSessions returns every session in creation order.
	ListSessions(ctx context.Context) ([]*Session, error)
	PutSession(ctx context.Context, s *Session, meta Metadata) error
	DeleteSession(ctx context.Context, id string, meta Metadata) (bool, error)
	// Reset drops every session and writes meta.
	Reset(ctx context.Context, meta Metadata) error
	// Size is the storage footprint in bytes.
	Size(ctx context.Context) (int64, error)
	Close() error
}

// OpenBackend builds the backend selected by cfg.Storage.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	sc := cfg.Storage
	switch strings.ToLower(sc.Backend) {
	case "", "json":
		return NewJSONBackend(cfg.StorePath())
	case "sqlite":
		return NewSQLiteBackend(ctx, cfg.StorePath())
	case "bolt", "bbolt":
		return NewBoltBackend(cfg.StorePath())
	case "redis":
		return NewRedisBackend(ctx, RedisOptions{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", sc.Backend)
	}
}

// Open builds the configured backend and a Store over it.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	b, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, b)
	if err != nil {
		b.Close()
		return nil, err
	}
	return s, nil
}
