package memory

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketSessions = []byte("sessions")
	bucketOrder    = []byte("session_order") // seq -> session id
	bucketSeq      = []byte("session_seq")   // session id -> seq
	bucketMeta     = []byte("meta")
	keyMetadata    = []byte("metadata")
)

// BoltBackend stores one key per session in a bbolt file.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (or creates) the bbolt file at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSessions, bucketOrder, bucketSeq, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}
	return &BoltBackend{db: db}, nil
}

// Name implements Backend.
func (b *BoltBackend) Name() string { return "bolt" }

// LoadMeta implements Backend.
func (b *BoltBackend) LoadMeta(ctx context.Context) (Metadata, bool, error) {
	var (
		meta Metadata
		ok   bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyMetadata)
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &meta); err != nil {
			log.Error().Err(err).Msg("corrupt store metadata, starting fresh counters")
			return nil
		}
		ok = true
		return nil
	})
	return meta, ok, errors.Wrap(err, "load metadata")
}

func decodeSession(v []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, err
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	return &s, nil
}

// GetSession implements Backend.
func (b *BoltBackend) GetSession(ctx context.Context, id string) (*Session, error) {
	var s *Session
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSessions).Get([]byte(id))
		if v == nil {
			return ErrSessionNotFound
		}
		var err error
		s, err = decodeSession(v)
		return err
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	return s, nil
}

// ListSessions implements Backend.
func (b *BoltBackend) ListSessions(ctx context.Context) ([]*Session, error) {
	var out []*Session
	err := b.db.View(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		return tx.Bucket(bucketOrder).ForEach(func(_, id []byte) error {
			v := sessions.Get(id)
			if v == nil {
				return nil
			}
			s, err := decodeSession(v)
			if err != nil {
				log.Error().Err(err).Str("session_id", string(id)).Msg("skipping corrupt session")
				return nil
			}
			out = append(out, s)
			return nil
		})
	})
	return out, errors.Wrap(err, "list sessions")
}

func putBoltMeta(tx *bolt.Tx, meta Metadata) error {
	enc, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketMeta).Put(keyMetadata, enc)
}

// PutSession implements Backend.
func (b *BoltBackend) PutSession(ctx context.Context, s *Session, meta Metadata) error {
	enc, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		id := []byte(s.SessionID)
		seqs := tx.Bucket(bucketSeq)
		if seqs.Get(id) == nil {
			order := tx.Bucket(bucketOrder)
			n, err := order.NextSequence()
			if err != nil {
				return err
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, n)
			if err := order.Put(key, id); err != nil {
				return err
			}
			if err := seqs.Put(id, key); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketSessions).Put(id, enc); err != nil {
			return err
		}
		return putBoltMeta(tx, meta)
	})
	return errors.Wrap(err, "save session")
}

// DeleteSession implements Backend.
func (b *BoltBackend) DeleteSession(ctx context.Context, id string, meta Metadata) (bool, error) {
	found := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		key := []byte(id)
		sessions := tx.Bucket(bucketSessions)
		if sessions.Get(key) == nil {
			return nil
		}
		found = true
		if seq := tx.Bucket(bucketSeq).Get(key); seq != nil {
			if err := tx.Bucket(bucketOrder).Delete(seq); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketSeq).Delete(key); err != nil {
			return err
		}
		if err := sessions.Delete(key); err != nil {
			return err
		}
		return putBoltMeta(tx, meta)
	})
	if err != nil {
		return false, errors.Wrap(err, "delete session")
	}
	return found, nil
}

// Reset implements Backend.
func (b *BoltBackend) Reset(ctx context.Context, meta Metadata) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSessions, bucketOrder, bucketSeq} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return putBoltMeta(tx, meta)
	})
	return errors.Wrap(err, "reset store")
}

// Size implements Backend.
func (b *BoltBackend) Size(ctx context.Context) (int64, error) {
	var size int64
	err := b.db.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size, err
}

// Close implements Backend.
func (b *BoltBackend) Close() error { return b.db.Close() }
