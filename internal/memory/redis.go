package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redisSessionsKey = "nitro:sessions"      // hash: id -> session JSON
	redisOrderKey    = "nitro:session_order" // sorted set: id scored by creation sequence
	redisSeqKey      = "nitro:session_seq"
	redisMetaKey     = "nitro:meta"
)

// RedisOptions holds connection settings for the redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisBackend stores one hash field per session.
type RedisBackend struct {
	rdb *redis.Client
}

// NewRedisBackend connects and pings the server.
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "redis ping failed")
	}
	return &RedisBackend{rdb: rdb}, nil
}

// Name implements Backend.
func (b *RedisBackend) Name() string { return "redis" }

// LoadMeta implements Backend.
func (b *RedisBackend) LoadMeta(ctx context.Context) (Metadata, bool, error) {
	raw, err := b.rdb.Get(ctx, redisMetaKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, errors.Wrap(err, "load metadata")
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		log.Error().Err(err).Msg("corrupt store metadata, starting fresh counters")
		return Metadata{}, false, nil
	}
	return meta, true, nil
}

// GetSession implements Backend.
func (b *RedisBackend) GetSession(ctx context.Context, id string) (*Session, error) {
	raw, err := b.rdb.HGet(ctx, redisSessionsKey, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	s, err := decodeSession(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	return s, nil
}

// ListSessions implements Backend.
func (b *RedisBackend) ListSessions(ctx context.Context) ([]*Session, error) {
	ids, err := b.rdb.ZRange(ctx, redisOrderKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list session order")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	vals, err := b.rdb.HMGet(ctx, redisSessionsKey, ids...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}

	out := make([]*Session, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		s, err := decodeSession([]byte(str))
		if err != nil {
			log.Error().Err(err).Str("session_id", ids[i]).Msg("skipping corrupt session")
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// PutSession implements Backend.
func (b *RedisBackend) PutSession(ctx context.Context, s *Session, meta Metadata) error {
	enc, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	metaEnc, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}

	exists, err := b.rdb.HExists(ctx, redisSessionsKey, s.SessionID).Result()
	if err != nil {
		return errors.Wrap(err, "check session")
	}
	var seq int64
	if !exists {
		if seq, err = b.rdb.Incr(ctx, redisSeqKey).Result(); err != nil {
			return errors.Wrap(err, "next sequence")
		}
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisSessionsKey, s.SessionID, enc)
		if !exists {
			pipe.ZAdd(ctx, redisOrderKey, redis.Z{Score: float64(seq), Member: s.SessionID})
		}
		pipe.Set(ctx, redisMetaKey, metaEnc, 0)
		return nil
	})
	return errors.Wrap(err, "save session")
}

// DeleteSession implements Backend.
func (b *RedisBackend) DeleteSession(ctx context.Context, id string, meta Metadata) (bool, error) {
	metaEnc, err := json.Marshal(meta)
	if err != nil {
		return false, errors.Wrap(err, "encode metadata")
	}

	exists, err := b.rdb.HExists(ctx, redisSessionsKey, id).Result()
	if err != nil {
		return false, errors.Wrap(err, "check session")
	}
	if !exists {
		return false, nil
	}

	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, redisSessionsKey, id)
		pipe.ZRem(ctx, redisOrderKey, id)
		pipe.Set(ctx, redisMetaKey, metaEnc, 0)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "delete session")
	}
	return true, nil
}

// Reset implements Backend.
func (b *RedisBackend) Reset(ctx context.Context, meta Metadata) error {
	metaEnc, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisSessionsKey, redisOrderKey, redisSeqKey)
		pipe.Set(ctx, redisMetaKey, metaEnc, 0)
		return nil
	})
	return errors.Wrap(err, "reset store")
}

// Size implements Backend. It is the byte length of the stored values.
func (b *RedisBackend) Size(ctx context.Context) (int64, error) {
	vals, err := b.rdb.HVals(ctx, redisSessionsKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "size")
	}
	var size int64
	for _, v := range vals {
		size += int64(len(v))
	}
	metaLen, err := b.rdb.StrLen(ctx, redisMetaKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "size")
	}
	return size + metaLen, nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error { return b.rdb.Close() }
