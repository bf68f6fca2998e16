// Package cache implements a Redis-backed cache-aside store.
//
// Values are stored as JSON envelopes carrying the absolute expiry so that a
// sliding TTL can be renewed on every hit without ever outliving the
// absolute one. Concurrent misses on the same key share one factory call.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// TTL describes how long an entry lives. Absolute is the hard limit measured
// from the write; Sliding, when positive, expires the entry earlier if it is
// not read within that window. Zero Absolute means no hard limit.
type TTL struct {
	Absolute time.Duration
	Sliding  time.Duration
}

type envelope struct {
	V       json.RawMessage `json:"v"`
	Exp     int64           `json:"exp,omitempty"`
	Sliding int64           `json:"sl,omitempty"`
}

// Store is safe for concurrent use.
type Store struct {
	rdb   redis.Cmdable
	ttl   TTL
	group singleflight.Group
	log   logging.Logger
	now   func() time.Time

	fillTimeout time.Duration
}

// DefaultFillTimeout bounds one shared factory call.
const DefaultFillTimeout = 10 * time.Second

// New returns a Store using ttl for entries written without an explicit TTL.
func New(rdb redis.Cmdable, ttl TTL, log logging.Logger) *Store {
	if log == nil {
		log = logging.NopLogger{}
	}
	return &Store{rdb: rdb, ttl: ttl, log: log, now: time.Now, fillTimeout: DefaultFillTimeout}
}

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Get looks up key and decodes it into T. A present entry that fails to
// decode is reported as common.ErrCacheCorruption, never as a miss.
func Get[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var zero T

	raw, ok, err := s.lookup(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		s.log.Error(ctx, "cache entry corrupted", "key", key, "error", err)
		return zero, false, fmt.Errorf("decode %q: %w", key, common.ErrCacheCorruption)
	}
	return v, true, nil
}

// GetOrCreate returns the cached value for key, or calls factory, caches its
// result and returns it. Factory errors are returned as is and nothing is
// cached. Concurrent callers missing the same key wait for a single factory
// call, which runs detached from any one caller's cancellation and is bounded
// by the store's fill timeout. An optional ttl overrides the store default.
func GetOrCreate[T any](ctx context.Context, s *Store, key string, factory func(ctx context.Context) (T, error), ttl ...TTL) (T, error) {
	t := s.ttl
	if len(ttl) > 0 {
		t = ttl[0]
	}
	return GetOrCreateWithTTL(ctx, s, key, func(ctx context.Context) (T, TTL, error) {
		v, err := factory(ctx)
		return v, t, err
	})
}

// GetOrCreateWithTTL is GetOrCreate for values whose lifetime is only known
// once they are built.
func GetOrCreateWithTTL[T any](ctx context.Context, s *Store, key string, factory func(ctx context.Context) (T, TTL, error)) (T, error) {
	var zero T

	if v, ok, err := Get[T](ctx, s, key); err != nil {
		return zero, err
	} else if ok {
		return v, nil
	}

	res, err, _ := s.group.Do(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fillTimeout)
		defer cancel()

		// another flight may have filled the key while we were queued
		if v, ok, err := Get[T](ctx, s, key); err != nil {
			return nil, err
		} else if ok {
			return v, nil
		}

		v, ttl, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.Set(ctx, key, v, ttl); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}

// DefaultTTL is the TTL applied when callers pass none.
func (s *Store) DefaultTTL() TTL { return s.ttl }

// Set writes value under key.
func (s *Store) Set(ctx context.Context, key string, value any, ttl ...TTL) error {
	t := s.ttl
	if len(ttl) > 0 {
		t = ttl[0]
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	env := envelope{V: raw, Sliding: int64(t.Sliding)}
	if t.Absolute > 0 {
		env.Exp = s.now().Add(t.Absolute).UnixNano()
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	if err := s.rdb.Set(ctx, key, b, redisTTL(t.Absolute, t.Sliding)).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Remove deletes keys. Missing keys are ignored.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *Store) lookup(ctx context.Context, key string) (json.RawMessage, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil || env.V == nil {
		s.log.Error(ctx, "cache envelope corrupted", "key", key)
		return nil, false, fmt.Errorf("envelope %q: %w", key, common.ErrCacheCorruption)
	}

	now := s.now()
	if env.Exp != 0 && now.UnixNano() >= env.Exp {
		return nil, false, nil
	}

	if env.Sliding > 0 {
		remaining := time.Duration(0)
		if env.Exp != 0 {
			remaining = time.Duration(env.Exp - now.UnixNano())
		}
		if err := s.rdb.PExpire(ctx, key, redisTTL(remaining, time.Duration(env.Sliding))).Err(); err != nil {
			s.log.Warn(ctx, "sliding ttl renewal failed", "key", key, "error", err)
		}
	}

	return env.V, true, nil
}

// redisTTL picks the key expiry: the sliding window capped by what remains
// of the absolute lifetime. Zero means the key never expires.
func redisTTL(absolute, sliding time.Duration) time.Duration {
	switch {
	case sliding <= 0:
		return absolute
	case absolute <= 0:
		return sliding
	default:
		return min(absolute, sliding)
	}
}
