package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:checkout:"

// RedisStore keeps keys in Redis. Expiry is delegated to key TTLs so Sweep has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient dials Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *RedisStore) redisKey(key string) string {
	return redisKeyPrefix + documentID(key)
}

// update runs fn under WATCH so a concurrent writer forces a retry instead of a lost update.
func (s *RedisStore) update(ctx context.Context, key string, fn func(existing *Entry) (*Entry, time.Duration, error)) error {
	rkey := s.redisKey(key)
	txf := func(tx *redis.Tx) error {
		var existing *Entry
		raw, err := tx.Get(ctx, rkey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var entry Entry
			if err := json.Unmarshal(raw, &entry); err != nil {
				return fmt.Errorf("idempotency: decode redis entry: %w", err)
			}
			existing = &entry
		}

		next, ttl, err := fn(existing)
		if err != nil || next == nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, payload, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, txf, rkey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("idempotency: redis contention on %s", key)
}

// Acquire implements Store.
func (s *RedisStore) Acquire(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, *Response, error) {
	var (
		outcome Outcome
		resp    *Response
	)
	err := s.update(ctx, key, func(existing *Entry) (*Entry, time.Duration, error) {
		var err error
		outcome, resp, err = decide(existing, fingerprint, now)
		if err != nil || outcome != OutcomeAcquired {
			return nil, 0, err
		}
		entry := pendingEntry(key, fingerprint, now, ttl)
		return &entry, normaliseTTL(ttl), nil
	})
	if err != nil {
		return 0, nil, err
	}
	return outcome, resp, nil
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	return s.update(ctx, key, func(existing *Entry) (*Entry, time.Duration, error) {
		if existing != nil && existing.Fingerprint != fingerprint {
			return nil, 0, ErrKeyReused
		}
		entry := doneEntry(existing, key, fingerprint, resp, now, ttl)
		return &entry, normaliseTTL(ttl), nil
	})
}

// Forget implements Store.
func (s *RedisStore) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.redisKey(key)).Err()
}

// Sweep implements Store. Redis evicts expired keys itself.
func (s *RedisStore) Sweep(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
