package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aman-churiwal/ratelimit-service/internal/storage"
	"github.com/redis/go-redis/v9"
)

const defaultMaxRetries = 10

var errTooManyRetries = errors.New("too many concurrent updates")

// RedisStore keeps each record as a JSON string with a native expiry, so all
// service instances share one view of every window.
type RedisStore struct {
	redis      *storage.RedisClient
	maxRetries int
}

func NewRedisStore(redis *storage.RedisClient) *RedisStore {
	return &RedisStore{
		redis:      redis,
		maxRetries: defaultMaxRetries,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*WindowRecord, error) {
	data, err := s.redis.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Key: key, Err: err}
	}

	return decodeRecord(data), nil
}

func (s *RedisStore) Set(ctx context.Context, key string, record *WindowRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}

	if err := s.redis.Set(ctx, key, data, ttl); err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key); err != nil {
		return &StoreError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Update is a compare-and-swap loop: WATCH the key, compute, and write in
// MULTI/EXEC. A concurrent writer aborts the transaction and we retry.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) (*WindowRecord, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var next *WindowRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			var current *WindowRecord
			if err == nil {
				current = decodeRecord(data)
			}

			var ttl time.Duration
			next, ttl = fn(current)
			if next == nil {
				next = current
				return nil
			}

			payload, err := json.Marshal(next)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, ttl)
				return nil
			})
			return err
		}, key)

		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, &StoreError{Op: "update", Key: key, Err: err}
	}

	return nil, &StoreError{Op: "update", Key: key, Err: errTooManyRetries}
}

// A value that does not decode is treated as absent and gets overwritten
func decodeRecord(data string) *WindowRecord {
	var rec WindowRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil
	}
	return &rec
}
