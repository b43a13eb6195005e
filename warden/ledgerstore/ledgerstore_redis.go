package ledgerstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var redisLedgerPrefix string = "ledger/"

// Stores all records of one store under a single redis hash, JSON-encoded per field.
type RedisStore[V any] struct {
	Client *redis.Client
	// name of the redis hash, including prefix
	Key string
}

var _ Store[int] = (*RedisStore[int])(nil)

func NewRedisStore[V any](redisURL, name string) (*RedisStore[V], error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return NewRedisStoreFromClient[V](rdb, name), nil
}

func NewRedisStoreFromClient[V any](rdb *redis.Client, name string) *RedisStore[V] {
	return &RedisStore[V]{
		Client: rdb,
		Key:    redisLedgerPrefix + name,
	}
}

func (s *RedisStore[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var val V
	raw, err := s.Client.HGet(ctx, s.Key, key).Bytes()
	if err == redis.Nil {
		return val, false, nil
	} else if err != nil {
		return val, false, err
	}
	if err := json.Unmarshal(raw, &val); err != nil {
		return val, false, fmt.Errorf("decoding ledger record %q: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisStore[V]) Put(ctx context.Context, key string, val V) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding ledger record %q: %w", key, err)
	}
	return s.Client.HSet(ctx, s.Key, key, raw).Err()
}

func (s *RedisStore[V]) Delete(ctx context.Context, key string) error {
	return s.Client.HDel(ctx, s.Key, key).Err()
}

func (s *RedisStore[V]) Iterate(ctx context.Context, fn func(key string, val V) error) error {
	var cursor uint64
	for {
		fields, next, err := s.Client.HScan(ctx, s.Key, cursor, "", 100).Result()
		if err != nil {
			return err
		}
		// HSCAN replies with a flat [field, value, field, value, ...] list
		for i := 0; i+1 < len(fields); i += 2 {
			var val V
			if err := json.Unmarshal([]byte(fields[i+1]), &val); err != nil {
				return fmt.Errorf("decoding ledger record %q: %w", fields[i], err)
			}
			if err := fn(fields[i], val); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore[V]) Len(ctx context.Context) (int, error) {
	n, err := s.Client.HLen(ctx, s.Key).Result()
	return int(n), err
}

func (s *RedisStore[V]) Clear(ctx context.Context) error {
	return s.Client.Del(ctx, s.Key).Err()
}
