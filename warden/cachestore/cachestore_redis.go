package cachestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Redis-backed store with a small in-process LFU in front. Every key is namespaced by
// Prefix, so wardens on different IRC networks can share one redis without mixing up
// hosts of same-named users.
type RedisCacheStore struct {
	Client *redis.Client
	Data   *cache.Cache
	Prefix string
	TTL    time.Duration
}

var (
	_ CacheStore = (*RedisCacheStore)(nil)
	_ Mover      = (*RedisCacheStore)(nil)
)

func NewRedisCacheStore(redisURL, prefix string, ttl time.Duration) (*RedisCacheStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return NewRedisCacheStoreFromClient(rdb, prefix, ttl), nil
}

func NewRedisCacheStoreFromClient(rdb *redis.Client, prefix string, ttl time.Duration) *RedisCacheStore {
	data := cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(10_000, min(ttl, time.Minute)),
	})
	return &RedisCacheStore{
		Client: rdb,
		Data:   data,
		Prefix: prefix,
		TTL:    ttl,
	}
}

func (s *RedisCacheStore) key(name, key string) string {
	return s.Prefix + "cache/" + name + "/" + key
}

func (s *RedisCacheStore) Get(ctx context.Context, name, key string) (string, bool, error) {
	var val string
	switch err := s.Data.Get(ctx, s.key(name, key), &val); {
	case errors.Is(err, cache.ErrCacheMiss):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, name, key string, val string) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   s.key(name, key),
		Value: val,
		TTL:   s.TTL,
	})
}

func (s *RedisCacheStore) Purge(ctx context.Context, name, key string) error {
	if err := s.Data.Delete(ctx, s.key(name, key)); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return err
	}
	return nil
}

// Renames the entry in redis. The entry keeps its remaining TTL, and no reader ever sees
// both keys set or neither. A missing old key is a no-op.
func (s *RedisCacheStore) Move(ctx context.Context, name, oldKey, newKey string) error {
	if oldKey == newKey {
		return nil
	}
	from, to := s.key(name, oldKey), s.key(name, newKey)
	err := s.Client.Rename(ctx, from, to).Err()
	// drop stale local copies of both keys
	s.Data.DeleteFromLocalCache(from)
	s.Data.DeleteFromLocalCache(to)
	if err != nil && strings.Contains(err.Error(), "no such key") {
		return nil
	}
	return err
}

// Key prefix for the network behind the first configured server, eg "warden/irc.libera.chat/".
func NetworkPrefix(servers []string) string {
	if len(servers) == 0 {
		return "warden/"
	}
	host := servers[0]
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	return "warden/" + strings.ToLower(strings.Trim(host, "[]")) + "/"
}
