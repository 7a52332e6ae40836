package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNegativeLookupCacheStore shares negative lookups across gateway
// instances. Each miss is a plain TTL'd key; a per-namespace set tracks
// the live keys so InvalidateNamespace can delete them in one pass.
type RedisNegativeLookupCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisNegativeLookupCacheStore(client redis.UniversalClient, prefix string) *RedisNegativeLookupCacheStore {
	if prefix == "" {
		prefix = "negative_lookup"
	}
	return &RedisNegativeLookupCacheStore{client: client, prefix: prefix}
}

func (s *RedisNegativeLookupCacheStore) missKey(namespace, key string) string {
	return fmt.Sprintf("%s:miss:%s:%s", s.prefix, normalizeToken(namespace), hashToken(key))
}

func (s *RedisNegativeLookupCacheStore) indexKey(namespace string) string {
	return fmt.Sprintf("%s:ns:%s", s.prefix, normalizeToken(namespace))
}

func (s *RedisNegativeLookupCacheStore) Get(ctx context.Context, namespace, key string) (bool, error) {
	if s.client == nil {
		return false, nil
	}
	err := s.client.Get(ctx, s.missKey(namespace, key)).Err()
	switch {
	case err == redis.Nil:
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (s *RedisNegativeLookupCacheStore) Set(ctx context.Context, namespace, key string, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	miss := s.missKey(namespace, key)
	index := s.indexKey(namespace)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, miss, "1", ttl)
	pipe.SAdd(ctx, index, miss)
	// The index outlives its members slightly so late invalidations
	// still find them.
	pipe.Expire(ctx, index, ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisNegativeLookupCacheStore) InvalidateNamespace(ctx context.Context, namespace string) error {
	if s.client == nil {
		return nil
	}
	index := s.indexKey(namespace)
	members, err := s.client.SMembers(ctx, index).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := s.client.TxPipeline()
	if len(members) > 0 {
		pipe.Del(ctx, members...)
	}
	pipe.Del(ctx, index)
	_, err = pipe.Exec(ctx)
	return err
}
