package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrOneTimeTokenNotFound = errors.New("one-time token not found")

// OneTimeTokenStore holds short-lived single-use tokens for password
// reset and email verification. Consume removes the token atomically,
// so a token can only ever be redeemed once.
type OneTimeTokenStore interface {
	Put(ctx context.Context, kind, token, userID string, ttl time.Duration) error
	Consume(ctx context.Context, kind, token string) (string, error)
}

type RedisOneTimeTokenStore struct {
	client *redis.Client
	prefix string
}

func NewRedisOneTimeTokenStore(client *redis.Client, prefix string) *RedisOneTimeTokenStore {
	if prefix == "" {
		prefix = "onetime"
	}
	return &RedisOneTimeTokenStore{client: client, prefix: prefix}
}

func (s *RedisOneTimeTokenStore) key(kind, token string) string {
	return s.prefix + ":" + kind + ":" + token
}

func (s *RedisOneTimeTokenStore) Put(ctx context.Context, kind, token, userID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(kind, token), userID, ttl).Err()
}

func (s *RedisOneTimeTokenStore) Consume(ctx context.Context, kind, token string) (string, error) {
	userID, err := s.client.GetDel(ctx, s.key(kind, token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrOneTimeTokenNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

// MemoryOneTimeTokenStore backs single-process deployments and tests.
type MemoryOneTimeTokenStore struct {
	mu      sync.Mutex
	entries map[string]memoryTokenEntry
}

type memoryTokenEntry struct {
	userID    string
	expiresAt time.Time
}

func NewMemoryOneTimeTokenStore() *MemoryOneTimeTokenStore {
	return &MemoryOneTimeTokenStore{entries: make(map[string]memoryTokenEntry)}
}

func (s *MemoryOneTimeTokenStore) Put(_ context.Context, kind, token, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[kind+":"+token] = memoryTokenEntry{userID: userID, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryOneTimeTokenStore) Consume(_ context.Context, kind, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := kind + ":" + token
	entry, ok := s.entries[key]
	if !ok {
		return "", ErrOneTimeTokenNotFound
	}
	delete(s.entries, key)
	if time.Now().After(entry.expiresAt) {
		return "", ErrOneTimeTokenNotFound
	}
	return entry.userID, nil
}
