package service

import (
	"context"
	"sync"
	"time"
)

// NegativeLookupCacheStore remembers that a lookup came back empty, so
// repeated probes for the same missing record can be answered without
// touching the backing store. Entries expire on their own; a namespace
// can also be dropped wholesale after a write that may fill the gap.
type NegativeLookupCacheStore interface {
	Get(ctx context.Context, namespace, key string) (bool, error)
	Set(ctx context.Context, namespace, key string, ttl time.Duration) error
	InvalidateNamespace(ctx context.Context, namespace string) error
}

// NoopNegativeLookupCacheStore disables miss caching.
type NoopNegativeLookupCacheStore struct{}

func NewNoopNegativeLookupCacheStore() *NoopNegativeLookupCacheStore {
	return &NoopNegativeLookupCacheStore{}
}

func (*NoopNegativeLookupCacheStore) Get(context.Context, string, string) (bool, error) {
	return false, nil
}

func (*NoopNegativeLookupCacheStore) Set(context.Context, string, string, time.Duration) error {
	return nil
}

func (*NoopNegativeLookupCacheStore) InvalidateNamespace(context.Context, string) error {
	return nil
}

// InMemoryNegativeLookupCacheStore is the single-process fallback used
// when redis is not configured. Expired entries are purged lazily on
// read and write.
type InMemoryNegativeLookupCacheStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewInMemoryNegativeLookupCacheStore() *InMemoryNegativeLookupCacheStore {
	return &InMemoryNegativeLookupCacheStore{entries: make(map[string]time.Time)}
}

func memCacheKey(namespace, key string) string {
	return namespace + "\x00" + key
}

func (s *InMemoryNegativeLookupCacheStore) Get(_ context.Context, namespace, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.entries[memCacheKey(namespace, key)]
	if !ok {
		return false, nil
	}
	if time.Now().After(deadline) {
		delete(s.entries, memCacheKey(namespace, key))
		return false, nil
	}
	return true, nil
}

func (s *InMemoryNegativeLookupCacheStore) Set(_ context.Context, namespace, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, deadline := range s.entries {
		if now.After(deadline) {
			delete(s.entries, k)
		}
	}
	s.entries[memCacheKey(namespace, key)] = now.Add(ttl)
	return nil
}

func (s *InMemoryNegativeLookupCacheStore) InvalidateNamespace(_ context.Context, namespace string) error {
	prefix := namespace + "\x00"
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.entries, k)
		}
	}
	return nil
}
