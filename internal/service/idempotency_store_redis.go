package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type IdempotencyState string

const (
	IdempotencyStateNew        IdempotencyState = "new"
	IdempotencyStateInProgress IdempotencyState = "in_progress"
	IdempotencyStateConflict   IdempotencyState = "conflict"
	IdempotencyStateReplay     IdempotencyState = "replay"
)

// CachedHTTPResponse is the completed response stored for replay.
type CachedHTTPResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type IdempotencyResult struct {
	State  IdempotencyState
	Cached *CachedHTTPResponse
}

// IdempotencyStore lets unsafe endpoints replay a prior response when
// a client retries with the same Idempotency-Key. The fingerprint ties
// the key to the request payload, so reusing a key with a different
// body surfaces as a conflict instead of a silent replay.
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (*IdempotencyResult, error)
	Complete(ctx context.Context, scope, key, fingerprint string, resp CachedHTTPResponse, ttl time.Duration) error
}

type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

func NewRedisIdempotencyStore(client *redis.Client, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "idem"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

func (s *RedisIdempotencyStore) redisKey(scope, key string) string {
	return s.prefix + ":" + scope + ":" + key
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (*IdempotencyResult, error) {
	redisKey := s.redisKey(scope, key)

	created, err := s.client.HSetNX(ctx, redisKey, "fingerprint", fingerprint).Result()
	if err != nil {
		return nil, fmt.Errorf("begin idempotency record: %w", err)
	}
	if created {
		if err := s.client.HSet(ctx, redisKey, "status", string(IdempotencyStateInProgress)).Err(); err != nil {
			return nil, fmt.Errorf("mark idempotency in progress: %w", err)
		}
		if err := s.client.PExpire(ctx, redisKey, ttl).Err(); err != nil {
			return nil, fmt.Errorf("set idempotency ttl: %w", err)
		}
		return &IdempotencyResult{State: IdempotencyStateNew}, nil
	}

	fields, err := s.client.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read idempotency record: %w", err)
	}
	if fields["fingerprint"] != fingerprint {
		return &IdempotencyResult{State: IdempotencyStateConflict}, nil
	}
	if fields["status"] != "completed" {
		return &IdempotencyResult{State: IdempotencyStateInProgress}, nil
	}

	status, err := strconv.Atoi(fields["response_status"])
	if err != nil {
		return nil, fmt.Errorf("parse replay status: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(fields["response_body"])
	if err != nil {
		return nil, fmt.Errorf("decode replay body: %w", err)
	}
	return &IdempotencyResult{
		State: IdempotencyStateReplay,
		Cached: &CachedHTTPResponse{
			StatusCode:  status,
			ContentType: fields["content_type"],
			Body:        body,
		},
	}, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, scope, key, fingerprint string, resp CachedHTTPResponse, ttl time.Duration) error {
	redisKey := s.redisKey(scope, key)
	if err := s.client.HSet(ctx, redisKey,
		"fingerprint", fingerprint,
		"status", "completed",
		"response_status", strconv.Itoa(resp.StatusCode),
		"content_type", resp.ContentType,
		"response_body", base64.StdEncoding.EncodeToString(resp.Body),
	).Err(); err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	if err := s.client.PExpire(ctx, redisKey, ttl).Err(); err != nil {
		return fmt.Errorf("refresh idempotency ttl: %w", err)
	}
	return nil
}
