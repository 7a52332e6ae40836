package service

import (
	"context"
	"errors"
	"time"

	"github.com/owlby/owlby-backend/internal/domain"
	"github.com/owlby/owlby-backend/internal/repository"
)

const userResolverNamespace = "auth.users"

// NewCachedUserResolver wraps the per-request user lookup behind the auth
// middleware with a negative cache. Tokens for deleted accounts keep
// arriving until they expire; caching the miss keeps them off the
// database. Positive results are never cached so profile updates stay
// visible immediately.
func NewCachedUserResolver(users repository.UserRepository, cache NegativeLookupCacheStore, ttl time.Duration) func(context.Context, string) (*domain.User, error) {
	if cache == nil {
		cache = NewNoopNegativeLookupCacheStore()
	}
	return func(ctx context.Context, userID string) (*domain.User, error) {
		if hit, err := cache.Get(ctx, userResolverNamespace, userID); err == nil && hit {
			return nil, repository.ErrUserNotFound
		}
		user, err := users.FindByID(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				_ = cache.Set(ctx, userResolverNamespace, userID, ttl)
			}
			return nil, err
		}
		return user, nil
	}
}
