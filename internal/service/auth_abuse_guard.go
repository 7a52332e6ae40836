package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTooManyAttempts signals an active abuse cooldown for the caller.
var ErrTooManyAttempts = errors.New("too many attempts")

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin  AuthAbuseScope = "login"
	AuthAbuseScopeForgot AuthAbuseScope = "forgot"
)

// AuthAbusePolicy shapes the escalating cooldown applied after repeated
// failures for the same identity or source IP.
type AuthAbusePolicy struct {
	// FreeAttempts failures are tolerated before any cooldown starts.
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// ResetWindow of inactivity clears the failure counter.
	ResetWindow time.Duration
}

func (p AuthAbusePolicy) normalized() AuthAbusePolicy {
	if p.FreeAttempts < 0 {
		p.FreeAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = 5 * time.Minute
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = 15 * time.Minute
	}
	return p
}

// AuthAbuseGuard dampens credential stuffing and reset-request floods.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
	now    func() time.Time
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse"
	}
	return &RedisAuthAbuseGuard{
		client: client,
		prefix: prefix,
		policy: policy.normalized(),
		now:    time.Now,
	}
}

func normalizeAuthIdentity(identity string) string {
	return normalizeEmail(identity)
}

func (g *RedisAuthAbuseGuard) stateKey(scope AuthAbuseScope, kind, value string) string {
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, scope, kind, hashToken(value))
}

func (g *RedisAuthAbuseGuard) subjectKeys(scope AuthAbuseScope, identity, ip string) []string {
	var keys []string
	if identity != "" {
		keys = append(keys, g.stateKey(scope, "id", normalizeAuthIdentity(identity)))
	}
	if ip != "" {
		keys = append(keys, g.stateKey(scope, "ip", ip))
	}
	return keys
}

// Check returns the remaining cooldown, zero when the subject may proceed.
func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := g.now()
	var remaining time.Duration
	for _, key := range g.subjectKeys(scope, identity, ip) {
		state, err := g.loadState(ctx, key)
		if err != nil {
			return 0, err
		}
		if state == nil {
			continue
		}
		if until := state.cooldownUntil.Sub(now); until > remaining {
			remaining = until
		}
	}
	return remaining, nil
}

// RegisterFailure records a failed attempt and returns the cooldown it
// triggers. The first FreeAttempts failures within the reset window cost
// nothing; after that the delay grows geometrically up to MaxDelay.
func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := g.now()
	var cooldown time.Duration
	for _, key := range g.subjectKeys(scope, identity, ip) {
		state, err := g.loadState(ctx, key)
		if err != nil {
			return 0, err
		}
		failures := 0
		if state != nil && now.Sub(state.lastFailure) <= g.policy.ResetWindow {
			failures = state.failures
		}
		failures++

		var delay time.Duration
		if failures > g.policy.FreeAttempts {
			delay = g.policy.BaseDelay
			for i := g.policy.FreeAttempts + 1; i < failures; i++ {
				delay = time.Duration(float64(delay) * g.policy.Multiplier)
				if delay >= g.policy.MaxDelay {
					delay = g.policy.MaxDelay
					break
				}
			}
			if delay > g.policy.MaxDelay {
				delay = g.policy.MaxDelay
			}
		}
		if delay > cooldown {
			cooldown = delay
		}

		pipe := g.client.TxPipeline()
		pipe.HSet(ctx, key,
			"failures", strconv.Itoa(failures),
			"last_failure_ms", strconv.FormatInt(now.UnixMilli(), 10),
			"cooldown_until_ms", strconv.FormatInt(now.Add(delay).UnixMilli(), 10),
		)
		pipe.PExpire(ctx, key, g.policy.ResetWindow+g.policy.MaxDelay)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, err
		}
	}
	return cooldown, nil
}

// Reset clears the failure state after a successful attempt.
func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	keys := g.subjectKeys(scope, identity, ip)
	if len(keys) == 0 {
		return nil
	}
	return g.client.Del(ctx, keys...).Err()
}

type abuseState struct {
	failures      int
	lastFailure   time.Time
	cooldownUntil time.Time
}

func (g *RedisAuthAbuseGuard) loadState(ctx context.Context, key string) (*abuseState, error) {
	fields, err := g.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	state := &abuseState{}
	if raw, ok := fields["failures"]; ok {
		state.failures, err = strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("abuse guard state %s: %w", key, err)
		}
	}
	lastMS, err := strconv.ParseInt(fields["last_failure_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("abuse guard state %s: %w", key, err)
	}
	untilMS, err := strconv.ParseInt(fields["cooldown_until_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("abuse guard state %s: %w", key, err)
	}
	state.lastFailure = time.UnixMilli(lastMS)
	state.cooldownUntil = time.UnixMilli(untilMS)
	return state, nil
}
