package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/membria/membria-api/internal/config"
	"github.com/membria/membria-api/internal/observability"
)

// RateAction identifies the kind of chat action being throttled.
type RateAction string

// Throttled action kinds.
const (
	RateActionMessage  RateAction = "message"
	RateActionReaction RateAction = "reaction"
)

// RateLimiter enforces fixed-window per-user quotas backed by Redis. The
// first action in a window creates the counter with the window as TTL;
// subsequent actions increment it. When Redis is unreachable the limiter
// fails open: availability is preferred over strict enforcement.
type RateLimiter struct {
	redis  *redis.Client
	limits config.ChatLimits
	logger zerolog.Logger
}

// NewRateLimiter constructs a rate limiter with the supplied limits.
func NewRateLimiter(redisClient *redis.Client, limits config.ChatLimits, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		limits: limits,
		logger: logger.With().Str("component", "rate_limiter").Logger(),
	}
}

// Check returns nil when the action is allowed and ErrRateLimited once the
// window quota is exhausted. Privileged callers pass bypass=true and never
// consume quota.
func (l *RateLimiter) Check(ctx context.Context, sessionID uint, userID string, action RateAction, bypass bool) error {
	if bypass {
		return nil
	}
	if l.redis == nil {
		return nil
	}

	limit, window := l.limits.MessageLimit, l.limits.MessageWindow
	if action == RateActionReaction {
		limit, window = l.limits.ReactionLimit, l.limits.ReactionWindow
	}

	key := fmt.Sprintf("ratelimit:%s:%d:%s", action, sessionID, userID)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn().Err(err).Str("user_id", userID).Msg("rate limit backend unavailable, allowing action")
		return nil
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, window).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("failed to set rate limit window expiry")
		}
	}

	if count > int64(limit) {
		observability.ChatRateLimitRejections().WithLabelValues(string(action)).Inc()
		return ErrRateLimited
	}

	return nil
}

// Reset clears the counter for one (action, user) pair. Used by tests and by
// moderation tooling when an instructor pardons a member.
func (l *RateLimiter) Reset(ctx context.Context, sessionID uint, userID string, action RateAction) {
	if l.redis == nil {
		return
	}
	key := fmt.Sprintf("ratelimit:%s:%d:%s", action, sessionID, userID)
	if err := l.redis.Del(ctx, key).Err(); err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("failed to reset rate limit counter")
	}
}

// Window exposes the configured window for an action so callers can surface
// retry hints.
func (l *RateLimiter) Window(action RateAction) time.Duration {
	if action == RateActionReaction {
		return l.limits.ReactionWindow
	}
	return l.limits.MessageWindow
}
