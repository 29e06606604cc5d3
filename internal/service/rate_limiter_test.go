package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/membria/membria-api/internal/config"
)

func testChatLimits() config.ChatLimits {
	return config.ChatLimits{
		MessageLimit:     5,
		MessageWindow:    10 * time.Second,
		ReactionLimit:    10,
		ReactionWindow:   time.Minute,
		AutoMuteStrikes:  3,
		AutoMuteDuration: 15 * time.Minute,
		StrikeWindow:     time.Hour,
		TypingTTL:        5 * time.Second,
		OnTimeWindow:     5 * time.Minute,
	}
}

func TestRateLimiterBlocksSixthMessage(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	limiter := NewRateLimiter(redisClient, testChatLimits(), zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Check(ctx, 1, "member-1", RateActionMessage, false))
	}

	err = limiter.Check(ctx, 1, "member-1", RateActionMessage, false)
	require.ErrorIs(t, err, ErrRateLimited)

	// Another member still has a full quota.
	require.NoError(t, limiter.Check(ctx, 1, "member-2", RateActionMessage, false))
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	limiter := NewRateLimiter(redisClient, testChatLimits(), zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Check(ctx, 1, "member-1", RateActionMessage, false))
	}
	require.ErrorIs(t, limiter.Check(ctx, 1, "member-1", RateActionMessage, false), ErrRateLimited)

	mini.FastForward(11 * time.Second)

	require.NoError(t, limiter.Check(ctx, 1, "member-1", RateActionMessage, false))
}

func TestRateLimiterBypassForModerators(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	limiter := NewRateLimiter(redisClient, testChatLimits(), zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, limiter.Check(ctx, 1, "instructor-1", RateActionMessage, true))
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	ctx := context.Background()

	// No Redis configured at all.
	limiter := NewRateLimiter(nil, testChatLimits(), zerolog.Nop())
	for i := 0; i < 20; i++ {
		require.NoError(t, limiter.Check(ctx, 1, "member-1", RateActionMessage, false))
	}

	// Redis configured but unreachable.
	mini, err := miniredis.Run()
	require.NoError(t, err)
	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	mini.Close()

	limiter = NewRateLimiter(redisClient, testChatLimits(), zerolog.Nop())
	require.NoError(t, limiter.Check(ctx, 1, "member-1", RateActionMessage, false))
}

func TestRateLimiterSeparateReactionQuota(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	limiter := NewRateLimiter(redisClient, testChatLimits(), zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Check(ctx, 1, "member-1", RateActionMessage, false))
	}
	require.ErrorIs(t, limiter.Check(ctx, 1, "member-1", RateActionMessage, false), ErrRateLimited)

	// Message exhaustion must not consume the reaction quota.
	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.Check(ctx, 1, "member-1", RateActionReaction, false))
	}
	require.ErrorIs(t, limiter.Check(ctx, 1, "member-1", RateActionReaction, false), ErrRateLimited)
}
