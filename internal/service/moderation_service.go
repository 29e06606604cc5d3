package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/membria/membria-api/internal/config"
	"github.com/membria/membria-api/internal/models"
	"github.com/membria/membria-api/internal/observability"
	"github.com/membria/membria-api/internal/repository"
)

// FilterResult reports the outcome of scanning one outgoing message.
type FilterResult struct {
	Text     string
	Flagged  bool
	AutoMute *models.SessionMute
}

// ModerationService owns the mute state machine and the profanity strike
// counter that drives auto-muting.
type ModerationService interface {
	// ActiveMute returns the currently effective mute for (session, user), or
	// nil. Expired rows found along the way are deactivated as a side effect.
	ActiveMute(ctx context.Context, sessionID uint, userID string) (*models.SessionMute, error)
	Mute(ctx context.Context, sessionID uint, targetID, actorID string, duration *time.Duration, reason string) (models.SessionMute, error)
	Unmute(ctx context.Context, sessionID uint, targetID string) error
	// Filter masks profane terms, records a strike per violation, and
	// auto-mutes once the strike threshold is reached. The message is never
	// rejected, only redacted.
	Filter(ctx context.Context, sessionID uint, userID, userName, text string) (FilterResult, error)
}

type moderationService struct {
	repo    repository.SessionChatRepository
	redis   *redis.Client
	limits  config.ChatLimits
	pattern *regexp.Regexp
	logger  zerolog.Logger
	now     func() time.Time
}

// NewModerationService constructs the moderation engine. The profanity word
// list and strike thresholds come from configuration, not package state.
func NewModerationService(repo repository.SessionChatRepository, redisClient *redis.Client, limits config.ChatLimits, words []string, logger zerolog.Logger) ModerationService {
	return &moderationService{
		repo:    repo,
		redis:   redisClient,
		limits:  limits,
		pattern: compileWordPattern(words),
		logger:  logger.With().Str("component", "moderation_service").Logger(),
		now:     time.Now,
	}
}

func compileWordPattern(words []string) *regexp.Regexp {
	if len(words) == 0 {
		return nil
	}
	quoted := make([]string, 0, len(words))
	for _, word := range words {
		trimmed := strings.TrimSpace(word)
		if trimmed != "" {
			quoted = append(quoted, regexp.QuoteMeta(trimmed))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

func (s *moderationService) ActiveMute(ctx context.Context, sessionID uint, userID string) (*models.SessionMute, error) {
	mutes, err := s.repo.ActiveMutes(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var effective *models.SessionMute
	for i := range mutes {
		mute := mutes[i]
		if mute.Effective(now) {
			if effective == nil {
				effective = &mute
			}
			continue
		}
		// Lazy expiry: the row outlived its window, retire it now.
		if err := s.repo.DeactivateMute(ctx, mute.ID, now); err != nil {
			s.logger.Warn().Err(err).Uint("mute_id", mute.ID).Msg("failed to deactivate expired mute")
		}
	}

	return effective, nil
}

func (s *moderationService) Mute(ctx context.Context, sessionID uint, targetID, actorID string, duration *time.Duration, reason string) (models.SessionMute, error) {
	now := s.now()

	// A new mute overwrites any existing active rows for the target.
	existing, err := s.repo.ActiveMutes(ctx, sessionID, targetID)
	if err != nil {
		return models.SessionMute{}, err
	}
	for _, mute := range existing {
		if err := s.repo.DeactivateMute(ctx, mute.ID, now); err != nil {
			return models.SessionMute{}, err
		}
	}

	mute := models.SessionMute{
		SessionID: sessionID,
		UserID:    targetID,
		MutedBy:   actorID,
		Reason:    reason,
		Active:    true,
	}
	if duration != nil {
		expires := now.Add(*duration)
		mute.ExpiresAt = &expires
	}

	if err := s.repo.CreateMute(ctx, &mute); err != nil {
		return models.SessionMute{}, err
	}

	observability.ChatModerationActions().WithLabelValues("mute").Inc()
	s.logger.Info().
		Uint("session_id", sessionID).
		Str("target_id", targetID).
		Str("actor_id", actorID).
		Msg("user muted")

	return mute, nil
}

func (s *moderationService) Unmute(ctx context.Context, sessionID uint, targetID string) error {
	mutes, err := s.repo.ActiveMutes(ctx, sessionID, targetID)
	if err != nil {
		return err
	}

	now := s.now()
	for _, mute := range mutes {
		if err := s.repo.DeactivateMute(ctx, mute.ID, now); err != nil {
			return err
		}
	}

	if len(mutes) > 0 {
		observability.ChatModerationActions().WithLabelValues("unmute").Inc()
	}
	return nil
}

func (s *moderationService) Filter(ctx context.Context, sessionID uint, userID, userName, text string) (FilterResult, error) {
	result := FilterResult{Text: text}
	if s.pattern == nil || !s.pattern.MatchString(text) {
		return result, nil
	}

	result.Flagged = true
	result.Text = s.pattern.ReplaceAllStringFunc(text, maskWord)
	observability.ChatModerationActions().WithLabelValues("profanity_flag").Inc()

	strikes, err := s.recordStrike(ctx, sessionID, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("strike counter unavailable, skipping auto-mute check")
		return result, nil
	}

	if strikes >= int64(s.limits.AutoMuteStrikes) {
		duration := s.limits.AutoMuteDuration
		reason := fmt.Sprintf("automatic mute after %d profanity violations", strikes)
		mute, err := s.Mute(ctx, sessionID, userID, "system", &duration, reason)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return result, nil
			}
			return result, err
		}
		result.AutoMute = &mute
		s.clearStrikes(ctx, sessionID, userID)
		observability.ChatModerationActions().WithLabelValues("auto_mute").Inc()
		s.logger.Info().
			Uint("session_id", sessionID).
			Str("user_id", userID).
			Str("user_name", userName).
			Int64("strikes", strikes).
			Msg("auto-muted after repeated profanity")
	}

	return result, nil
}

func (s *moderationService) recordStrike(ctx context.Context, sessionID uint, userID string) (int64, error) {
	if s.redis == nil {
		return 0, errors.New("strike cache not configured")
	}

	key := fmt.Sprintf("strikes:%d:%s", sessionID, userID)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, s.limits.StrikeWindow).Err(); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to set strike window expiry")
		}
	}
	return count, nil
}

func (s *moderationService) clearStrikes(ctx context.Context, sessionID uint, userID string) {
	if s.redis == nil {
		return
	}
	key := fmt.Sprintf("strikes:%d:%s", sessionID, userID)
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to clear strikes")
	}
}

func maskWord(word string) string {
	if len(word) <= 1 {
		return "*"
	}
	return word[:1] + strings.Repeat("*", len(word)-1)
}
