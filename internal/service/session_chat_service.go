package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/membria/membria-api/internal/config"
	"github.com/membria/membria-api/internal/dto"
	"github.com/membria/membria-api/internal/models"
	"github.com/membria/membria-api/internal/observability"
	"github.com/membria/membria-api/internal/repository"
)

// Actor identifies the user performing a chat operation.
type Actor struct {
	UserID   string
	UserName string
	Role     string
}

// Privileged reports whether the actor may moderate: delete messages, mute,
// unmute, and bypass rate limits.
func (a Actor) Privileged() bool {
	switch strings.ToLower(a.Role) {
	case "instructor", "admin":
		return true
	}
	return false
}

// SendResult bundles the stored message with the auto-mute the send may have
// triggered, so the transport can announce both.
type SendResult struct {
	Message  dto.ChatMessageResponse
	AutoMute *models.SessionMute
}

// SessionChatService exposes exactly the operations the transport layer
// needs. It composes the rate limiter, the moderation engine, and the chat
// repository; its only state of its own is the ephemeral typing cache.
type SessionChatService interface {
	Send(ctx context.Context, sessionID uint, sender Actor, req dto.ChatSendRequest) (SendResult, error)
	List(ctx context.Context, sessionID uint, viewer Actor) ([]dto.ChatMessageResponse, error)
	Delete(ctx context.Context, sessionID, messageID uint, actor Actor) error
	React(ctx context.Context, sessionID, messageID uint, actor Actor, kind string) (dto.ChatMessageResponse, error)
	Mute(ctx context.Context, sessionID uint, actor Actor, targetID string, durationMinutes int, reason string) (dto.MuteResponse, error)
	Unmute(ctx context.Context, sessionID uint, actor Actor, targetID string) error
	RaiseHand(ctx context.Context, sessionID uint, actor Actor) (dto.RaisedHandResponse, error)
	LowerHand(ctx context.Context, sessionID uint, actor Actor, targetID string) error
	RaisedHands(ctx context.Context, sessionID uint) ([]dto.RaisedHandResponse, error)
	SetTyping(ctx context.Context, sessionID uint, actor Actor, typing bool) error
	TypingUsers(ctx context.Context, sessionID uint) ([]dto.ActiveUserResponse, error)
	Export(ctx context.Context, sessionID uint, viewer Actor, format string, includePrivate bool) ([]byte, string, error)
	RecordJoin(ctx context.Context, sessionID uint, actor Actor) error
	RecordLeave(ctx context.Context, sessionID uint, actor Actor) error
}

type sessionChatService struct {
	repo       repository.SessionChatRepository
	limiter    *RateLimiter
	moderation ModerationService
	redis      *redis.Client
	limits     config.ChatLimits
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewSessionChatService creates the chat orchestration service.
func NewSessionChatService(
	repo repository.SessionChatRepository,
	limiter *RateLimiter,
	moderation ModerationService,
	redisClient *redis.Client,
	limits config.ChatLimits,
	validate *validator.Validate,
	logger zerolog.Logger,
) SessionChatService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	return &sessionChatService{
		repo:       repo,
		limiter:    limiter,
		moderation: moderation,
		redis:      redisClient,
		limits:     limits,
		validator:  validate,
		sanitizer:  sanitizer,
		logger:     logger.With().Str("component", "session_chat_service").Logger(),
		tracer:     otel.Tracer("github.com/membria/membria-api/internal/service/session_chat"),
		now:        time.Now,
	}
}

func (s *sessionChatService) Send(ctx context.Context, sessionID uint, sender Actor, req dto.ChatSendRequest) (SendResult, error) {
	clean := strings.TrimSpace(s.sanitizer.Sanitize(req.Message))
	if clean == "" {
		return SendResult{}, ErrEmptyMessage
	}
	if req.IsPrivate && strings.TrimSpace(req.RecipientID) == "" {
		return SendResult{}, fmt.Errorf("private message requires a recipient: %w", ErrEmptyMessage)
	}
	if err := s.validator.Struct(req); err != nil {
		return SendResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.Int64("chat.session_id", int64(sessionID)),
		attribute.String("chat.sender_id", sender.UserID),
		attribute.Bool("chat.private", req.IsPrivate),
	))
	defer span.End()

	mute, err := s.moderation.ActiveMute(ctx, sessionID, sender.UserID)
	if err != nil {
		span.RecordError(err)
		return SendResult{}, fmt.Errorf("mute lookup failed: %w", err)
	}
	if mute != nil {
		return SendResult{}, &MutedError{Reason: mute.Reason, ExpiresAt: mute.ExpiresAt}
	}

	if err := s.limiter.Check(ctx, sessionID, sender.UserID, RateActionMessage, sender.Privileged()); err != nil {
		return SendResult{}, err
	}

	filtered, err := s.moderation.Filter(ctx, sessionID, sender.UserID, sender.UserName, clean)
	if err != nil {
		span.RecordError(err)
		return SendResult{}, fmt.Errorf("moderation filter failed: %w", err)
	}

	message := models.ChatMessage{
		SessionID:  sessionID,
		SenderID:   sender.UserID,
		SenderName: sender.UserName,
		Content:    filtered.Text,
		IsPrivate:  req.IsPrivate,
		CreatedAt:  s.now().UTC(),
	}
	if req.IsPrivate {
		message.RecipientID = strings.TrimSpace(req.RecipientID)
		message.RecipientName = strings.TrimSpace(req.RecipientName)
	}

	if err := s.repo.SaveMessage(ctx, &message); err != nil {
		span.RecordError(err)
		return SendResult{}, fmt.Errorf("failed to store message: %w", err)
	}

	kind := "public"
	if message.IsPrivate {
		kind = "private"
	}
	observability.ChatMessagesSent().WithLabelValues(kind).Inc()

	return SendResult{
		Message:  dto.NewChatMessageResponse(message),
		AutoMute: filtered.AutoMute,
	}, nil
}

func (s *sessionChatService) List(ctx context.Context, sessionID uint, viewer Actor) ([]dto.ChatMessageResponse, error) {
	messages, err := s.repo.ListMessages(ctx, sessionID, viewer.UserID, viewer.Privileged())
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return dto.NewChatMessageResponseSlice(messages), nil
}

func (s *sessionChatService) Delete(ctx context.Context, sessionID, messageID uint, actor Actor) error {
	if !actor.Privileged() {
		return ErrPermissionDenied
	}

	err := s.repo.SoftDeleteMessage(ctx, sessionID, messageID, actor.UserID, s.now().UTC())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}

	observability.ChatModerationActions().WithLabelValues("delete").Inc()
	return nil
}

func (s *sessionChatService) React(ctx context.Context, sessionID, messageID uint, actor Actor, kind string) (dto.ChatMessageResponse, error) {
	if !models.ValidReaction(kind) {
		return dto.ChatMessageResponse{}, ErrInvalidReaction
	}

	if err := s.limiter.Check(ctx, sessionID, actor.UserID, RateActionReaction, actor.Privileged()); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	message, err := s.repo.IncrementReaction(ctx, sessionID, messageID, actor.UserID, kind)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ChatMessageResponse{}, ErrMessageNotFound
		}
		return dto.ChatMessageResponse{}, fmt.Errorf("failed to record reaction: %w", err)
	}

	return dto.NewChatMessageResponse(message), nil
}

func (s *sessionChatService) Mute(ctx context.Context, sessionID uint, actor Actor, targetID string, durationMinutes int, reason string) (dto.MuteResponse, error) {
	if !actor.Privileged() {
		return dto.MuteResponse{}, ErrPermissionDenied
	}
	if strings.TrimSpace(targetID) == "" {
		return dto.MuteResponse{}, fmt.Errorf("mute target required: %w", ErrEmptyMessage)
	}

	var duration *time.Duration
	if durationMinutes > 0 {
		d := time.Duration(durationMinutes) * time.Minute
		duration = &d
	}

	mute, err := s.moderation.Mute(ctx, sessionID, targetID, actor.UserID, duration, reason)
	if err != nil {
		return dto.MuteResponse{}, fmt.Errorf("failed to mute user: %w", err)
	}

	return dto.NewMuteResponse(mute), nil
}

func (s *sessionChatService) Unmute(ctx context.Context, sessionID uint, actor Actor, targetID string) error {
	if !actor.Privileged() {
		return ErrPermissionDenied
	}

	if err := s.moderation.Unmute(ctx, sessionID, targetID); err != nil {
		return fmt.Errorf("failed to unmute user: %w", err)
	}
	return nil
}

func (s *sessionChatService) RaiseHand(ctx context.Context, sessionID uint, actor Actor) (dto.RaisedHandResponse, error) {
	existing, err := s.repo.ActiveHand(ctx, sessionID, actor.UserID)
	if err == nil {
		// Raising an already-raised hand is idempotent.
		return dto.NewRaisedHandResponse(existing), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.RaisedHandResponse{}, fmt.Errorf("raised hand lookup failed: %w", err)
	}

	hand := models.RaisedHand{
		SessionID: sessionID,
		UserID:    actor.UserID,
		UserName:  actor.UserName,
		Active:    true,
		RaisedAt:  s.now().UTC(),
	}
	if err := s.repo.CreateHand(ctx, &hand); err != nil {
		return dto.RaisedHandResponse{}, fmt.Errorf("failed to raise hand: %w", err)
	}

	return dto.NewRaisedHandResponse(hand), nil
}

func (s *sessionChatService) LowerHand(ctx context.Context, sessionID uint, actor Actor, targetID string) error {
	userID := actor.UserID
	acknowledgedBy := ""
	if targetID != "" && targetID != actor.UserID {
		if !actor.Privileged() {
			return ErrPermissionDenied
		}
		userID = targetID
		acknowledgedBy = actor.UserID
	}

	err := s.repo.LowerHand(ctx, sessionID, userID, acknowledgedBy, s.now().UTC())
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to lower hand: %w", err)
	}
	// Lowering an already-lowered hand is a no-op.
	return nil
}

func (s *sessionChatService) RaisedHands(ctx context.Context, sessionID uint) ([]dto.RaisedHandResponse, error) {
	hands, err := s.repo.ActiveHands(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list raised hands: %w", err)
	}
	return dto.NewRaisedHandResponseSlice(hands), nil
}

// SetTyping flips the ephemeral typing flag. Indicators are intentionally
// lossy: a lost typing_stop is backstopped by the key's TTL.
func (s *sessionChatService) SetTyping(ctx context.Context, sessionID uint, actor Actor, typing bool) error {
	if s.redis == nil {
		return nil
	}

	key := typingKey(sessionID, actor.UserID)
	if typing {
		if err := s.redis.Set(ctx, key, actor.UserName, s.limits.TypingTTL).Err(); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to set typing indicator")
		}
		return nil
	}

	if err := s.redis.Del(ctx, key).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to clear typing indicator")
	}
	return nil
}

func (s *sessionChatService) TypingUsers(ctx context.Context, sessionID uint) ([]dto.ActiveUserResponse, error) {
	if s.redis == nil {
		return nil, nil
	}

	pattern := fmt.Sprintf("typing:%d:*", sessionID)
	keys, err := s.redis.Keys(ctx, pattern).Result()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to scan typing indicators")
		return nil, nil
	}

	prefix := fmt.Sprintf("typing:%d:", sessionID)
	users := make([]dto.ActiveUserResponse, 0, len(keys))
	for _, key := range keys {
		name, err := s.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		users = append(users, dto.ActiveUserResponse{
			UserID:   strings.TrimPrefix(key, prefix),
			UserName: name,
		})
	}
	return users, nil
}

func (s *sessionChatService) RecordJoin(ctx context.Context, sessionID uint, actor Actor) error {
	record := models.AttendanceRecord{
		SessionID: sessionID,
		UserID:    actor.UserID,
		UserName:  actor.UserName,
		JoinedAt:  s.now().UTC(),
	}
	if err := s.repo.CreateAttendance(ctx, &record); err != nil {
		return fmt.Errorf("failed to record join: %w", err)
	}
	return nil
}

func (s *sessionChatService) RecordLeave(ctx context.Context, sessionID uint, actor Actor) error {
	err := s.repo.CloseAttendance(ctx, sessionID, actor.UserID, s.now().UTC())
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to record leave: %w", err)
	}
	return nil
}

func typingKey(sessionID uint, userID string) string {
	return fmt.Sprintf("typing:%d:%s", sessionID, userID)
}
