package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/membria/membria-api/internal/models"
)

// SessionChatRepository persists chat messages, mutes, and raised hands for a
// live session. Domain rules the storage layer enforces: ascending message
// order, soft deletes only, and the private-message visibility filter.
type SessionChatRepository interface {
	SaveMessage(ctx context.Context, message *models.ChatMessage) error
	GetMessage(ctx context.Context, sessionID, messageID uint) (models.ChatMessage, error)
	ListMessages(ctx context.Context, sessionID uint, viewerID string, privileged bool) ([]models.ChatMessage, error)
	SoftDeleteMessage(ctx context.Context, sessionID, messageID uint, actor string, at time.Time) error
	IncrementReaction(ctx context.Context, sessionID, messageID uint, userID, kind string) (models.ChatMessage, error)

	CreateMute(ctx context.Context, mute *models.SessionMute) error
	ActiveMutes(ctx context.Context, sessionID uint, userID string) ([]models.SessionMute, error)
	DeactivateMute(ctx context.Context, muteID uint, at time.Time) error

	ActiveHand(ctx context.Context, sessionID uint, userID string) (models.RaisedHand, error)
	CreateHand(ctx context.Context, hand *models.RaisedHand) error
	LowerHand(ctx context.Context, sessionID uint, userID, acknowledgedBy string, at time.Time) error
	ActiveHands(ctx context.Context, sessionID uint) ([]models.RaisedHand, error)

	CreateAttendance(ctx context.Context, record *models.AttendanceRecord) error
	CloseAttendance(ctx context.Context, sessionID uint, userID string, at time.Time) error
}

type sessionChatRepository struct {
	db *gorm.DB
}

// NewSessionChatRepository constructs a chat repository backed by GORM.
func NewSessionChatRepository(db *gorm.DB) SessionChatRepository {
	return &sessionChatRepository{db: db}
}

func (r *sessionChatRepository) SaveMessage(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *sessionChatRepository) GetMessage(ctx context.Context, sessionID, messageID uint) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND id = ? AND deleted = ?", sessionID, messageID, false).
		First(&message).Error
	if err != nil {
		return models.ChatMessage{}, err
	}
	return message, nil
}

func (r *sessionChatRepository) ListMessages(ctx context.Context, sessionID uint, viewerID string, privileged bool) ([]models.ChatMessage, error) {
	query := r.db.WithContext(ctx).
		Where("session_id = ? AND deleted = ?", sessionID, false)

	if !privileged {
		query = query.Where("is_private = ? OR sender_id = ? OR recipient_id = ?", false, viewerID, viewerID)
	}

	var messages []models.ChatMessage
	if err := query.Order("created_at ASC").Find(&messages).Error; err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *sessionChatRepository) SoftDeleteMessage(ctx context.Context, sessionID, messageID uint, actor string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("session_id = ? AND id = ? AND deleted = ?", sessionID, messageID, false).
		Updates(map[string]interface{}{
			"deleted":    true,
			"deleted_by": actor,
			"deleted_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IncrementReaction performs a read-modify-write on the tally and records a
// per-user reaction row for analytics. Last write wins on the tally under a
// concurrent race, which is acceptable at this scale.
func (r *sessionChatRepository) IncrementReaction(ctx context.Context, sessionID, messageID uint, userID, kind string) (models.ChatMessage, error) {
	message, err := r.GetMessage(ctx, sessionID, messageID)
	if err != nil {
		return models.ChatMessage{}, err
	}

	tally := message.Reactions
	if tally == nil {
		tally = datatypes.JSONMap{}
	}
	current := 0
	switch v := tally[kind].(type) {
	case float64:
		current = int(v)
	case int:
		current = v
	}
	tally[kind] = current + 1
	message.Reactions = tally

	if err := r.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("id = ?", message.ID).
		Update("reactions", tally).Error; err != nil {
		return models.ChatMessage{}, err
	}

	reaction := models.ChatReaction{
		SessionID: sessionID,
		MessageID: messageID,
		UserID:    userID,
		Kind:      kind,
	}
	if err := r.db.WithContext(ctx).Create(&reaction).Error; err != nil {
		return models.ChatMessage{}, err
	}

	return message, nil
}

func (r *sessionChatRepository) CreateMute(ctx context.Context, mute *models.SessionMute) error {
	return r.db.WithContext(ctx).Create(mute).Error
}

func (r *sessionChatRepository) ActiveMutes(ctx context.Context, sessionID uint, userID string) ([]models.SessionMute, error) {
	var mutes []models.SessionMute
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ? AND active = ?", sessionID, userID, true).
		Order("created_at DESC").
		Find(&mutes).Error
	if err != nil {
		return nil, err
	}
	return mutes, nil
}

func (r *sessionChatRepository) DeactivateMute(ctx context.Context, muteID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.SessionMute{}).
		Where("id = ?", muteID).
		Updates(map[string]interface{}{
			"active":     false,
			"unmuted_at": at,
		}).Error
}

func (r *sessionChatRepository) ActiveHand(ctx context.Context, sessionID uint, userID string) (models.RaisedHand, error) {
	var hand models.RaisedHand
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ? AND active = ?", sessionID, userID, true).
		First(&hand).Error
	if err != nil {
		return models.RaisedHand{}, err
	}
	return hand, nil
}

func (r *sessionChatRepository) CreateHand(ctx context.Context, hand *models.RaisedHand) error {
	return r.db.WithContext(ctx).Create(hand).Error
}

func (r *sessionChatRepository) LowerHand(ctx context.Context, sessionID uint, userID, acknowledgedBy string, at time.Time) error {
	updates := map[string]interface{}{
		"active":     false,
		"lowered_at": at,
	}
	if acknowledgedBy != "" {
		updates["acknowledged_by"] = acknowledgedBy
	}

	result := r.db.WithContext(ctx).Model(&models.RaisedHand{}).
		Where("session_id = ? AND user_id = ? AND active = ?", sessionID, userID, true).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *sessionChatRepository) CreateAttendance(ctx context.Context, record *models.AttendanceRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// CloseAttendance stamps the leave time on the member's most recent open
// attendance row.
func (r *sessionChatRepository) CloseAttendance(ctx context.Context, sessionID uint, userID string, at time.Time) error {
	var record models.AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ? AND left_at IS NULL", sessionID, userID).
		Order("joined_at DESC").
		First(&record).Error
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Model(&record).Update("left_at", at).Error
}

func (r *sessionChatRepository) ActiveHands(ctx context.Context, sessionID uint) ([]models.RaisedHand, error) {
	var hands []models.RaisedHand
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND active = ?", sessionID, true).
		Order("raised_at ASC").
		Find(&hands).Error
	if err != nil {
		return nil, err
	}
	return hands, nil
}
