package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/membria/membria-api/internal/models"
)

// SessionAnalyticsRepository exposes the read-side records the analytics
// engine derives reports from. It never mutates anything.
type SessionAnalyticsRepository interface {
	GetSession(ctx context.Context, id uint) (models.Session, error)
	ListSessions(ctx context.Context, ids []uint) ([]models.Session, error)
	ListRegistrations(ctx context.Context, sessionID uint) ([]models.SessionRegistration, error)
	ListAttendance(ctx context.Context, sessionID uint) ([]models.AttendanceRecord, error)
	ListMessages(ctx context.Context, sessionID uint) ([]models.ChatMessage, error)
	ListReactions(ctx context.Context, sessionID uint) ([]models.ChatReaction, error)
	ListFeedback(ctx context.Context, sessionID uint) ([]models.SessionFeedback, error)
}

type sessionAnalyticsRepository struct {
	db *gorm.DB
}

// NewSessionAnalyticsRepository constructs the analytics repository.
func NewSessionAnalyticsRepository(db *gorm.DB) SessionAnalyticsRepository {
	return &sessionAnalyticsRepository{db: db}
}

func (r *sessionAnalyticsRepository) GetSession(ctx context.Context, id uint) (models.Session, error) {
	var session models.Session
	if err := r.db.WithContext(ctx).First(&session, id).Error; err != nil {
		return models.Session{}, err
	}
	return session, nil
}

func (r *sessionAnalyticsRepository) ListSessions(ctx context.Context, ids []uint) ([]models.Session, error) {
	var sessions []models.Session
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionAnalyticsRepository) ListRegistrations(ctx context.Context, sessionID uint) ([]models.SessionRegistration, error) {
	var registrations []models.SessionRegistration
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&registrations).Error; err != nil {
		return nil, err
	}
	return registrations, nil
}

func (r *sessionAnalyticsRepository) ListAttendance(ctx context.Context, sessionID uint) ([]models.AttendanceRecord, error) {
	var records []models.AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("joined_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *sessionAnalyticsRepository) ListMessages(ctx context.Context, sessionID uint) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND deleted = ?", sessionID, false).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *sessionAnalyticsRepository) ListReactions(ctx context.Context, sessionID uint) ([]models.ChatReaction, error) {
	var reactions []models.ChatReaction
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&reactions).Error; err != nil {
		return nil, err
	}
	return reactions, nil
}

func (r *sessionAnalyticsRepository) ListFeedback(ctx context.Context, sessionID uint) ([]models.SessionFeedback, error) {
	var feedback []models.SessionFeedback
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&feedback).Error; err != nil {
		return nil, err
	}
	return feedback, nil
}
