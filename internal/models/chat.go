package models

import (
	"time"

	"gorm.io/datatypes"
)

// Reaction kinds form a closed enumeration; the tally on a message may only
// carry these keys.
const (
	ReactionThumbsUp = "thumbs_up"
	ReactionHeart    = "heart"
	ReactionClap     = "clap"
	ReactionLaugh    = "laugh"
	ReactionFire     = "fire"
	ReactionQuestion = "question"
)

// AllowedReactions lists every valid reaction kind.
var AllowedReactions = []string{
	ReactionThumbsUp,
	ReactionHeart,
	ReactionClap,
	ReactionLaugh,
	ReactionFire,
	ReactionQuestion,
}

// ValidReaction reports whether kind belongs to the reaction enumeration.
func ValidReaction(kind string) bool {
	for _, allowed := range AllowedReactions {
		if kind == allowed {
			return true
		}
	}
	return false
}

// ChatMessage represents a single chat payload within a live session. Messages
// are never hard-deleted; moderation sets the soft-delete fields and the body
// is retained for audit. The body is immutable after creation except for the
// profanity redaction applied exactly once, before the row is written.
type ChatMessage struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	SessionID     uint              `gorm:"index;not null" json:"session_id"`
	SenderID      string            `gorm:"size:64;index" json:"sender_id"`
	SenderName    string            `gorm:"size:255" json:"sender_name"`
	Content       string            `gorm:"type:text;not null" json:"content"`
	IsPrivate     bool              `gorm:"not null;default:false" json:"is_private"`
	RecipientID   string            `gorm:"size:64;index" json:"recipient_id"`
	RecipientName string            `gorm:"size:255" json:"recipient_name"`
	Reactions     datatypes.JSONMap `gorm:"type:json" json:"reactions"`
	Deleted       bool              `gorm:"not null;default:false;index" json:"deleted"`
	DeletedBy     string            `gorm:"size:64" json:"deleted_by"`
	DeletedAt     *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt     time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// ChatReaction records who reacted with what, one row per reaction. The
// per-message tally is derived alongside it; these rows feed the analytics
// engine's reactor set.
type ChatReaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"index;not null" json:"session_id"`
	MessageID uint      `gorm:"index;not null" json:"message_id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	Kind      string    `gorm:"size:32;not null" json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionMute stores a session-scoped mute for moderation. Effectiveness is
// derived, not stored: active && (expiry absent || now before expiry).
type SessionMute struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	SessionID uint       `gorm:"index;not null" json:"session_id"`
	UserID    string     `gorm:"size:64;index" json:"user_id"`
	MutedBy   string     `gorm:"size:64" json:"muted_by"`
	Reason    string     `gorm:"type:text" json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Active    bool       `gorm:"not null;default:true;index" json:"active"`
	UnmutedAt *time.Time `json:"unmuted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Effective reports whether the mute is currently in force at the given time.
func (m SessionMute) Effective(now time.Time) bool {
	if !m.Active {
		return false
	}
	return m.ExpiresAt == nil || now.Before(*m.ExpiresAt)
}

// RaisedHand records an attendee requesting attention. At most one active row
// exists per (session, user); raising again returns the existing row.
type RaisedHand struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	SessionID      uint       `gorm:"index;not null" json:"session_id"`
	UserID         string     `gorm:"size:64;index" json:"user_id"`
	UserName       string     `gorm:"size:255" json:"user_name"`
	Active         bool       `gorm:"not null;default:true;index" json:"active"`
	RaisedAt       time.Time  `json:"raised_at"`
	LoweredAt      *time.Time `json:"lowered_at,omitempty"`
	AcknowledgedBy string     `gorm:"size:64" json:"acknowledged_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
