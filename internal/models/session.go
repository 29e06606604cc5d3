package models

import "time"

// Session represents a single live training or event instance. It scopes all
// chat, attendance, and analytics records.
type Session struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Title        string    `gorm:"size:255;not null" json:"title"`
	InstructorID string    `gorm:"size:64;index" json:"instructor_id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	VideoID      string    `gorm:"size:128" json:"video_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionRegistration records a member signing up for a session ahead of time.
type SessionRegistration struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"index;not null" json:"session_id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	UserName  string    `gorm:"size:255" json:"user_name"`
	Email     string    `gorm:"size:255" json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// AttendanceRecord captures a member joining (and optionally leaving) a live
// session. A missing LeftAt means the member never cleanly disconnected;
// duration is derived, never stored.
type AttendanceRecord struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	SessionID uint       `gorm:"index;not null" json:"session_id"`
	UserID    string     `gorm:"size:64;index" json:"user_id"`
	UserName  string     `gorm:"size:255" json:"user_name"`
	Email     string     `gorm:"size:255" json:"email"`
	JoinedAt  time.Time  `json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SessionFeedback stores a post-session rating and free-text comment.
type SessionFeedback struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"index;not null" json:"session_id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	Rating    int       `json:"rating"`
	Comment   string    `gorm:"type:text" json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}
