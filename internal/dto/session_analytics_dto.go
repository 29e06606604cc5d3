package dto

import "time"

// AttendanceStats summarises who registered, who showed up, and for how long.
type AttendanceStats struct {
	TotalRegistered        int     `json:"total_registered"`
	TotalAttended          int     `json:"total_attended"`
	AttendanceRate         float64 `json:"attendance_rate"`
	OnTimeCount            int     `json:"on_time_count"`
	LateCount              int     `json:"late_count"`
	AverageDurationMinutes float64 `json:"average_duration_minutes"`
	TotalDurationMinutes   float64 `json:"total_duration_minutes"`
}

// EngagementStats summarises chat and reaction activity for a session.
type EngagementStats struct {
	MessageCount     int            `json:"message_count"`
	DistinctChatters int            `json:"distinct_chatters"`
	QuestionCount    int            `json:"question_count"`
	ReactionCount    int            `json:"reaction_count"`
	ReactionsByKind  map[string]int `json:"reactions_by_kind,omitempty"`
	EngagementRate   float64        `json:"engagement_rate"`
}

// ConcurrencyPoint is one sample of the reconstructed viewer timeline.
type ConcurrencyPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Viewers   int       `json:"viewers"`
}

// ConcurrencyStats carries the peak and the (down-sampled) viewer timeline.
type ConcurrencyStats struct {
	PeakViewers int                `json:"peak_viewers"`
	PeakAt      *time.Time         `json:"peak_at,omitempty"`
	Timeline    []ConcurrencyPoint `json:"timeline,omitempty"`
}

// VODStats carries aggregate recording metrics from the video provider. When
// the provider is unreachable Available is false and the numbers are zero.
type VODStats struct {
	Available         bool    `json:"available"`
	TotalViews        int     `json:"total_views"`
	UniqueViewers     int     `json:"unique_viewers"`
	WatchTimeMinutes  float64 `json:"watch_time_minutes"`
	CompletionPercent float64 `json:"completion_percent"`
}

// SessionAnalyticsResponse is the full post-hoc report for one session.
type SessionAnalyticsResponse struct {
	SessionID       uint             `json:"session_id"`
	SessionTitle    string           `json:"session_title"`
	StartTime       time.Time        `json:"start_time"`
	Attendance      AttendanceStats  `json:"attendance"`
	Engagement      EngagementStats  `json:"engagement"`
	Concurrency     ConcurrencyStats `json:"concurrency"`
	VOD             VODStats         `json:"vod"`
	EngagementScore float64          `json:"engagement_score"`
	GeneratedAt     time.Time        `json:"generated_at"`
	CacheHit        bool             `json:"cache_hit"`
}

// SessionComparisonRequest selects the sessions to compare.
type SessionComparisonRequest struct {
	SessionIDs []uint `json:"session_ids" validate:"required,min=2,max=10,dive,required"`
}

// SessionSummary is the per-session slice of a comparative report.
type SessionSummary struct {
	SessionID       uint      `json:"session_id"`
	SessionTitle    string    `json:"session_title"`
	StartTime       time.Time `json:"start_time"`
	AttendanceRate  float64   `json:"attendance_rate"`
	EngagementRate  float64   `json:"engagement_rate"`
	PeakViewers     int       `json:"peak_viewers"`
	MessageCount    int       `json:"message_count"`
	EngagementScore float64   `json:"engagement_score"`
}

// Trend classifications for comparative analytics.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// SessionComparisonResponse is the cross-session comparative report.
type SessionComparisonResponse struct {
	Sessions               []SessionSummary  `json:"sessions"`
	AverageAttendanceRate  float64           `json:"average_attendance_rate"`
	AverageEngagementRate  float64           `json:"average_engagement_rate"`
	AverageEngagementScore float64           `json:"average_engagement_score"`
	Trends                 map[string]string `json:"trends"`
	GeneratedAt            time.Time         `json:"generated_at"`
	CacheHit               bool              `json:"cache_hit"`
}
