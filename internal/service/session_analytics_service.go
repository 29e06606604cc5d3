package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/membria/membria-api/internal/dto"
	"github.com/membria/membria-api/internal/models"
	"github.com/membria/membria-api/internal/repository"
	"github.com/membria/membria-api/pkg/videostats"
)

const timelineMaxPoints = 100

// Engagement score weights. attendance + engagement + chat + retention = 1.
const (
	weightAttendance = 0.30
	weightEngagement = 0.40
	weightChat       = 0.15
	weightRetention  = 0.15
)

// VideoStatsProvider is the slice of the video analytics client the engine
// needs, injectable for tests.
type VideoStatsProvider interface {
	ViewMetrics(ctx context.Context, videoID string, since, until time.Time) (videostats.ViewMetrics, error)
}

// SessionAnalyticsService derives attendance, engagement, concurrency, and
// comparative reports from persisted session records. Pure read-side.
type SessionAnalyticsService interface {
	GetSessionAnalytics(ctx context.Context, sessionID uint) (dto.SessionAnalyticsResponse, error)
	CompareSessions(ctx context.Context, sessionIDs []uint) (dto.SessionComparisonResponse, error)
	ExportAttendanceCSV(ctx context.Context, sessionID uint) ([]byte, error)
}

type sessionAnalyticsService struct {
	repo         repository.SessionAnalyticsRepository
	cache        *redis.Client
	cacheTTL     time.Duration
	provider     VideoStatsProvider
	onTimeWindow time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// NewSessionAnalyticsService constructs the analytics engine.
func NewSessionAnalyticsService(
	repo repository.SessionAnalyticsRepository,
	cache *redis.Client,
	cacheTTL time.Duration,
	provider VideoStatsProvider,
	onTimeWindow time.Duration,
	logger zerolog.Logger,
) SessionAnalyticsService {
	return &sessionAnalyticsService{
		repo:         repo,
		cache:        cache,
		cacheTTL:     cacheTTL,
		provider:     provider,
		onTimeWindow: onTimeWindow,
		logger:       logger.With().Str("component", "session_analytics_service").Logger(),
		now:          time.Now,
	}
}

func (s *sessionAnalyticsService) GetSessionAnalytics(ctx context.Context, sessionID uint) (dto.SessionAnalyticsResponse, error) {
	cacheKey := fmt.Sprintf("analytics:session:%d", sessionID)
	tracer := otel.Tracer("github.com/membria/membria-api/internal/service/session_analytics")
	ctx, span := tracer.Start(ctx, "analytics.session")
	span.SetAttributes(attribute.Int64("analytics.session_id", int64(sessionID)))
	defer span.End()

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey).Result()
		if err == nil {
			var response dto.SessionAnalyticsResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				response.CacheHit = true
				span.SetAttributes(attribute.Bool("analytics.cache_hit", true))
				return response, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read analytics cache")
			span.RecordError(err)
		}
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SessionAnalyticsResponse{}, ErrSessionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "get_session_failed")
		return dto.SessionAnalyticsResponse{}, err
	}

	report, err := s.buildReport(ctx, session)
	if err != nil {
		span.RecordError(err)
		return dto.SessionAnalyticsResponse{}, err
	}

	report.VOD = s.fetchVODStats(ctx, session)

	if s.cache != nil {
		payload, err := json.Marshal(report)
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store analytics cache")
			}
		}
	}

	return report, nil
}

func (s *sessionAnalyticsService) buildReport(ctx context.Context, session models.Session) (dto.SessionAnalyticsResponse, error) {
	registrations, err := s.repo.ListRegistrations(ctx, session.ID)
	if err != nil {
		return dto.SessionAnalyticsResponse{}, err
	}
	attendance, err := s.repo.ListAttendance(ctx, session.ID)
	if err != nil {
		return dto.SessionAnalyticsResponse{}, err
	}
	messages, err := s.repo.ListMessages(ctx, session.ID)
	if err != nil {
		return dto.SessionAnalyticsResponse{}, err
	}
	reactions, err := s.repo.ListReactions(ctx, session.ID)
	if err != nil {
		return dto.SessionAnalyticsResponse{}, err
	}

	attendanceStats := s.buildAttendanceStats(session, registrations, attendance)
	engagementStats := buildEngagementStats(messages, reactions, attendanceStats.TotalAttended)
	concurrency := buildConcurrencyStats(attendance)
	score := engagementScore(attendanceStats, engagementStats, concurrency.PeakViewers, len(registrations), len(messages))

	return dto.SessionAnalyticsResponse{
		SessionID:       session.ID,
		SessionTitle:    session.Title,
		StartTime:       session.StartTime,
		Attendance:      attendanceStats,
		Engagement:      engagementStats,
		Concurrency:     concurrency,
		EngagementScore: score,
		GeneratedAt:     s.now().UTC(),
	}, nil
}

func (s *sessionAnalyticsService) buildAttendanceStats(session models.Session, registrations []models.SessionRegistration, attendance []models.AttendanceRecord) dto.AttendanceStats {
	attended := distinctAttendees(attendance)

	stats := dto.AttendanceStats{
		TotalRegistered: len(registrations),
		TotalAttended:   len(attended),
	}
	if stats.TotalRegistered > 0 {
		stats.AttendanceRate = float64(stats.TotalAttended) / float64(stats.TotalRegistered) * 100
	}

	onTimeCutoff := session.StartTime.Add(s.onTimeWindow)
	seenOnTime := make(map[string]struct{})
	totalMinutes := 0.0
	durationSamples := 0

	for _, record := range attendance {
		if _, counted := seenOnTime[record.UserID]; !counted {
			seenOnTime[record.UserID] = struct{}{}
			if !record.JoinedAt.After(onTimeCutoff) {
				stats.OnTimeCount++
			} else {
				stats.LateCount++
			}
		}
		if record.LeftAt != nil {
			totalMinutes += record.LeftAt.Sub(record.JoinedAt).Minutes()
			durationSamples++
		}
	}

	stats.TotalDurationMinutes = totalMinutes
	if durationSamples > 0 {
		stats.AverageDurationMinutes = totalMinutes / float64(durationSamples)
	}

	return stats
}

func buildEngagementStats(messages []models.ChatMessage, reactions []models.ChatReaction, totalAttended int) dto.EngagementStats {
	stats := dto.EngagementStats{
		MessageCount:  len(messages),
		ReactionCount: len(reactions),
	}

	engaged := make(map[string]struct{})
	chatters := make(map[string]struct{})
	for _, message := range messages {
		chatters[message.SenderID] = struct{}{}
		engaged[message.SenderID] = struct{}{}
		if strings.HasSuffix(strings.TrimSpace(message.Content), "?") {
			stats.QuestionCount++
		}
	}
	stats.DistinctChatters = len(chatters)

	byKind := make(map[string]int)
	for _, reaction := range reactions {
		byKind[reaction.Kind]++
		engaged[reaction.UserID] = struct{}{}
	}
	if len(byKind) > 0 {
		stats.ReactionsByKind = byKind
	}

	if totalAttended > 0 {
		stats.EngagementRate = float64(len(engaged)) / float64(totalAttended) * 100
	}

	return stats
}

type concurrencyEvent struct {
	at    time.Time
	delta int
}

// buildConcurrencyStats reconstructs the viewer timeline from join/leave
// events via a prefix sum. Ties at the same instant order leaves before
// joins, keeping the count conservative at boundary instants.
func buildConcurrencyStats(attendance []models.AttendanceRecord) dto.ConcurrencyStats {
	events := make([]concurrencyEvent, 0, len(attendance)*2)
	for _, record := range attendance {
		events = append(events, concurrencyEvent{at: record.JoinedAt, delta: +1})
		if record.LeftAt != nil {
			events = append(events, concurrencyEvent{at: *record.LeftAt, delta: -1})
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].at.Equal(events[j].at) {
			return events[i].delta < events[j].delta
		}
		return events[i].at.Before(events[j].at)
	})

	stats := dto.ConcurrencyStats{}
	current := 0
	timeline := make([]dto.ConcurrencyPoint, 0, len(events))
	for _, event := range events {
		current += event.delta
		timeline = append(timeline, dto.ConcurrencyPoint{Timestamp: event.at, Viewers: current})
		if current > stats.PeakViewers {
			stats.PeakViewers = current
			peakAt := event.at
			stats.PeakAt = &peakAt
		}
	}

	stats.Timeline = downsample(timeline, timelineMaxPoints)
	return stats
}

// downsample keeps at most max points using a fixed stride, always retaining
// the final point.
func downsample(points []dto.ConcurrencyPoint, max int) []dto.ConcurrencyPoint {
	if len(points) <= max {
		return points
	}

	stride := (len(points) + max - 1) / max
	sampled := make([]dto.ConcurrencyPoint, 0, max)
	for i := 0; i < len(points); i += stride {
		sampled = append(sampled, points[i])
	}
	if last := points[len(points)-1]; len(sampled) == 0 || !sampled[len(sampled)-1].Timestamp.Equal(last.Timestamp) {
		sampled = append(sampled, last)
	}
	return sampled
}

func engagementScore(attendance dto.AttendanceStats, engagement dto.EngagementStats, peakViewers, totalRegistered, messageCount int) float64 {
	if attendance.TotalAttended == 0 {
		return 0
	}

	chatScore := 0.0
	avgMinutes := attendance.AverageDurationMinutes
	if avgMinutes < 1 {
		avgMinutes = 1
	}
	chatScore = float64(messageCount) / avgMinutes * 10
	if chatScore > 100 {
		chatScore = 100
	}

	retentionScore := 0.0
	if totalRegistered > 0 {
		retentionScore = float64(peakViewers) / float64(totalRegistered) * 100
		if retentionScore > 100 {
			retentionScore = 100
		}
	}

	score := attendance.AttendanceRate*weightAttendance +
		engagement.EngagementRate*weightEngagement +
		chatScore*weightChat +
		retentionScore*weightRetention

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func (s *sessionAnalyticsService) CompareSessions(ctx context.Context, sessionIDs []uint) (dto.SessionComparisonResponse, error) {
	ids := uniqueIDs(sessionIDs)
	if len(ids) < 2 || len(ids) > 10 {
		return dto.SessionComparisonResponse{}, ErrInvalidComparison
	}

	cacheKey := comparisonCacheKey(ids)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey).Result()
		if err == nil {
			var response dto.SessionComparisonResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				response.CacheHit = true
				return response, nil
			}
		}
	}

	sessions, err := s.repo.ListSessions(ctx, ids)
	if err != nil {
		return dto.SessionComparisonResponse{}, err
	}
	if len(sessions) != len(ids) {
		return dto.SessionComparisonResponse{}, ErrSessionNotFound
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartTime.Before(sessions[j].StartTime) })

	summaries := make([]dto.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		report, err := s.buildReport(ctx, session)
		if err != nil {
			return dto.SessionComparisonResponse{}, err
		}
		summaries = append(summaries, dto.SessionSummary{
			SessionID:       session.ID,
			SessionTitle:    session.Title,
			StartTime:       session.StartTime,
			AttendanceRate:  report.Attendance.AttendanceRate,
			EngagementRate:  report.Engagement.EngagementRate,
			PeakViewers:     report.Concurrency.PeakViewers,
			MessageCount:    report.Engagement.MessageCount,
			EngagementScore: report.EngagementScore,
		})
	}

	response := dto.SessionComparisonResponse{
		Sessions:    summaries,
		GeneratedAt: s.now().UTC(),
		Trends: map[string]string{
			"attendance_rate":  trend(summaries, func(s dto.SessionSummary) float64 { return s.AttendanceRate }),
			"engagement_rate":  trend(summaries, func(s dto.SessionSummary) float64 { return s.EngagementRate }),
			"engagement_score": trend(summaries, func(s dto.SessionSummary) float64 { return s.EngagementScore }),
		},
	}
	for _, summary := range summaries {
		response.AverageAttendanceRate += summary.AttendanceRate
		response.AverageEngagementRate += summary.EngagementRate
		response.AverageEngagementScore += summary.EngagementScore
	}
	count := float64(len(summaries))
	response.AverageAttendanceRate /= count
	response.AverageEngagementRate /= count
	response.AverageEngagementScore /= count

	if s.cache != nil {
		payload, err := json.Marshal(response)
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store comparison cache")
			}
		}
	}

	return response, nil
}

// trend compares the mean of the earlier half of date-sorted sessions to the
// later half, with a ±10% band counting as stable.
func trend(summaries []dto.SessionSummary, metric func(dto.SessionSummary) float64) string {
	half := len(summaries) / 2
	earlier := mean(summaries[:half], metric)
	later := mean(summaries[half:], metric)

	if earlier == 0 {
		if later > 0 {
			return dto.TrendImproving
		}
		return dto.TrendStable
	}

	change := (later - earlier) / earlier
	switch {
	case change > 0.10:
		return dto.TrendImproving
	case change < -0.10:
		return dto.TrendDeclining
	default:
		return dto.TrendStable
	}
}

func mean(summaries []dto.SessionSummary, metric func(dto.SessionSummary) float64) float64 {
	if len(summaries) == 0 {
		return 0
	}
	total := 0.0
	for _, summary := range summaries {
		total += metric(summary)
	}
	return total / float64(len(summaries))
}

// fetchVODStats queries the external provider; any failure degrades to the
// documented unavailable placeholder instead of failing the report.
func (s *sessionAnalyticsService) fetchVODStats(ctx context.Context, session models.Session) dto.VODStats {
	if s.provider == nil || session.VideoID == "" {
		return dto.VODStats{}
	}

	until := s.now().UTC()
	metrics, err := s.provider.ViewMetrics(ctx, session.VideoID, session.StartTime, until)
	if err != nil {
		s.logger.Warn().Err(err).Uint("session_id", session.ID).Msg("video analytics provider unavailable")
		return dto.VODStats{}
	}

	return dto.VODStats{
		Available:         true,
		TotalViews:        metrics.TotalViews,
		UniqueViewers:     metrics.UniqueViewers,
		WatchTimeMinutes:  metrics.WatchTimeMinutes,
		CompletionPercent: metrics.CompletionPercent,
	}
}

func distinctAttendees(attendance []models.AttendanceRecord) map[string]struct{} {
	attended := make(map[string]struct{}, len(attendance))
	for _, record := range attendance {
		attended[record.UserID] = struct{}{}
	}
	return attended
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func comparisonCacheKey(ids []uint) string {
	sorted := uniqueIDs(ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, 0, len(sorted))
	for _, id := range sorted {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return "analytics:compare:" + strings.Join(parts, ",")
}
