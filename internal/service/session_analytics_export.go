package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/membria/membria-api/internal/models"
)

// attendanceCSVHeader is the fixed 16-column attendance report layout.
var attendanceCSVHeader = []string{
	"Session Name",
	"Attendee Name",
	"Email",
	"User ID",
	"Joined At",
	"Left At",
	"Duration (Minutes)",
	"Status",
	"Messages Sent",
	"Reactions Given",
	"Questions Asked",
	"Watched VOD",
	"VOD Watch Time",
	"VOD Completion %",
	"Rating",
	"Feedback",
}

// vodUnknownMarker fills the per-viewer VOD columns: the provider only
// exposes aggregate view metrics, so individual watch data is unknowable.
const vodUnknownMarker = "Unknown"

type attendeeRow struct {
	name      string
	email     string
	userID    string
	record    *models.AttendanceRecord
	messages  int
	reactions int
	questions int
	rating    string
	feedback  string
}

// ExportAttendanceCSV produces the attendance+engagement+feedback report.
// The output is UTF-8 with a byte-order-mark prefix so spreadsheet tools
// detect the encoding.
func (s *sessionAnalyticsService) ExportAttendanceCSV(ctx context.Context, sessionID uint) ([]byte, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	registrations, err := s.repo.ListRegistrations(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	attendance, err := s.repo.ListAttendance(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	reactions, err := s.repo.ListReactions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	feedback, err := s.repo.ListFeedback(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	rows := make(map[string]*attendeeRow)
	order := make([]string, 0, len(registrations)+len(attendance))
	ensure := func(userID, name, email string) *attendeeRow {
		if row, ok := rows[userID]; ok {
			if row.name == "" {
				row.name = name
			}
			if row.email == "" {
				row.email = email
			}
			return row
		}
		row := &attendeeRow{userID: userID, name: name, email: email}
		rows[userID] = row
		order = append(order, userID)
		return row
	}

	for _, registration := range registrations {
		ensure(registration.UserID, registration.UserName, registration.Email)
	}
	for i := range attendance {
		record := attendance[i]
		row := ensure(record.UserID, record.UserName, record.Email)
		// Keep the earliest join as the canonical record.
		if row.record == nil || record.JoinedAt.Before(row.record.JoinedAt) {
			row.record = &attendance[i]
		}
	}
	for _, message := range messages {
		row := ensure(message.SenderID, message.SenderName, "")
		row.messages++
		if strings.HasSuffix(strings.TrimSpace(message.Content), "?") {
			row.questions++
		}
	}
	for _, reaction := range reactions {
		ensure(reaction.UserID, "", "").reactions++
	}
	for _, entry := range feedback {
		row := ensure(entry.UserID, "", "")
		row.rating = strconv.Itoa(entry.Rating)
		row.feedback = entry.Comment
	}

	sort.Strings(order)

	var buf bytes.Buffer
	buf.WriteString("\xEF\xBB\xBF")
	writer := csv.NewWriter(&buf)

	if err := writer.Write(attendanceCSVHeader); err != nil {
		return nil, fmt.Errorf("failed to encode attendance report: %w", err)
	}

	for _, userID := range order {
		row := rows[userID]
		joined, left, duration, status := "", "", "", "Registered"
		if row.record != nil {
			status = "Attended"
			joined = row.record.JoinedAt.UTC().Format("2006-01-02 15:04:05")
			if row.record.LeftAt != nil {
				left = row.record.LeftAt.UTC().Format("2006-01-02 15:04:05")
				duration = fmt.Sprintf("%.1f", row.record.LeftAt.Sub(row.record.JoinedAt).Minutes())
			}
		}

		// The provider reports aggregate view metrics only, so the
		// per-viewer VOD columns are marked unknown rather than "No".
		record := []string{
			session.Title,
			row.name,
			row.email,
			row.userID,
			joined,
			left,
			duration,
			status,
			strconv.Itoa(row.messages),
			strconv.Itoa(row.reactions),
			strconv.Itoa(row.questions),
			vodUnknownMarker,
			vodUnknownMarker,
			vodUnknownMarker,
			row.rating,
			row.feedback,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to encode attendance report: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode attendance report: %w", err)
	}

	return buf.Bytes(), nil
}
