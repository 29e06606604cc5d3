package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/membria/membria-api/internal/dto"
)

// Supported chat export encodings.
const (
	ExportFormatJSON = "json"
	ExportFormatCSV  = "csv"
	ExportFormatText = "text"
)

// Export serialises the session's visible messages to one of the supported
// textual encodings. Private messages are dropped when includePrivate is
// false; soft-deleted messages never appear.
func (s *sessionChatService) Export(ctx context.Context, sessionID uint, viewer Actor, format string, includePrivate bool) ([]byte, string, error) {
	messages, err := s.List(ctx, sessionID, viewer)
	if err != nil {
		return nil, "", err
	}

	if !includePrivate {
		visible := make([]dto.ChatMessageResponse, 0, len(messages))
		for _, message := range messages {
			if !message.IsPrivate {
				visible = append(visible, message)
			}
		}
		messages = visible
	}

	switch strings.ToLower(format) {
	case ExportFormatJSON:
		payload, err := json.MarshalIndent(messages, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode export: %w", err)
		}
		return payload, "application/json", nil
	case ExportFormatCSV:
		payload, err := encodeMessagesCSV(messages)
		if err != nil {
			return nil, "", err
		}
		return payload, "text/csv", nil
	case ExportFormatText:
		return encodeTranscript(messages), "text/plain", nil
	default:
		return nil, "", ErrInvalidExportFormat
	}
}

var chatCSVHeader = []string{"id", "session_id", "sender_id", "sender_name", "message", "is_private", "recipient_id", "created_at"}

func encodeMessagesCSV(messages []dto.ChatMessageResponse) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(chatCSVHeader); err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	for _, message := range messages {
		row := []string{
			strconv.FormatUint(uint64(message.ID), 10),
			strconv.FormatUint(uint64(message.SessionID), 10),
			message.SenderID,
			message.SenderName,
			message.Content,
			strconv.FormatBool(message.IsPrivate),
			message.RecipientID,
			message.CreatedAt.UTC().Format(timeLayoutCSV),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to encode export: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}

	return buf.Bytes(), nil
}

const timeLayoutCSV = "2006-01-02T15:04:05Z07:00"

func encodeTranscript(messages []dto.ChatMessageResponse) []byte {
	var buf bytes.Buffer
	for _, message := range messages {
		buf.WriteString("[")
		buf.WriteString(message.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		buf.WriteString("] ")
		buf.WriteString(message.SenderName)
		if message.IsPrivate {
			buf.WriteString(" (private to ")
			buf.WriteString(message.RecipientID)
			buf.WriteString(")")
		}
		buf.WriteString(": ")
		buf.WriteString(message.Content)
		if len(message.Reactions) > 0 {
			buf.WriteString(" [reactions: ")
			buf.WriteString(formatTally(message.Reactions))
			buf.WriteString("]")
		}
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

func formatTally(tally map[string]int) string {
	kinds := make([]string, 0, len(tally))
	for kind := range tally {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", kind, tally[kind]))
	}
	return strings.Join(parts, ", ")
}
