package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited indicates the sender exhausted the fixed-window quota for an
// action. Retryable once the window expires.
var ErrRateLimited = errors.New("rate limit exceeded, slow down")

// ErrPermissionDenied indicates a non-privileged actor attempted a moderation
// action.
var ErrPermissionDenied = errors.New("insufficient permissions for this action")

// ErrInvalidReaction indicates an unrecognised reaction kind.
var ErrInvalidReaction = errors.New("unknown reaction kind")

// ErrMessageNotFound indicates the referenced message does not exist or was
// deleted.
var ErrMessageNotFound = errors.New("message not found")

// ErrSessionNotFound indicates the referenced session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrEmptyMessage indicates a send attempt with no usable text.
var ErrEmptyMessage = errors.New("message content must not be empty")

// ErrInvalidExportFormat indicates an unsupported export encoding.
var ErrInvalidExportFormat = errors.New("unsupported export format")

// ErrInvalidComparison indicates a comparative report outside the 2-10
// session range.
var ErrInvalidComparison = errors.New("comparison requires between 2 and 10 sessions")

// MutedError is returned when a muted user attempts to send. It carries the
// mute's reason and expiry so the transport can surface both.
type MutedError struct {
	Reason    string
	ExpiresAt *time.Time
}

func (e *MutedError) Error() string {
	if e.ExpiresAt == nil {
		return "you are muted in this session"
	}
	return fmt.Sprintf("you are muted in this session until %s", e.ExpiresAt.UTC().Format(time.RFC3339))
}

// IsMuted reports whether err wraps a MutedError and returns it when so.
func IsMuted(err error) (*MutedError, bool) {
	var muted *MutedError
	if errors.As(err, &muted) {
		return muted, true
	}
	return nil, false
}
