package dto

import (
	"time"

	"github.com/membria/membria-api/internal/models"
)

// Envelope type discriminators shared by inbound and outbound websocket
// payloads.
const (
	EnvelopeChatMessage    = "chat_message"
	EnvelopeReactionAdded  = "reaction_added"
	EnvelopeHandRaised     = "hand_raised"
	EnvelopeHandLowered    = "hand_lowered"
	EnvelopeTypingStart    = "typing_start"
	EnvelopeTypingStop     = "typing_stop"
	EnvelopeDeleteMessage  = "delete_message"
	EnvelopeMuteUser       = "mute_user"
	EnvelopeUnmuteUser     = "unmute_user"
	EnvelopeUserJoined     = "user_joined"
	EnvelopeUserLeft       = "user_left"
	EnvelopeMessageDeleted = "message_deleted"
	EnvelopeUserMuted      = "user_muted"
	EnvelopeUserUnmuted    = "user_unmuted"
	EnvelopeError          = "error"
)

// InboundEnvelope is the client-to-server websocket payload. Required fields
// vary by Type; the transport validates per-type before dispatching.
type InboundEnvelope struct {
	Type            string `json:"type"`
	Message         string `json:"message,omitempty"`
	IsPrivate       bool   `json:"is_private,omitempty"`
	RecipientID     string `json:"recipient_id,omitempty"`
	MessageID       uint   `json:"message_id,omitempty"`
	Reaction        string `json:"reaction,omitempty"`
	UserID          string `json:"user_id,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// OutboundEnvelope is the server-to-client websocket payload mirroring the
// inbound vocabulary plus presence, deletion, moderation, and error events.
type OutboundEnvelope struct {
	Type      string               `json:"type"`
	Message   *ChatMessageResponse `json:"message,omitempty"`
	MessageID uint                 `json:"message_id,omitempty"`
	Reaction  string               `json:"reaction,omitempty"`
	Reactions map[string]int       `json:"reactions,omitempty"`
	UserID    string               `json:"user_id,omitempty"`
	UserName  string               `json:"user_name,omitempty"`
	DeletedBy string               `json:"deleted_by,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
	Error     string               `json:"error,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// ErrorEnvelope builds the error payload echoed to the offending sender only.
func ErrorEnvelope(message string) OutboundEnvelope {
	return OutboundEnvelope{
		Type:      EnvelopeError,
		Error:     message,
		Timestamp: time.Now().UTC(),
	}
}

// ChatSendRequest represents a request to post a message into a session.
type ChatSendRequest struct {
	Message     string `json:"message" validate:"required,min=1,max=4000"`
	IsPrivate   bool   `json:"is_private"`
	RecipientID string `json:"recipient_id" validate:"required_if=IsPrivate true,omitempty,max=64"`
	// RecipientName is resolved server-side from the recipient's live
	// connection, never taken from the client payload.
	RecipientName string `json:"-"`
}

// ChatMessageResponse is the serialized representation of a chat message.
type ChatMessageResponse struct {
	ID            uint           `json:"id"`
	SessionID     uint           `json:"session_id"`
	SenderID      string         `json:"sender_id"`
	SenderName    string         `json:"sender_name"`
	Content       string         `json:"content"`
	IsPrivate     bool           `json:"is_private"`
	RecipientID   string         `json:"recipient_id,omitempty"`
	RecipientName string         `json:"recipient_name,omitempty"`
	Reactions     map[string]int `json:"reactions,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewChatMessageResponse converts a model into a DTO.
func NewChatMessageResponse(message models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:            message.ID,
		SessionID:     message.SessionID,
		SenderID:      message.SenderID,
		SenderName:    message.SenderName,
		Content:       message.Content,
		IsPrivate:     message.IsPrivate,
		RecipientID:   message.RecipientID,
		RecipientName: message.RecipientName,
		Reactions:     reactionTally(message.Reactions),
		CreatedAt:     message.CreatedAt,
	}
}

// NewChatMessageResponseSlice converts a slice of models into DTOs.
func NewChatMessageResponseSlice(messages []models.ChatMessage) []ChatMessageResponse {
	out := make([]ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewChatMessageResponse(message))
	}
	return out
}

func reactionTally(raw map[string]interface{}) map[string]int {
	if len(raw) == 0 {
		return nil
	}
	tally := make(map[string]int, len(raw))
	for kind, value := range raw {
		switch v := value.(type) {
		case float64:
			tally[kind] = int(v)
		case int:
			tally[kind] = v
		case int64:
			tally[kind] = int(v)
		}
	}
	return tally
}

// MuteResponse describes an applied mute returned to moderators.
type MuteResponse struct {
	ID        uint       `json:"id"`
	SessionID uint       `json:"session_id"`
	UserID    string     `json:"user_id"`
	MutedBy   string     `json:"muted_by"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewMuteResponse converts a mute model to a DTO.
func NewMuteResponse(mute models.SessionMute) MuteResponse {
	return MuteResponse{
		ID:        mute.ID,
		SessionID: mute.SessionID,
		UserID:    mute.UserID,
		MutedBy:   mute.MutedBy,
		Reason:    mute.Reason,
		ExpiresAt: mute.ExpiresAt,
		CreatedAt: mute.CreatedAt,
	}
}

// RaisedHandResponse describes an active raised hand.
type RaisedHandResponse struct {
	ID       uint      `json:"id"`
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	RaisedAt time.Time `json:"raised_at"`
}

// NewRaisedHandResponse converts a raised-hand model to a DTO.
func NewRaisedHandResponse(hand models.RaisedHand) RaisedHandResponse {
	return RaisedHandResponse{
		ID:       hand.ID,
		UserID:   hand.UserID,
		UserName: hand.UserName,
		RaisedAt: hand.RaisedAt,
	}
}

// NewRaisedHandResponseSlice converts raised hands to DTOs.
func NewRaisedHandResponseSlice(hands []models.RaisedHand) []RaisedHandResponse {
	out := make([]RaisedHandResponse, 0, len(hands))
	for _, hand := range hands {
		out = append(out, NewRaisedHandResponse(hand))
	}
	return out
}

// ActiveUserResponse describes a currently connected session member.
type ActiveUserResponse struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Role     string `json:"role"`
}
