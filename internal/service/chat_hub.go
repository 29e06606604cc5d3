package service

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/membria/membria-api/internal/dto"
)

const clientSendBufferSize = 32

// SessionClient is one live websocket connection bound to a session and an
// identity. The hub owns registration; the transport owns the read/write
// loops.
type SessionClient struct {
	conn      *websocket.Conn
	send      chan dto.OutboundEnvelope
	identity  Actor
	sessionID uint
	closed    chan struct{}
	once      sync.Once
}

// NewSessionClient wraps a websocket connection for hub registration.
func NewSessionClient(conn *websocket.Conn, sessionID uint, identity Actor) *SessionClient {
	return &SessionClient{
		conn:      conn,
		send:      make(chan dto.OutboundEnvelope, clientSendBufferSize),
		identity:  identity,
		sessionID: sessionID,
		closed:    make(chan struct{}),
	}
}

// Identity returns the connection's authenticated actor.
func (c *SessionClient) Identity() Actor {
	return c.identity
}

// SessionHub tracks the live connections per session. It is process-local
// state, rebuilt on every connect, and mutated only by the hub itself.
type SessionHub struct {
	mu       sync.RWMutex
	sessions map[uint]map[*SessionClient]struct{}
	log      zerolog.Logger
}

// NewSessionHub constructs an empty connection registry.
func NewSessionHub(logger zerolog.Logger) *SessionHub {
	return &SessionHub{
		sessions: make(map[uint]map[*SessionClient]struct{}),
		log:      logger.With().Str("component", "session_hub").Logger(),
	}
}

// Register adds the client to its session's connection set.
func (h *SessionHub) Register(client *SessionClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[client.sessionID]; !exists {
		h.sessions[client.sessionID] = make(map[*SessionClient]struct{})
	}
	h.sessions[client.sessionID][client] = struct{}{}
	h.log.Debug().Uint("session_id", client.sessionID).Str("user_id", client.identity.UserID).Msg("client connected")
}

// Unregister removes the client and garbage-collects empty session sets.
func (h *SessionHub) Unregister(client *SessionClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.sessions[client.sessionID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.sessions, client.sessionID)
		}
	}
	h.log.Debug().Uint("session_id", client.sessionID).Str("user_id", client.identity.UserID).Msg("client disconnected")
}

// Broadcast fans the envelope out to every connection in the session,
// best-effort: a slow client drops the message rather than stalling the rest.
func (h *SessionHub) Broadcast(sessionID uint, envelope dto.OutboundEnvelope, exclude *SessionClient) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.sessions[sessionID] {
		if client == exclude {
			continue
		}
		select {
		case client.send <- envelope:
		default:
			h.log.Warn().Uint("session_id", sessionID).Str("user_id", client.identity.UserID).Msg("dropping envelope for slow client")
		}
	}
}

// SendPrivate delivers the envelope to every connection of the recipient in
// the session. Returns false when the recipient is not currently connected;
// offline recipients are not queued for later delivery.
func (h *SessionHub) SendPrivate(sessionID uint, recipientID string, envelope dto.OutboundEnvelope) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := false
	for client := range h.sessions[sessionID] {
		if client.identity.UserID != recipientID {
			continue
		}
		select {
		case client.send <- envelope:
			delivered = true
		default:
			h.log.Warn().Uint("session_id", sessionID).Str("user_id", recipientID).Msg("dropping private envelope for slow client")
		}
	}
	return delivered
}

// Lookup resolves the identity of a connected user in the session. Returns
// false when the user has no live connection on this node.
func (h *SessionHub) Lookup(sessionID uint, userID string) (Actor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.sessions[sessionID] {
		if client.identity.UserID == userID {
			return client.identity, true
		}
	}
	return Actor{}, false
}

// ActiveUsers lists the identities currently connected to the session,
// de-duplicated by user id.
func (h *SessionHub) ActiveUsers(sessionID uint) []dto.ActiveUserResponse {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	users := make([]dto.ActiveUserResponse, 0, len(h.sessions[sessionID]))
	for client := range h.sessions[sessionID] {
		if _, ok := seen[client.identity.UserID]; ok {
			continue
		}
		seen[client.identity.UserID] = struct{}{}
		users = append(users, dto.ActiveUserResponse{
			UserID:   client.identity.UserID,
			UserName: client.identity.UserName,
			Role:     client.identity.Role,
		})
	}
	return users
}
