package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/membria/membria-api/internal/dto"
	"github.com/membria/membria-api/internal/observability"
)

const keepaliveInterval = 30 * time.Second

// ChatConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ChatConnectionOptions struct {
	Identity      Actor
	SessionID     uint
	CorrelationID string
	Context       context.Context
}

// ChatTransport serves websocket connections for session chat: it reads
// inbound envelopes sequentially per connection, dispatches them to the chat
// service, and fans results out through the hub. When Redis pub/sub or NATS
// is configured, outbound events are relayed across instances so broadcast
// and private delivery work beyond one process's memory.
type ChatTransport struct {
	service     SessionChatService
	hub         *SessionHub
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	natsQueue   string
	logger      zerolog.Logger
	nodeID      string
}

type relayEvent struct {
	Source    string               `json:"source"`
	SessionID uint                 `json:"session_id"`
	Recipient string               `json:"recipient,omitempty"`
	Envelope  dto.OutboundEnvelope `json:"envelope"`
	SentAt    time.Time            `json:"sent_at"`
}

// NewChatTransport creates the websocket transport.
func NewChatTransport(service SessionChatService, hub *SessionHub, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) *ChatTransport {
	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":chat"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".chat"
	}

	return &ChatTransport{
		service:     service,
		hub:         hub,
		redis:       redisClient,
		redisStream: stream,
		nats:        natsConn,
		natsSubject: subject,
		natsQueue:   "membria-chat",
		logger:      logger.With().Str("component", "chat_transport").Logger(),
		nodeID:      uuid.NewString(),
	}
}

// Start launches the cross-instance relay consumers. No-op when neither
// backend is configured.
func (t *ChatTransport) Start(ctx context.Context) {
	if t.redis != nil && t.redisStream != "" {
		go t.consumeRedis(ctx)
	}
	if t.nats != nil && t.natsSubject != "" {
		go t.consumeNATS(ctx)
	}
}

// ActiveUsers lists the identities connected to this node for the session,
// so late joiners can fetch the current attendee set over REST.
func (t *ChatTransport) ActiveUsers(sessionID uint) []dto.ActiveUserResponse {
	return t.hub.ActiveUsers(sessionID)
}

// ServeConnection runs the connection until the client disconnects. The
// caller has already authenticated the token and resolved the identity.
func (t *ChatTransport) ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := NewSessionClient(conn, opts.SessionID, opts.Identity)
	t.hub.Register(client)
	observability.ChatConnectionsActive().Inc()

	if err := t.service.RecordJoin(baseCtx, opts.SessionID, opts.Identity); err != nil {
		t.logger.Warn().Err(err).Str("user_id", opts.Identity.UserID).Msg("failed to record attendance join")
	}

	t.fanout(baseCtx, opts.SessionID, dto.OutboundEnvelope{
		Type:      dto.EnvelopeUserJoined,
		UserID:    opts.Identity.UserID,
		UserName:  opts.Identity.UserName,
		Timestamp: time.Now().UTC(),
	}, client)

	go t.writer(client)
	t.reader(baseCtx, client)

	// Reader returned: the connection is gone.
	t.closeClient(client)
	observability.ChatConnectionsActive().Dec()

	if err := t.service.RecordLeave(baseCtx, opts.SessionID, opts.Identity); err != nil {
		t.logger.Warn().Err(err).Str("user_id", opts.Identity.UserID).Msg("failed to record attendance leave")
	}
	_ = t.service.SetTyping(baseCtx, opts.SessionID, opts.Identity, false)

	t.fanout(baseCtx, opts.SessionID, dto.OutboundEnvelope{
		Type:      dto.EnvelopeUserLeft,
		UserID:    opts.Identity.UserID,
		UserName:  opts.Identity.UserName,
		Timestamp: time.Now().UTC(),
	}, nil)
}

func (t *ChatTransport) reader(ctx context.Context, client *SessionClient) {
	for {
		var envelope dto.InboundEnvelope
		if err := client.conn.ReadJSON(&envelope); err != nil {
			t.logger.Debug().Err(err).Str("user_id", client.identity.UserID).Msg("chat read loop ended")
			return
		}

		// One envelope handled to completion before the next is read:
		// inbound processing is strictly sequential per connection.
		t.dispatch(ctx, client, envelope)
	}
}

func (t *ChatTransport) writer(client *SessionClient) {
	defer t.closeClient(client)

	for {
		select {
		case envelope, ok := <-client.send:
			if !ok {
				return
			}
			if err := client.conn.WriteJSON(envelope); err != nil {
				t.logger.Debug().Err(err).Str("user_id", client.identity.UserID).Msg("chat write loop terminated")
				return
			}
		case <-time.After(keepaliveInterval):
			if err := client.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				t.logger.Debug().Err(err).Str("user_id", client.identity.UserID).Msg("chat ping failed")
				return
			}
		case <-client.closed:
			return
		}
	}
}

func (t *ChatTransport) closeClient(client *SessionClient) {
	client.once.Do(func() {
		close(client.closed)
		t.hub.Unregister(client)
		_ = client.conn.Close()
	})
}

func (t *ChatTransport) dispatch(ctx context.Context, client *SessionClient, envelope dto.InboundEnvelope) {
	sessionID := client.sessionID
	actor := client.identity

	switch envelope.Type {
	case dto.EnvelopeChatMessage:
		t.handleSend(ctx, client, envelope)

	case dto.EnvelopeReactionAdded:
		message, err := t.service.React(ctx, sessionID, envelope.MessageID, actor, envelope.Reaction)
		if err != nil {
			t.sendError(client, err)
			return
		}
		t.fanout(ctx, sessionID, dto.OutboundEnvelope{
			Type:      dto.EnvelopeReactionAdded,
			MessageID: message.ID,
			Reaction:  envelope.Reaction,
			Reactions: message.Reactions,
			UserID:    actor.UserID,
			Timestamp: time.Now().UTC(),
		}, nil)

	case dto.EnvelopeHandRaised:
		hand, err := t.service.RaiseHand(ctx, sessionID, actor)
		if err != nil {
			t.sendError(client, err)
			return
		}
		t.fanout(ctx, sessionID, dto.OutboundEnvelope{
			Type:      dto.EnvelopeHandRaised,
			UserID:    hand.UserID,
			UserName:  hand.UserName,
			Timestamp: hand.RaisedAt,
		}, nil)

	case dto.EnvelopeHandLowered:
		if err := t.service.LowerHand(ctx, sessionID, actor, envelope.UserID); err != nil {
			t.sendError(client, err)
			return
		}
		target := envelope.UserID
		if target == "" {
			target = actor.UserID
		}
		t.fanout(ctx, sessionID, dto.OutboundEnvelope{
			Type:      dto.EnvelopeHandLowered,
			UserID:    target,
			Timestamp: time.Now().UTC(),
		}, nil)

	case dto.EnvelopeTypingStart, dto.EnvelopeTypingStop:
		typing := envelope.Type == dto.EnvelopeTypingStart
		if err := t.service.SetTyping(ctx, sessionID, actor, typing); err != nil {
			t.sendError(client, err)
			return
		}
		t.fanout(ctx, sessionID, dto.OutboundEnvelope{
			Type:      envelope.Type,
			UserID:    actor.UserID,
			UserName:  actor.UserName,
			Timestamp: time.Now().UTC(),
		}, client)

	case dto.EnvelopeDeleteMessage:
		if err := t.service.Delete(ctx, sessionID, envelope.MessageID, actor); err != nil {
			t.sendError(client, err)
			return
		}
		t.fanout(ctx, sessionID, dto.OutboundEnvelope{
			Type:      dto.EnvelopeMessageDeleted,
			MessageID: envelope.MessageID,
			DeletedBy: actor.UserID,
			Timestamp: time.Now().UTC(),
		}, nil)

	case dto.EnvelopeMuteUser:
		mute, err := t.service.Mute(ctx, sessionID, actor, envelope.UserID, envelope.DurationMinutes, envelope.Reason)
		if err != nil {
			t.sendError(client, err)
			return
		}
		t.fanout(ctx, sessionID, dto.OutboundEnvelope{
			Type:      dto.EnvelopeUserMuted,
			UserID:    mute.UserID,
			Reason:    mute.Reason,
			ExpiresAt: mute.ExpiresAt,
			Timestamp: time.Now().UTC(),
		}, nil)

	case dto.EnvelopeUnmuteUser:
		if err := t.service.Unmute(ctx, sessionID, actor, envelope.UserID); err != nil {
			t.sendError(client, err)
			return
		}
		t.fanout(ctx, sessionID, dto.OutboundEnvelope{
			Type:      dto.EnvelopeUserUnmuted,
			UserID:    envelope.UserID,
			Timestamp: time.Now().UTC(),
		}, nil)

	default:
		t.sendToClient(client, dto.ErrorEnvelope(fmt.Sprintf("unknown message type: %q", envelope.Type)))
	}
}

func (t *ChatTransport) handleSend(ctx context.Context, client *SessionClient, envelope dto.InboundEnvelope) {
	req := dto.ChatSendRequest{
		Message:     envelope.Message,
		IsPrivate:   envelope.IsPrivate,
		RecipientID: envelope.RecipientID,
	}
	if req.IsPrivate {
		if identity, ok := t.hub.Lookup(client.sessionID, req.RecipientID); ok {
			req.RecipientName = identity.UserName
		}
	}

	result, err := t.service.Send(ctx, client.sessionID, client.identity, req)
	if err != nil {
		t.sendError(client, err)
		return
	}

	out := dto.OutboundEnvelope{
		Type:      dto.EnvelopeChatMessage,
		Message:   &result.Message,
		Timestamp: result.Message.CreatedAt,
	}

	if result.Message.IsPrivate {
		// Sender echo plus targeted delivery; an offline recipient is not
		// queued, the persisted row covers history.
		t.sendToClient(client, out)
		t.deliverPrivate(ctx, client.sessionID, result.Message.RecipientID, out)
	} else {
		t.fanout(ctx, client.sessionID, out, nil)
	}

	if result.AutoMute != nil {
		t.fanout(ctx, client.sessionID, dto.OutboundEnvelope{
			Type:      dto.EnvelopeUserMuted,
			UserID:    result.AutoMute.UserID,
			Reason:    result.AutoMute.Reason,
			ExpiresAt: result.AutoMute.ExpiresAt,
			Timestamp: time.Now().UTC(),
		}, nil)
	}
}

// sendError translates a domain error into an error envelope delivered to the
// offending connection only. Unexpected errors are logged with context and
// masked behind a generic message; the connection stays open either way.
func (t *ChatTransport) sendError(client *SessionClient, err error) {
	var message string
	switch {
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrInvalidReaction),
		errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrEmptyMessage):
		message = err.Error()
	default:
		if muted, ok := IsMuted(err); ok {
			message = muted.Error()
			if muted.Reason != "" {
				message = fmt.Sprintf("%s (%s)", message, muted.Reason)
			}
			break
		}
		t.logger.Error().Err(err).
			Uint("session_id", client.sessionID).
			Str("user_id", client.identity.UserID).
			Msg("chat action failed")
		message = "action failed"
	}

	t.sendToClient(client, dto.ErrorEnvelope(message))
}

func (t *ChatTransport) sendToClient(client *SessionClient, envelope dto.OutboundEnvelope) {
	select {
	case <-client.closed:
	case client.send <- envelope:
	default:
		t.logger.Warn().Str("user_id", client.identity.UserID).Msg("sender queue full, dropping envelope")
	}
}

func (t *ChatTransport) fanout(ctx context.Context, sessionID uint, envelope dto.OutboundEnvelope, exclude *SessionClient) {
	t.hub.Broadcast(sessionID, envelope, exclude)
	t.publish(ctx, relayEvent{
		Source:    t.nodeID,
		SessionID: sessionID,
		Envelope:  envelope,
		SentAt:    time.Now().UTC(),
	})
}

func (t *ChatTransport) deliverPrivate(ctx context.Context, sessionID uint, recipientID string, envelope dto.OutboundEnvelope) {
	delivered := t.hub.SendPrivate(sessionID, recipientID, envelope)
	if !delivered {
		t.logger.Debug().Uint("session_id", sessionID).Str("recipient_id", recipientID).Msg("private recipient not connected locally")
	}
	t.publish(ctx, relayEvent{
		Source:    t.nodeID,
		SessionID: sessionID,
		Recipient: recipientID,
		Envelope:  envelope,
		SentAt:    time.Now().UTC(),
	})
}

func (t *ChatTransport) publish(ctx context.Context, event relayEvent) {
	if (t.redis == nil || t.redisStream == "") && (t.nats == nil || t.natsSubject == "") {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to marshal relay event")
		return
	}

	if t.redis != nil && t.redisStream != "" {
		if err := t.redis.Publish(ctx, t.redisStream, payload).Err(); err != nil {
			t.logger.Warn().Err(err).Msg("failed to publish relay event to redis")
		}
	}
	if t.nats != nil && t.natsSubject != "" {
		if err := t.nats.Publish(t.natsSubject, payload); err != nil {
			t.logger.Warn().Err(err).Msg("failed to publish relay event to nats")
		}
	}
}

func (t *ChatTransport) consumeRedis(ctx context.Context) {
	pubsub := t.redis.Subscribe(ctx, t.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			t.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		t.handleRelay([]byte(msg.Payload))
	}
}

func (t *ChatTransport) consumeNATS(ctx context.Context) {
	sub, err := t.nats.QueueSubscribe(t.natsSubject, t.natsQueue, func(msg *nats.Msg) {
		t.handleRelay(msg.Data)
	})
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			t.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

func (t *ChatTransport) handleRelay(data []byte) {
	var event relayEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.logger.Warn().Err(err).Msg("invalid relay event")
		return
	}

	if event.Source == t.nodeID {
		return
	}

	if event.Recipient != "" {
		t.hub.SendPrivate(event.SessionID, event.Recipient, event.Envelope)
		return
	}
	t.hub.Broadcast(event.SessionID, event.Envelope, nil)
}
