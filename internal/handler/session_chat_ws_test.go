package handler_test

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/membria/membria-api/internal/config"
	"github.com/membria/membria-api/internal/dto"
	"github.com/membria/membria-api/internal/handler"
	"github.com/membria/membria-api/internal/middleware"
	"github.com/membria/membria-api/internal/models"
	"github.com/membria/membria-api/internal/repository"
	"github.com/membria/membria-api/internal/service"
)

const wsTestSecret = "ws-test-secret"

func signChatToken(t *testing.T, userID, name, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"name": name,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(wsTestSecret))
	require.NoError(t, err)
	return signed
}

func newChatServer(t *testing.T) (string, func()) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.ChatMessage{},
		&models.ChatReaction{},
		&models.SessionMute{},
		&models.RaisedHand{},
		&models.AttendanceRecord{},
	))

	limits := config.ChatLimits{
		MessageLimit:     5,
		MessageWindow:    10 * time.Second,
		ReactionLimit:    10,
		ReactionWindow:   time.Minute,
		AutoMuteStrikes:  3,
		AutoMuteDuration: 15 * time.Minute,
		StrikeWindow:     time.Hour,
		TypingTTL:        5 * time.Second,
	}

	nop := zerolog.New(io.Discard)
	repo := repository.NewSessionChatRepository(db)
	limiter := service.NewRateLimiter(nil, limits, nop)
	moderation := service.NewModerationService(repo, nil, limits, nil, nop)
	chatService := service.NewSessionChatService(repo, limiter, moderation, nil, limits, validator.New(validator.WithRequiredStructEnabled()), nop)

	hub := service.NewSessionHub(nop)
	transport := service.NewChatTransport(chatService, hub, nil, "", nil, nop)

	app := fiber.New()
	app.Use(middleware.CorrelationID())
	h := handler.NewSessionChatHandler(chatService, transport, wsTestSecret, nop)
	h.RegisterWebsocket(app.Group("/api/v1/sessions/:id/chat"))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "ws://" + listener.Addr().String(), shutdown
}

func TestChatWebsocketSendAndEcho(t *testing.T) {
	baseURL, shutdown := newChatServer(t)
	defer shutdown()

	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	token := signChatToken(t, "member-1", "Alice", "member")

	conn, resp, err := dialer.Dial(baseURL+"/api/v1/sessions/1/chat/ws?token="+token, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(dto.InboundEnvelope{
		Type:    dto.EnvelopeChatMessage,
		Message: "hello from the socket",
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var envelope dto.OutboundEnvelope
	require.NoError(t, conn.ReadJSON(&envelope))
	require.Equal(t, dto.EnvelopeChatMessage, envelope.Type)
	require.NotNil(t, envelope.Message)
	require.Equal(t, "hello from the socket", envelope.Message.Content)
	require.Equal(t, "member-1", envelope.Message.SenderID)
}

func TestChatWebsocketBroadcastBetweenClients(t *testing.T) {
	baseURL, shutdown := newChatServer(t)
	defer shutdown()

	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}

	alice, resp, err := dialer.Dial(baseURL+"/api/v1/sessions/1/chat/ws?token="+signChatToken(t, "member-1", "Alice", "member"), nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer alice.Close()

	// Give the server a moment to register Alice before Bob joins.
	time.Sleep(50 * time.Millisecond)

	bob, resp, err := dialer.Dial(baseURL+"/api/v1/sessions/1/chat/ws?token="+signChatToken(t, "member-2", "Bob", "member"), nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer bob.Close()

	// Alice sees Bob join before any chat traffic.
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(3*time.Second)))
	var joined dto.OutboundEnvelope
	require.NoError(t, alice.ReadJSON(&joined))
	require.Equal(t, dto.EnvelopeUserJoined, joined.Type)
	require.Equal(t, "member-2", joined.UserID)

	require.NoError(t, bob.WriteJSON(dto.InboundEnvelope{
		Type:    dto.EnvelopeChatMessage,
		Message: "hi alice",
	}))

	var message dto.OutboundEnvelope
	require.NoError(t, alice.ReadJSON(&message))
	require.Equal(t, dto.EnvelopeChatMessage, message.Type)
	require.Equal(t, "hi alice", message.Message.Content)
}

func TestChatWebsocketRejectsBadToken(t *testing.T) {
	baseURL, shutdown := newChatServer(t)
	defer shutdown()

	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(baseURL+"/api/v1/sessions/1/chat/ws?token=garbage", nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	// The server closes the socket with a policy violation instead of
	// serving the session.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		require.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	}
}
