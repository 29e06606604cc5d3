package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/membria/membria-api/internal/dto"
	"github.com/membria/membria-api/internal/handler"
	"github.com/membria/membria-api/internal/service"
)

type mockChatService struct {
	messages []dto.ChatMessageResponse
	typing   []dto.ActiveUserResponse
	hands    []dto.RaisedHandResponse
	export   []byte
	err      error

	lastViewer         service.Actor
	lastSessionID      uint
	lastFormat         string
	lastIncludePrivate bool
}

func (m *mockChatService) Send(context.Context, uint, service.Actor, dto.ChatSendRequest) (service.SendResult, error) {
	return service.SendResult{}, m.err
}

func (m *mockChatService) List(_ context.Context, _ uint, viewer service.Actor) ([]dto.ChatMessageResponse, error) {
	m.lastViewer = viewer
	if m.err != nil {
		return nil, m.err
	}
	return m.messages, nil
}

func (m *mockChatService) Delete(context.Context, uint, uint, service.Actor) error { return m.err }

func (m *mockChatService) React(context.Context, uint, uint, service.Actor, string) (dto.ChatMessageResponse, error) {
	return dto.ChatMessageResponse{}, m.err
}

func (m *mockChatService) Mute(context.Context, uint, service.Actor, string, int, string) (dto.MuteResponse, error) {
	return dto.MuteResponse{}, m.err
}

func (m *mockChatService) Unmute(context.Context, uint, service.Actor, string) error { return m.err }

func (m *mockChatService) RaiseHand(context.Context, uint, service.Actor) (dto.RaisedHandResponse, error) {
	return dto.RaisedHandResponse{}, m.err
}

func (m *mockChatService) LowerHand(context.Context, uint, service.Actor, string) error {
	return m.err
}

func (m *mockChatService) RaisedHands(_ context.Context, sessionID uint) ([]dto.RaisedHandResponse, error) {
	m.lastSessionID = sessionID
	if m.err != nil {
		return nil, m.err
	}
	return m.hands, nil
}

func (m *mockChatService) SetTyping(context.Context, uint, service.Actor, bool) error { return m.err }

func (m *mockChatService) TypingUsers(_ context.Context, sessionID uint) ([]dto.ActiveUserResponse, error) {
	m.lastSessionID = sessionID
	if m.err != nil {
		return nil, m.err
	}
	return m.typing, nil
}

func (m *mockChatService) Export(_ context.Context, _ uint, viewer service.Actor, format string, includePrivate bool) ([]byte, string, error) {
	m.lastViewer = viewer
	m.lastFormat = format
	m.lastIncludePrivate = includePrivate
	if m.err != nil {
		return nil, "", m.err
	}
	return m.export, "application/json", nil
}

func (m *mockChatService) RecordJoin(context.Context, uint, service.Actor) error  { return m.err }
func (m *mockChatService) RecordLeave(context.Context, uint, service.Actor) error { return m.err }

func newChatApp(svc service.SessionChatService, transport *service.ChatTransport, userID, role string) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v1/sessions/:id/chat", func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("user_name", "Test User")
		c.Locals("user_role", role)
		return c.Next()
	})
	handler.NewSessionChatHandler(svc, transport, "secret", zerolog.New(io.Discard)).Register(group)
	return app
}

func TestChatHandler_ListMessages(t *testing.T) {
	svc := &mockChatService{messages: []dto.ChatMessageResponse{
		{ID: 1, Content: "hello"},
		{ID: 2, Content: "hi there"},
	}}
	app := newChatApp(svc, nil, "member-1", "member")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/5/chat/messages", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "member-1", svc.lastViewer.UserID)

	var payload struct {
		Success bool                      `json:"success"`
		Data    []dto.ChatMessageResponse `json:"data"`
	}
	decodeResponse(t, resp, &payload)
	require.True(t, payload.Success)
	require.Len(t, payload.Data, 2)
}

func TestChatHandler_TypingUsers(t *testing.T) {
	svc := &mockChatService{typing: []dto.ActiveUserResponse{
		{UserID: "member-2", UserName: "Bob"},
	}}
	app := newChatApp(svc, nil, "member-1", "member")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/5/chat/typing", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, uint(5), svc.lastSessionID)

	var payload struct {
		Success bool                     `json:"success"`
		Data    []dto.ActiveUserResponse `json:"data"`
	}
	decodeResponse(t, resp, &payload)
	require.True(t, payload.Success)
	require.Len(t, payload.Data, 1)
	require.Equal(t, "member-2", payload.Data[0].UserID)
}

func TestChatHandler_RaisedHands(t *testing.T) {
	svc := &mockChatService{hands: []dto.RaisedHandResponse{
		{UserID: "member-1", UserName: "Alice"},
		{UserID: "member-2", UserName: "Bob"},
	}}
	app := newChatApp(svc, nil, "member-1", "member")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/5/chat/raised-hands", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Success bool                     `json:"success"`
		Data    []dto.RaisedHandResponse `json:"data"`
	}
	decodeResponse(t, resp, &payload)
	require.True(t, payload.Success)
	require.Len(t, payload.Data, 2)
}

func TestChatHandler_ActiveUsers(t *testing.T) {
	svc := &mockChatService{}
	hub := service.NewSessionHub(zerolog.New(io.Discard))
	transport := service.NewChatTransport(svc, hub, nil, "", nil, zerolog.New(io.Discard))
	hub.Register(service.NewSessionClient(nil, 5, service.Actor{UserID: "member-2", UserName: "Bob", Role: "member"}))

	app := newChatApp(svc, transport, "member-1", "member")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/5/chat/active-users", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Success bool                     `json:"success"`
		Data    []dto.ActiveUserResponse `json:"data"`
	}
	decodeResponse(t, resp, &payload)
	require.True(t, payload.Success)
	require.Len(t, payload.Data, 1)
	require.Equal(t, "Bob", payload.Data[0].UserName)

	// A session with no connections yields an empty list, not an error.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions/9/chat/active-users", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestChatHandler_ExportDefaultsToJSON(t *testing.T) {
	svc := &mockChatService{export: []byte(`[]`)}
	app := newChatApp(svc, nil, "instructor-1", "instructor")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/5/chat/export", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "json", svc.lastFormat)
	require.False(t, svc.lastIncludePrivate)
	require.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "session-5-chat.json")
}

func TestChatHandler_ExportPrivateRequiresModerator(t *testing.T) {
	svc := &mockChatService{export: []byte(`[]`)}

	app := newChatApp(svc, nil, "member-1", "member")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/5/chat/export?include_private=true", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	app = newChatApp(svc, nil, "instructor-1", "instructor")
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions/5/chat/export?include_private=true", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.True(t, svc.lastIncludePrivate)
}

func TestChatHandler_ExportUnknownFormat(t *testing.T) {
	svc := &mockChatService{err: service.ErrInvalidExportFormat}
	app := newChatApp(svc, nil, "instructor-1", "instructor")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/5/chat/export?format=xml", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestChatHandler_RateLimitedMapsTo429(t *testing.T) {
	svc := &mockChatService{err: service.ErrRateLimited}
	app := newChatApp(svc, nil, "member-1", "member")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/5/chat/messages", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}
