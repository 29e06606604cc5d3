package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/membria/membria-api/internal/dto"
	"github.com/membria/membria-api/internal/middleware"
	"github.com/membria/membria-api/internal/service"
	"github.com/membria/membria-api/internal/utils"
)

// SessionChatHandler wires session chat endpoints including the websocket
// upgrade.
type SessionChatHandler struct {
	service   service.SessionChatService
	transport *service.ChatTransport
	jwtSecret string
	logger    zerolog.Logger
}

// NewSessionChatHandler creates a session chat handler instance.
func NewSessionChatHandler(svc service.SessionChatService, transport *service.ChatTransport, jwtSecret string, logger zerolog.Logger) *SessionChatHandler {
	return &SessionChatHandler{
		service:   svc,
		transport: transport,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "session_chat_handler").Logger(),
	}
}

// Register binds the REST chat routes under the provided session-scoped
// group. The group is expected to carry JWT middleware.
func (h *SessionChatHandler) Register(router fiber.Router) {
	router.Get("/messages", h.listMessages)
	router.Get("/active-users", h.listActiveUsers)
	router.Get("/typing", h.listTypingUsers)
	router.Get("/raised-hands", h.listRaisedHands)
	router.Get("/export", h.exportTranscript)
}

// RegisterWebsocket binds the websocket upgrade route. The socket
// authenticates itself from the token query parameter, so the group must not
// carry JWT middleware.
func (h *SessionChatHandler) RegisterWebsocket(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			c.Locals("correlation_id", middleware.GetCorrelationID(c))
			c.Locals("session_id_param", c.Params("id"))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
}

// handleConnection authenticates the upgraded socket. Browsers cannot set an
// Authorization header on websocket requests, so the JWT arrives as a token
// query parameter.
func (h *SessionChatHandler) handleConnection(conn *websocket.Conn) {
	token := strings.TrimSpace(conn.Query("token"))
	claims, err := middleware.ParseToken(h.jwtSecret, token)
	if err != nil {
		h.closeWith(conn, websocket.ClosePolicyViolation, "authentication required")
		return
	}

	rawSessionID, ok := conn.Locals("session_id_param").(string)
	if !ok {
		h.closeWith(conn, websocket.CloseInternalServerErr, "connection state missing")
		return
	}
	sessionID, err := parseSessionID(rawSessionID)
	if err != nil {
		h.closeWith(conn, websocket.ClosePolicyViolation, "invalid session id")
		return
	}

	correlation := fmt.Sprint(conn.Locals("correlation_id"))
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.ChatConnectionOptions{
		Identity: service.Actor{
			UserID:   claims.UserID,
			UserName: claims.UserName,
			Role:     claims.Role,
		},
		SessionID:     sessionID,
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", claims.UserID).Uint("session_id", sessionID).Msg("chat websocket connected")
	h.transport.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", claims.UserID).Uint("session_id", sessionID).Msg("chat websocket disconnected")
}

func (h *SessionChatHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = conn.Close()
}

func (h *SessionChatHandler) listMessages(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	sessionID, err := sessionIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	messages, err := h.service.List(requestContext(c), sessionID, actorFromContext(c))
	if err != nil {
		return sendServiceError(c, logger, err)
	}

	return utils.SendSuccess(c, "chat messages", messages)
}

// listActiveUsers serves the live attendee set so a client joining
// mid-session does not depend on having seen every presence envelope.
func (h *SessionChatHandler) listActiveUsers(c *fiber.Ctx) error {
	sessionID, err := sessionIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	users := []dto.ActiveUserResponse{}
	if h.transport != nil {
		users = h.transport.ActiveUsers(sessionID)
	}
	return utils.SendSuccess(c, "active users", users)
}

func (h *SessionChatHandler) listTypingUsers(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	sessionID, err := sessionIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	users, err := h.service.TypingUsers(requestContext(c), sessionID)
	if err != nil {
		return sendServiceError(c, logger, err)
	}
	return utils.SendSuccess(c, "typing users", users)
}

func (h *SessionChatHandler) listRaisedHands(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	sessionID, err := sessionIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	hands, err := h.service.RaisedHands(requestContext(c), sessionID)
	if err != nil {
		return sendServiceError(c, logger, err)
	}
	return utils.SendSuccess(c, "raised hands", hands)
}

func (h *SessionChatHandler) exportTranscript(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	sessionID, err := sessionIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	format := strings.TrimSpace(c.Query("format", service.ExportFormatJSON))
	includePrivate := c.QueryBool("include_private", false)

	actor := actorFromContext(c)
	if includePrivate && !actor.Privileged() {
		return utils.SendError(c, fiber.StatusForbidden, service.ErrPermissionDenied.Error())
	}

	payload, contentType, err := h.service.Export(requestContext(c), sessionID, actor, format, includePrivate)
	if err != nil {
		return sendServiceError(c, logger, err)
	}

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=session-%d-chat.%s", sessionID, exportExtension(format)))
	return c.Send(payload)
}

func exportExtension(format string) string {
	switch strings.ToLower(format) {
	case service.ExportFormatCSV:
		return "csv"
	case service.ExportFormatText:
		return "txt"
	default:
		return "json"
	}
}
