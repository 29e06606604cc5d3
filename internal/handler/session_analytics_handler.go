package handler

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/membria/membria-api/internal/dto"
	"github.com/membria/membria-api/internal/service"
	"github.com/membria/membria-api/internal/utils"
)

// SessionAnalyticsHandler exposes per-session reports, attendance exports and
// cross-session comparisons.
type SessionAnalyticsHandler struct {
	service   service.SessionAnalyticsService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSessionAnalyticsHandler creates a session analytics handler instance.
func NewSessionAnalyticsHandler(svc service.SessionAnalyticsService, validator *validator.Validate, logger zerolog.Logger) *SessionAnalyticsHandler {
	return &SessionAnalyticsHandler{
		service:   svc,
		validator: validator,
		logger:    logger.With().Str("component", "session_analytics_handler").Logger(),
	}
}

// Register binds analytics routes under the provided session-scoped group.
func (h *SessionAnalyticsHandler) Register(router fiber.Router) {
	router.Get("/analytics", h.sessionAnalytics)
	router.Get("/analytics/export", h.exportAttendance)
}

// RegisterCompare binds the cross-session comparison route, which is not
// scoped to a single session.
func (h *SessionAnalyticsHandler) RegisterCompare(router fiber.Router) {
	router.Post("/analytics/compare", h.compareSessions)
}

func (h *SessionAnalyticsHandler) sessionAnalytics(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	sessionID, err := sessionIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	report, err := h.service.GetSessionAnalytics(requestContext(c), sessionID)
	if err != nil {
		return sendServiceError(c, logger, err)
	}

	return utils.SendSuccess(c, "session analytics", report)
}

func (h *SessionAnalyticsHandler) exportAttendance(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	sessionID, err := sessionIDParam(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	payload, err := h.service.ExportAttendanceCSV(requestContext(c), sessionID)
	if err != nil {
		return sendServiceError(c, logger, err)
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=session-%d-attendance.csv", sessionID))
	return c.Send(payload)
}

func (h *SessionAnalyticsHandler) compareSessions(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	var req dto.SessionComparisonRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.validator.Struct(req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	comparison, err := h.service.CompareSessions(requestContext(c), req.SessionIDs)
	if err != nil {
		return sendServiceError(c, logger, err)
	}

	return utils.SendSuccess(c, "session comparison", comparison)
}
