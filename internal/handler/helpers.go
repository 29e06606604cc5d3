package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/membria/membria-api/internal/middleware"
	"github.com/membria/membria-api/internal/service"
	"github.com/membria/membria-api/internal/utils"
)

func sessionIDParam(c *fiber.Ctx) (uint, error) {
	return parseSessionID(c.Params("id"))
}

func parseSessionID(raw string) (uint, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid session id")
	}
	return uint(parsed), nil
}

func actorFromContext(c *fiber.Ctx) service.Actor {
	actor := service.Actor{}
	if v, ok := c.Locals("user_id").(string); ok {
		actor.UserID = strings.TrimSpace(v)
	}
	if v, ok := c.Locals("user_name").(string); ok {
		actor.UserName = strings.TrimSpace(v)
	}
	if v, ok := c.Locals("user_role").(string); ok {
		actor.Role = strings.TrimSpace(v)
	}
	return actor
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

// sendServiceError translates service sentinels into HTTP responses so every
// handler maps failures the same way.
func sendServiceError(c *fiber.Ctx, logger *zerolog.Logger, err error) error {
	if muted, ok := service.IsMuted(err); ok {
		return utils.SendError(c, fiber.StatusForbidden, muted.Error())
	}

	switch {
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrPermissionDenied):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrRateLimited):
		return utils.SendError(c, fiber.StatusTooManyRequests, err.Error())
	case errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrInvalidReaction),
		errors.Is(err, service.ErrInvalidExportFormat),
		errors.Is(err, service.ErrInvalidComparison):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	logger.Error().Err(err).Msg("request failed")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
