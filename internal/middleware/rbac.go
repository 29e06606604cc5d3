package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/membria/membria-api/internal/utils"
)

// RequireRole guards moderator surfaces such as analytics and transcript
// export. The role comes from the JWT claims bound by JWTProtected; a request
// without a recognised role is rejected, never passed through.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := roleFromLocals(c)
		if role != "" {
			for _, allowed := range roles {
				if strings.EqualFold(strings.TrimSpace(allowed), role) {
					return c.Next()
				}
			}
		}
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}
}

func roleFromLocals(c *fiber.Ctx) string {
	switch v := c.Locals("user_role").(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case nil:
		return ""
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	}
}
