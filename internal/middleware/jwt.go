package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/membria/membria-api/internal/utils"
)

// TokenClaims is the identity extracted from a validated bearer token.
type TokenClaims struct {
	UserID   string
	UserName string
	Role     string
}

// JWTProtected returns a middleware that validates JWT bearer tokens.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := c.Get("Authorization")
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
		}

		tokenString := strings.TrimSpace(authorization[len(bearer):])
		claims, err := ParseToken(secret, tokenString)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("user_name", claims.UserName)
		c.Locals("user_role", claims.Role)

		return c.Next()
	}
}

// ParseToken validates signature and expiry and extracts the subject identity.
// The websocket connect path calls this directly since browsers cannot set
// headers on upgrade requests.
func ParseToken(secret, tokenString string) (TokenClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return TokenClaims{}, fmt.Errorf("empty token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return TokenClaims{}, fmt.Errorf("invalid token")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return TokenClaims{}, fmt.Errorf("invalid token claims")
	}

	claims := TokenClaims{
		UserID:   stringClaim(mapClaims, "sub", "user_id", "id"),
		UserName: stringClaim(mapClaims, "name", "user_name"),
		Role:     strings.ToLower(stringClaim(mapClaims, "role")),
	}
	if claims.UserID == "" {
		return TokenClaims{}, fmt.Errorf("token missing subject")
	}

	return claims, nil
}

func stringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		value, ok := claims[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case float64:
			return fmt.Sprintf("%d", int64(v))
		}
	}
	return ""
}
