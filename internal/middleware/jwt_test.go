package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseTokenExtractsIdentity(t *testing.T) {
	signed := signToken(t, testSecret, jwt.MapClaims{
		"sub":  "member-1",
		"name": "Alice",
		"role": "Instructor",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	claims, err := ParseToken(testSecret, signed)
	require.NoError(t, err)
	require.Equal(t, "member-1", claims.UserID)
	require.Equal(t, "Alice", claims.UserName)
	require.Equal(t, "instructor", claims.Role)
}

func TestParseTokenNumericSubject(t *testing.T) {
	signed := signToken(t, testSecret, jwt.MapClaims{
		"user_id": float64(42),
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	claims, err := ParseToken(testSecret, signed)
	require.NoError(t, err)
	require.Equal(t, "42", claims.UserID)
}

func TestParseTokenRejectsBadInput(t *testing.T) {
	_, err := ParseToken(testSecret, "")
	require.Error(t, err)

	_, err = ParseToken(testSecret, "not-a-token")
	require.Error(t, err)

	// Wrong secret.
	signed := signToken(t, "other-secret", jwt.MapClaims{"sub": "member-1"})
	_, err = ParseToken(testSecret, signed)
	require.Error(t, err)

	// Expired.
	signed = signToken(t, testSecret, jwt.MapClaims{
		"sub": "member-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err = ParseToken(testSecret, signed)
	require.Error(t, err)

	// Missing subject.
	signed = signToken(t, testSecret, jwt.MapClaims{"name": "Alice"})
	_, err = ParseToken(testSecret, signed)
	require.Error(t, err)
}

func TestJWTProtectedSetsLocals(t *testing.T) {
	app := fiber.New()
	app.Use(JWTProtected(testSecret))
	app.Get("/", func(c *fiber.Ctx) error {
		require.Equal(t, "member-1", c.Locals("user_id"))
		require.Equal(t, "member", c.Locals("user_role"))
		return c.SendStatus(fiber.StatusOK)
	})

	signed := signToken(t, testSecret, jwt.MapClaims{
		"sub":  "member-1",
		"role": "member",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestJWTProtectedRejectsMissingHeader(t *testing.T) {
	app := fiber.New()
	app.Use(JWTProtected(testSecret))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
