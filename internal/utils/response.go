package utils

import "github.com/gofiber/fiber/v2"

// APIResponse is the JSON envelope shared by every REST endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

// SendSuccess writes a 200 response carrying the given payload.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus writes a success envelope with an explicit status
// code, for handlers that create resources or accept async work.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if status == 0 {
		status = fiber.StatusOK
	}
	return respond(c, status, APIResponse{Success: true, Data: data, Message: fallback(message, "success")})
}

// SendError writes a failure envelope with the given status code. Error
// payloads never carry data.
func SendError(c *fiber.Ctx, status int, message string) error {
	return respond(c, status, APIResponse{Success: false, Message: fallback(message, "error")})
}

func respond(c *fiber.Ctx, status int, body APIResponse) error {
	return c.Status(status).JSON(body)
}

func fallback(message, def string) string {
	if message == "" {
		return def
	}
	return message
}
