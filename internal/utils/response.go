package utils

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/Merlotec/jdsite/internal/apperr"
)

// APIResponse describes the common structure for API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

// SendSuccess sends a successful JSON response with a message.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	if message == "" {
		message = "success"
	}

	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus sends a success payload using the provided HTTP status code.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if message == "" {
		message = "success"
	}
	if status == 0 {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// SendError sends an error JSON response with the given status code.
func SendError(c *fiber.Ctx, status int, message string) error {
	if message == "" {
		message = "error"
	}

	return c.Status(status).JSON(APIResponse{
		Success: false,
		Message: message,
	})
}

// SendAppError maps a core error to its HTTP status and sends it.
func SendAppError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return SendError(c, fiber.StatusBadRequest, err.Error())
	}

	return SendError(c, StatusOf(err), err.Error())
}

// StatusOf translates a core error kind to an HTTP status code.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindUnauthenticated:
		return fiber.StatusUnauthorized
	case apperr.KindUnauthorised:
		return fiber.StatusForbidden
	case apperr.KindConflict:
		return fiber.StatusConflict
	case apperr.KindInvalid:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
