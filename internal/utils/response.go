package utils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// SuccessResponse sends a success JSON response
func SuccessResponse(c *fiber.Ctx, data any, message string, code ...int) error {
	statusCode := fiber.StatusOK
	if len(code) > 0 {
		statusCode = code[0]
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": true,
		"data":    data,
		"message": message,
	})
}

// ErrorResponse sends apiErr as {"success": false, "error": {...}}.
// An explicit status overrides apiErr.Status without mutating the shared value.
func ErrorResponse(c *fiber.Ctx, apiErr *APIError, code ...int) error {
	if apiErr == nil {
		apiErr = ErrInternalServer
	}

	statusCode := apiErr.Status
	if len(code) > 0 {
		statusCode = code[0]
	}
	if statusCode == 0 {
		statusCode = fiber.StatusInternalServerError
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": false,
		"error":   apiErr,
	})
}

// ErrorHandler is the fiber.Config ErrorHandler. It renders APIError and
// fiber.Error values in the standard envelope and hides everything else.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return ErrorResponse(c, apiErr)
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case fiber.StatusNotFound:
			return ErrorResponse(c, ErrNotFound)
		case fiber.StatusTooManyRequests:
			return ErrorResponse(c, ErrTooManyRequests)
		}
		return ErrorResponse(c, NewAPIError("HTTP_ERROR", fe.Message, fe.Code))
	}

	return ErrorResponse(c, ErrInternalServer)
}
