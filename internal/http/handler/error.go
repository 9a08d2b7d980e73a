package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"pyqapi/internal/auth"
	"pyqapi/internal/http/middleware"
	"pyqapi/internal/logging"
	"pyqapi/internal/service"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response.
// code is machine-readable (e.g. "NOT_FOUND"); message must be safe to show to clients.
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// writeServiceError maps service and auth errors onto the error envelope.
// Unknown errors are logged and reported as INTERNAL_ERROR without detail.
func writeServiceError(c *fiber.Ctx, err error) error {
	var dlErr *service.DownloadError
	switch {
	case errors.Is(err, service.ErrValidation):
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, service.ErrIDRequired):
		return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "id is required")
	case errors.Is(err, service.ErrFileRequired):
		return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "no PDF uploaded")
	case errors.Is(err, service.ErrNotPDF):
		return writeError(c, fiber.StatusBadRequest, "NOT_PDF", "uploaded file is not a PDF")
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "paper not found")
	case errors.Is(err, auth.ErrInvalidCredentials):
		return writeError(c, fiber.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
	case errors.Is(err, auth.ErrNotConfigured):
		return writeError(c, fiber.StatusServiceUnavailable, "AUTH_NOT_CONFIGURED", "admin login is not configured")
	case errors.As(err, &dlErr):
		logging.L().Error("download failed",
			zap.String("request_id", requestIDFromCtx(c)),
			zap.String("paper_id", dlErr.PaperID),
			zap.Int("attempts", len(dlErr.Attempts)),
			zap.Error(err),
		)
		return writeError(c, fiber.StatusInternalServerError, "DOWNLOAD_FAILED", dlErr.Redacted())
	}

	code := "INTERNAL_ERROR"
	if errors.Is(err, service.ErrStorage) {
		code = "STORAGE_ERROR"
	}
	logging.L().Error("request failed",
		zap.String("request_id", requestIDFromCtx(c)),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return writeError(c, fiber.StatusInternalServerError, code, "internal server error")
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var e *fiber.Error
		if errors.As(err, &e) {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusUnauthorized:
			return writeError(c, status, "UNAUTHORIZED", "authentication required")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "PAYLOAD_TOO_LARGE", "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
