package middleware

import (
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"pyqapi/internal/logging"
)

// Logger is a middleware that logs each HTTP request through the global zap logger.
// Fields: request_id (set by RequestID), method, path, status, latency (milliseconds, float).
func Logger() fiber.Handler {
	return requestLogger(func() *zap.Logger { return logging.L() })
}

// LoggerWithWriter logs one JSON object per request to w with "ts" rendered in loc.
func LoggerWithWriter(w io.Writer, loc *time.Location) fiber.Handler {
	l := logging.NewJSON(w, loc)
	return requestLogger(func() *zap.Logger { return l })
}

func requestLogger(logger func() *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		rid, _ := c.Locals(RequestIDLocalKey).(string)
		latency := float64(time.Since(start).Microseconds()) / 1000

		logger().Info("request",
			zap.String("request_id", rid),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", statusOf(c, err)),
			zap.Float64("latency", latency),
		)

		return err
	}
}

// statusOf returns the status the error handler will write for err, or the response status.
func statusOf(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	if fiberErr, ok := err.(*fiber.Error); ok {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}
