package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/metrics"
)

const (
	requestIDKey = "requestid"
	loggerKey    = "logger"
)

// RequestIDMiddleware tags each request with an X-Request-ID, reusing the client's if present
func RequestIDMiddleware() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		Generator:  uuid.NewString,
		ContextKey: requestIDKey,
	})
}

// RequestID returns the id assigned by RequestIDMiddleware
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// LoggerFrom returns the request-scoped logger stored by AccessLog
func LoggerFrom(c *fiber.Ctx) (*zap.Logger, bool) {
	l, ok := c.Locals(loggerKey).(*zap.Logger)
	return l, ok && l != nil
}

// AccessLog stores a logger carrying the request id in locals and writes one
// structured line per request. Streaming bodies are still being written when
// this runs, so bytes are not reported here.
func AccessLog(logger *zap.Logger, m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		reqLogger := logger.With(zap.String("request_id", RequestID(c)))
		c.Locals(loggerKey, reqLogger)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			// the app error handler has not run yet
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = apperrors.GetStatusCode(err)
			}
		}

		reqLogger.Info("HTTP request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		)
		if m != nil {
			m.IncrementRequests()
		}
		return err
	}
}
