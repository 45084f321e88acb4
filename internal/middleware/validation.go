package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
)

// ErrorBody is the JSON shape of every failed request
type ErrorBody struct {
	Error     string      `json:"error"`
	Code      string      `json:"code"`
	Kind      string      `json:"kind"`
	Path      string      `json:"path"`
	RequestID string      `json:"request_id,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

// ErrorHandler converts handler errors to status codes and ErrorBody responses
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		body := ErrorBody{
			Path:      c.Path(),
			RequestID: RequestID(c),
		}

		var status int
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			body.Error = fe.Message
			body.Code = strings.ToUpper(strings.ReplaceAll(fiberStatusText(fe.Code), " ", "_"))
			body.Kind = string(apperrors.KindInvalidInput)
			if status >= 500 {
				body.Kind = string(apperrors.KindInternal)
			}
		} else {
			status = apperrors.GetStatusCode(err)
			body.Error = apperrors.GetErrorMessage(err)
			body.Code = apperrors.GetErrorCode(err)
			body.Kind = string(apperrors.KindOf(err))
			body.Details = apperrors.GetDetails(err)
		}

		fields := []zap.Field{
			zap.Error(err),
			zap.String("path", c.Path()),
			zap.String("method", c.Method()),
			zap.Int("status", status),
			zap.String("error_code", body.Code),
			zap.String("request_id", body.RequestID),
		}
		if status >= 500 {
			logger.Error("Request failed", fields...)
		} else {
			logger.Info("Request rejected", fields...)
		}

		return c.Status(status).JSON(body)
	}
}

func fiberStatusText(code int) string {
	if text := utils.StatusMessage(code); text != "" {
		return text
	}
	return "error"
}

// RequireJSON rejects POST and PUT requests that are not application/json
func RequireJSON() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			if !strings.Contains(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
				return apperrors.ErrInvalidRequest.WithMessage("Content-Type must be application/json")
			}
		}
		return c.Next()
	}
}

// RequireQuery returns the named query parameter or a MissingParameter error
func RequireQuery(c *fiber.Ctx, name string) (string, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return "", apperrors.ErrMissingParameter.WithMessage("query parameter %q is required", name)
	}
	return v, nil
}
