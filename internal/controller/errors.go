package controller

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"nourish_backend/pkg/apperr"
)

// ErrorHandler renders every error as {"error", "code"}.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error": fe.Message,
				"code":  codeForStatus(fe.Code),
			})
		}

		status := apperr.HTTPStatus(err)
		code := apperr.Code(err)
		message := err.Error()

		switch code {
		case apperr.CodeServerError:
			log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
			message = "Internal server error, please retry"
		case apperr.CodeUpstreamError:
			log.Warn().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("upstream provider failed")
			message = "Upstream provider unavailable, please retry"
		}

		return c.Status(status).JSON(fiber.Map{
			"error": message,
			"code":  code,
		})
	}
}

func codeForStatus(status int) string {
	switch {
	case status == fiber.StatusUnauthorized:
		return apperr.CodeNotAuthenticated
	case status == fiber.StatusNotFound:
		return apperr.CodeRecordNotFound
	case status >= 400 && status < 500:
		return apperr.CodeInvalidInput
	case status == fiber.StatusBadGateway:
		return apperr.CodeUpstreamError
	}
	return apperr.CodeServerError
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), apperr.ErrInvalidInput)
}
