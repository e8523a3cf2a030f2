package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidWebhook), errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrComplianceBlocked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrAllProvidersFailed), errors.Is(err, apperrors.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, apperrors.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		return err
	}
	if code == http.StatusNotFound {
		return fiber.NewError(code, "resource not found")
	}
	return fiber.NewError(code, err.Error())
}
