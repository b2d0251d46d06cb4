package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/credential-service/internal/service"
)

// status maps a service error to an HTTP status and a client message. This
// is the only place where error kinds become protocol codes.
func status(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, service.ErrAccountDeactivated):
		return http.StatusForbidden, "account deactivated"
	case errors.Is(err, service.ErrInvalidRefreshToken):
		return http.StatusUnauthorized, "invalid or expired refresh token"
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrTokenRevoked):
		return http.StatusUnauthorized, "token revoked"
	case errors.Is(err, service.ErrEmailExists):
		return http.StatusConflict, "email already exists"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrSecurityTokenExpired):
		return http.StatusBadRequest, "token expired"
	case errors.Is(err, service.ErrSecurityTokenAlreadyUsed):
		return http.StatusBadRequest, "token already used"
	case errors.Is(err, service.ErrSecurityTokenInvalid), errors.Is(err, service.ErrSecurityTokenWrongType):
		return http.StatusBadRequest, "invalid token"
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, service.ErrUnknownSweep):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// fail writes err as a JSON error body. Unexpected errors are logged with
// the operation name; expected rejections are not.
func fail(c echo.Context, log *zap.Logger, op string, err error) error {
	code, msg := status(err)
	if code >= http.StatusInternalServerError {
		log.Error(op+" failed", zap.Error(err), zap.String("route", c.Path()))
	}
	return c.JSON(code, echo.Map{"error": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
