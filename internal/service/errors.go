// Package service implements the credential and session lifecycle: issuing
// token pairs, revoking access tokens, tracking sessions, single-use security
// tokens and the expiry sweeps that keep their tables bounded.
//
// Services return the sentinel errors below; the HTTP layer maps them to
// status codes and nothing else does.
package service

import (
	"errors"

	"github.com/iliyamo/credential-service/internal/repository"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountDeactivated  = errors.New("account deactivated")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrEmailExists         = repository.ErrEmailExists
	ErrInvalidInput        = errors.New("invalid input")

	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTokenRevoked    = errors.New("token revoked")

	ErrSessionNotFound = errors.New("session not found")

	ErrSecurityTokenInvalid     = errors.New("security token invalid")
	ErrSecurityTokenAlreadyUsed = errors.New("security token already used")
	ErrSecurityTokenExpired     = errors.New("security token expired")
	ErrSecurityTokenWrongType   = errors.New("security token has the wrong type")
)

// IsSecurityTokenError reports whether err is one of the rejections of
// SecurityTokenManager.VerifyAndConsume.
func IsSecurityTokenError(err error) bool {
	return errors.Is(err, ErrSecurityTokenInvalid) ||
		errors.Is(err, ErrSecurityTokenAlreadyUsed) ||
		errors.Is(err, ErrSecurityTokenExpired) ||
		errors.Is(err, ErrSecurityTokenWrongType)
}
