// Package middleware holds the echo middleware of the credential service:
// the request guard, role checks, rate limiting and access logging.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/credential-service/internal/metrics"
	"github.com/iliyamo/credential-service/internal/utils"
)

// Verifier checks the signature, expiry and use of a token.
type Verifier interface {
	Verify(raw string, use utils.TokenUse) (*utils.Claims, error)
}

// RevocationChecker answers whether an access token was revoked.
type RevocationChecker interface {
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// Keys under which the guard stores request identity in echo.Context.
const (
	CtxAccessToken = "access_token"
	CtxClaims      = "claims"
	CtxUserID      = "user_id"
	CtxRole        = "role"
	CtxPermissions = "permissions"
)

// RequestGuard authenticates a request in four fixed steps: bearer
// extraction, signature check, revocation check and claim injection.
func RequestGuard(v Verifier, rc RevocationChecker, timeout time.Duration) echo.MiddlewareFunc {
	steps := []echo.MiddlewareFunc{
		BearerToken(),
		VerifySignature(v),
		RejectRevoked(rc, timeout),
		InjectClaims(),
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := next
		for i := len(steps) - 1; i >= 0; i-- {
			h = steps[i](h)
		}
		return h
	}
}

// BearerToken reads the Authorization header. Requests without a bearer
// token stop here with 401.
func BearerToken() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, raw, ok := strings.Cut(auth, " ")
			raw = strings.TrimSpace(raw)
			if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" {
				return reject(c, "missing", "missing bearer token")
			}
			c.Set(CtxAccessToken, raw)
			return next(c)
		}
	}
}

// VerifySignature checks the bearer token as an access token.
func VerifySignature(v Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := v.Verify(AccessToken(c), utils.UseAccess)
			if err != nil {
				if errors.Is(err, utils.ErrTokenExpired) {
					return reject(c, "expired", "invalid token")
				}
				return reject(c, "invalid", "invalid token")
			}
			c.Set(CtxClaims, claims)
			return next(c)
		}
	}
}

// RejectRevoked refuses blacklisted tokens. When the blacklist cannot be
// consulted the request is refused too.
func RejectRevoked(rc RevocationChecker, timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			revoked, err := rc.IsBlacklisted(ctx, AccessToken(c))
			if err != nil {
				c.Logger().Errorf("revocation check failed: %v", err)
				metrics.GuardRejections.WithLabelValues("unavailable").Inc()
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "authentication unavailable"})
			}
			if revoked {
				return reject(c, "revoked", "token revoked")
			}
			return next(c)
		}
	}
}

// InjectClaims exposes the verified claims to handlers as user_id (uint64),
// role and permissions.
func InjectClaims() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := ClaimsFrom(c)
			if claims == nil {
				return reject(c, "invalid", "invalid token")
			}
			uid, err := claims.UserID()
			if err != nil {
				return reject(c, "invalid", "invalid token")
			}
			c.Set(CtxUserID, uid)
			c.Set(CtxRole, claims.Role)
			c.Set(CtxPermissions, claims.Permissions)
			return next(c)
		}
	}
}

func reject(c echo.Context, reason, msg string) error {
	metrics.GuardRejections.WithLabelValues(reason).Inc()
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": msg})
}
