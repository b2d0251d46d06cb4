// Package router registers the HTTP routes of the credential service.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/credential-service/internal/handler"
	"github.com/iliyamo/credential-service/internal/middleware"
	"github.com/iliyamo/credential-service/internal/model"
)

// RegisterRoutes registers routes that do not require authentication:
// the health check and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the credential endpoints. Operations that do not
// need an existing login live under /v1/auth behind the rate limiter; the
// rest live under /v1 behind guard.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, s *handler.SessionHandler, guard, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth", limit)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/forgot-password", a.ForgotPassword)
	g.POST("/reset-password", a.ResetPassword)
	g.POST("/verify-email", a.VerifyEmail)
	g.POST("/resend-verification", a.ResendVerification)

	auth := e.Group("/v1", guard)
	auth.GET("/me", a.Me)
	auth.POST("/auth/logout", a.Logout)
	auth.POST("/auth/logout-all", a.LogoutAll)

	// Device management.
	auth.GET("/auth/sessions", s.List)
	auth.GET("/auth/sessions/current", s.Current)
	auth.DELETE("/auth/sessions/:id", s.Revoke)
}

// RegisterAdmin registers the maintenance endpoints. They require a valid
// access token and the ADMIN role; triggering sweeps also needs the
// maintenance permission.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, guard echo.MiddlewareFunc) {
	g := e.Group("/v1/admin", guard, middleware.RequireRole(model.RoleAdmin))
	g.POST("/cleanup", h.RunCleanup, middleware.RequirePermission("maintenance:run"))
	g.GET("/cleanup/stats", h.CleanupStats)
}
