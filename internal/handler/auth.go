package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/credential-service/internal/config"
	"github.com/iliyamo/credential-service/internal/middleware"
	"github.com/iliyamo/credential-service/internal/service"
)

// Credentials is the part of service.Issuer the auth endpoints call.
type Credentials interface {
	Login(ctx context.Context, email, password string, dev service.Device) (service.AuthResult, error)
	Register(ctx context.Context, in service.RegisterInput) (service.AuthResult, error)
	Refresh(ctx context.Context, token, sessionID string) (service.AuthResult, error)
	Logout(ctx context.Context, accessToken string, userID uint64, sessionID string) error
	LogoutAll(ctx context.Context, accessToken string, userID uint64) (int64, error)
	ForgotPassword(ctx context.Context, email string) error
	ResendVerification(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	VerifyEmail(ctx context.Context, token string) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg    config.Config
	Issuer Credentials
	Log    *zap.Logger
}

func NewAuthHandler(cfg config.Config, issuer Credentials, log *zap.Logger) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Issuer: issuer, Log: log.Named("auth")}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"` // USER | MANAGER; ADMIN is never self-assigned
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type emailReq struct {
	Email string `json:"email"`
}
type tokenReq struct {
	Token string `json:"token"`
}
type resetReq struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID            uint64 `json:"id"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
}
type authResp struct {
	User      userPart  `json:"user"`
	Access    tokenPart `json:"access"`
	Refresh   tokenPart `json:"refresh"`
	ExpiresIn int64     `json:"expires_in"`
	SessionID string    `json:"session_id,omitempty"`
}

func toAuthResp(r service.AuthResult) authResp {
	return authResp{
		User: userPart{
			ID:            r.User.ID,
			Email:         r.User.Email,
			Role:          r.User.Role,
			EmailVerified: r.User.EmailVerified,
		},
		Access:    tokenPart{Token: r.Tokens.AccessToken, Expires: r.Tokens.AccessExpiresAt},
		Refresh:   tokenPart{Token: r.Tokens.RefreshToken, Expires: r.Tokens.RefreshExpiresAt},
		ExpiresIn: r.Tokens.ExpiresIn,
		SessionID: r.SessionID,
	}
}

const (
	msgForgot = "if the account exists, a reset link has been sent"
	msgResend = "if the account exists and is unverified, a verification link has been sent"
)

// requestCtx bounds the store calls of one request with REQUEST_TIMEOUT.
func requestCtx(c echo.Context, cfg config.Config) (context.Context, context.CancelFunc) {
	d := cfg.RequestTimeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(c.Request().Context(), d)
}

func sessionID(c echo.Context, cfg config.Config) string {
	name := cfg.SessionHeader
	if name == "" {
		name = "X-Session-ID"
	}
	return strings.TrimSpace(c.Request().Header.Get(name))
}

// Register creates an account and returns tokens immediately. No server
// session is opened; the client logs in for one.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}

	ctx, cancel := requestCtx(c, h.Cfg)
	defer cancel()

	res, err := h.Issuer.Register(ctx, service.RegisterInput{Email: req.Email, Password: req.Password, Role: req.Role})
	if err != nil {
		return fail(c, h.Log, "register", err)
	}
	return c.JSON(http.StatusCreated, toAuthResp(res))
}

// Login verifies credentials and opens a session for the calling device.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}

	ctx, cancel := requestCtx(c, h.Cfg)
	defer cancel()

	dev := service.Device{UserAgent: c.Request().UserAgent(), IP: c.RealIP()}
	res, err := h.Issuer.Login(ctx, req.Email, req.Password, dev)
	if err != nil {
		return fail(c, h.Log, "login", err)
	}
	return c.JSON(http.StatusOK, toAuthResp(res))
}

// Refresh rotates the token pair. The session named by the session header,
// if any, is extended.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return badRequest(c, "refresh_token required")
	}

	ctx, cancel := requestCtx(c, h.Cfg)
	defer cancel()

	res, err := h.Issuer.Refresh(ctx, req.RefreshToken, sessionID(c, h.Cfg))
	if err != nil {
		return fail(c, h.Log, "refresh", err)
	}
	return c.JSON(http.StatusOK, toAuthResp(res))
}

// Logout revokes the presented access token and ends the current session.
func (h *AuthHandler) Logout(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := requestCtx(c, h.Cfg)
	defer cancel()

	if err := h.Issuer.Logout(ctx, middleware.AccessToken(c), uid, sessionID(c, h.Cfg)); err != nil {
		return fail(c, h.Log, "logout", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// LogoutAll ends every session of the caller on every device.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := requestCtx(c, h.Cfg)
	defer cancel()

	n, err := h.Issuer.LogoutAll(ctx, middleware.AccessToken(c), uid)
	if err != nil {
		return fail(c, h.Log, "logout_all", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out from all devices", "sessions_revoked": n})
}

// ForgotPassword always answers with the same message so the endpoint
// cannot be used to probe for registered addresses.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestCtx(c, h.Cfg)
	defer cancel()

	if err := h.Issuer.ForgotPassword(ctx, req.Email); err != nil {
		h.Log.Warn("forgot password", zap.Error(err))
	}
	return c.JSON(http.StatusOK, echo.Map{"message": msgForgot})
}

// ResendVerification answers like ForgotPassword.
func (h *AuthHandler) ResendVerification(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestCtx(c, h.Cfg)
	defer cancel()

	if err := h.Issuer.ResendVerification(ctx, req.Email); err != nil {
		h.Log.Warn("resend verification", zap.Error(err))
	}
	return c.JSON(http.StatusOK, echo.Map{"message": msgResend})
}

// ResetPassword consumes a reset token and sets the new password. Every
// session of the account is ended.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Token == "" || req.Password == "" {
		return badRequest(c, "token/password required")
	}

	ctx, cancel := requestCtx(c, h.Cfg)
	defer cancel()

	if err := h.Issuer.ResetPassword(ctx, req.Token, req.Password); err != nil {
		return fail(c, h.Log, "reset_password", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password updated"})
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return badRequest(c, "token required")
	}

	ctx, cancel := requestCtx(c, h.Cfg)
	defer cancel()

	if err := h.Issuer.VerifyEmail(ctx, req.Token); err != nil {
		return fail(c, h.Log, "verify_email", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "email verified"})
}

// Me echoes the identity carried by the access token.
func (h *AuthHandler) Me(c echo.Context) error {
	cl := middleware.ClaimsFrom(c)
	uid, ok := middleware.UserID(c)
	if cl == nil || !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":     uid,
		"email":       cl.Email,
		"role":        cl.Role,
		"permissions": cl.Permissions,
		"session_id":  sessionID(c, h.Cfg),
	})
}
