package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/credential-service/internal/config"
	"github.com/iliyamo/credential-service/internal/middleware"
	"github.com/iliyamo/credential-service/internal/model"
)

// Sessions is the part of service.SessionStore used for device management.
type Sessions interface {
	ListActive(ctx context.Context, userID uint64) ([]model.SessionSummary, error)
	GetOwned(ctx context.Context, userID uint64, id string) (model.Session, error)
	DestroyOwned(ctx context.Context, userID uint64, id string) error
}

// SessionHandler lets a user see and end their own sessions.
type SessionHandler struct {
	Cfg      config.Config
	Sessions Sessions
	Log      *zap.Logger
}

func NewSessionHandler(cfg config.Config, s Sessions, log *zap.Logger) *SessionHandler {
	return &SessionHandler{Cfg: cfg, Sessions: s, Log: log.Named("sessions")}
}

// List returns the caller's unexpired sessions, most recently active first.
func (h *SessionHandler) List(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := requestCtx(c, h.Cfg)
	defer cancel()

	list, err := h.Sessions.ListActive(ctx, uid)
	if err != nil {
		return fail(c, h.Log, "list_sessions", err)
	}
	if list == nil {
		list = []model.SessionSummary{}
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": list, "current": sessionID(c, h.Cfg)})
}

// Current describes the session named by the session header.
func (h *SessionHandler) Current(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := sessionID(c, h.Cfg)
	if id == "" {
		return badRequest(c, "session header required")
	}

	ctx, cancel := requestCtx(c, h.Cfg)
	defer cancel()

	s, err := h.Sessions.GetOwned(ctx, uid, id)
	if err != nil {
		return fail(c, h.Log, "current_session", err)
	}
	return c.JSON(http.StatusOK, s.Summary())
}

// Revoke ends one session of the caller. Sessions of other users look
// exactly like missing ones.
func (h *SessionHandler) Revoke(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return badRequest(c, "session id required")
	}

	ctx, cancel := requestCtx(c, h.Cfg)
	defer cancel()

	if err := h.Sessions.DestroyOwned(ctx, uid, id); err != nil {
		return fail(c, h.Log, "revoke_session", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "session revoked"})
}
