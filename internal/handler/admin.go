package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/credential-service/internal/service"
)

// Maintenance is the part of service.CleanupScheduler exposed to operators.
type Maintenance interface {
	RunNow(ctx context.Context, names ...string) ([]service.SweepResult, error)
	Stats(ctx context.Context) map[string]service.SweepStats
	Names() []string
}

// AdminHandler serves the operator endpoints for expiry cleanup.
type AdminHandler struct {
	Cleanup Maintenance
	Log     *zap.Logger
}

func NewAdminHandler(m Maintenance, log *zap.Logger) *AdminHandler {
	return &AdminHandler{Cleanup: m, Log: log.Named("admin")}
}

type cleanupReq struct {
	Sweeps []string `json:"sweeps"`
}

// RunCleanup triggers sweeps right away. Sweeps are chosen by the JSON body
// or by a comma separated ?sweep= query; neither means all of them. Each
// sweep bounds itself with the scheduler's per-attempt timeout.
func (h *AdminHandler) RunCleanup(c echo.Context) error {
	var req cleanupReq
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid body")
		}
	}
	names := req.Sweeps
	if q := c.QueryParam("sweep"); q != "" {
		for _, n := range strings.Split(q, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}

	results, err := h.Cleanup.RunNow(c.Request().Context(), names...)
	if err != nil {
		return fail(c, h.Log, "run_cleanup", err)
	}
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	code := http.StatusOK
	if failed > 0 && failed == len(results) {
		code = http.StatusInternalServerError
	}
	return c.JSON(code, echo.Map{"results": results, "failed": failed})
}

// CleanupStats reports row counts and the last run of every sweep.
func (h *AdminHandler) CleanupStats(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"sweeps": h.Cleanup.Names(),
		"stats":  h.Cleanup.Stats(c.Request().Context()),
	})
}
