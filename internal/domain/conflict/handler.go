package conflict

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the engine over HTTP for staff-facing scheduling tools.
type Handler struct {
	service   *Service
	scheduler *Scheduler
}

// NewHandler creates a Handler. scheduler may be nil when the engine runs
// without the periodic driver (one-shot scans).
func NewHandler(svc *Service, sched *Scheduler) *Handler {
	return &Handler{service: svc, scheduler: sched}
}

// RegisterRoutes registers the conflict API routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/conflicts", h.ListConflicts)
	g.GET("/conflicts/stats", h.Stats)
	g.GET("/conflicts/:id", h.GetConflict)
	g.POST("/conflicts/scan", h.ScanNow)
	g.POST("/conflicts/auto-resolve", h.AutoResolveAll)
	g.POST("/conflicts/:id/resolve", h.Resolve)
}

// ListConflicts handles GET /conflicts.
func (h *Handler) ListConflicts(c echo.Context) error {
	conflicts := h.service.ListConflicts()
	if conflicts == nil {
		conflicts = []Conflict{}
	}
	return c.JSON(http.StatusOK, conflicts)
}

// GetConflict handles GET /conflicts/:id.
func (h *Handler) GetConflict(c echo.Context) error {
	conflict, ok := h.service.GetConflict(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, ErrConflictNotFound.Error())
	}
	return c.JSON(http.StatusOK, conflict)
}

// ScanNow handles POST /conflicts/scan.
func (h *Handler) ScanNow(c echo.Context) error {
	if h.scheduler == nil {
		stats, err := h.service.RunCycle(c.Request().Context())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return c.JSON(http.StatusOK, stats)
	}

	stats, err := h.scheduler.ScanNow(c.Request().Context())
	if err != nil {
		if errors.Is(err, ErrSchedulerStopped) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// resolveRequest is the JSON body for the manual resolve endpoint.
type resolveRequest struct {
	ResolutionID string `json:"resolution_id"`
}

// Resolve handles POST /conflicts/:id/resolve.
func (h *Handler) Resolve(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResolutionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resolution_id is required")
	}

	err := h.service.Resolve(c.Request().Context(), c.Param("id"), req.ResolutionID)
	if err != nil {
		if errors.Is(err, ErrConflictNotFound) || errors.Is(err, ErrResolutionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		if errors.Is(err, ErrConflictBusy) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// autoResolveResponse reports the outcome of an auto-resolve-all run.
type autoResolveResponse struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
}

// AutoResolveAll handles POST /conflicts/auto-resolve.
func (h *Handler) AutoResolveAll(c echo.Context) error {
	applied, failed := h.service.AutoResolveAll(c.Request().Context())
	return c.JSON(http.StatusOK, autoResolveResponse{Applied: applied, Failed: failed})
}

// Stats handles GET /conflicts/stats.
func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Stats())
}
