package forward

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	repo    Repository
	gateway *Gateway
}

func NewHandler(repo Repository, gateway *Gateway) *Handler {
	return &Handler{repo: repo, gateway: gateway}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/claims/:id/forwards", h.ListClaimForwards)
	api.GET("/forwards/:id", h.GetForward)
	api.POST("/forwards/sweep", h.TriggerSweep)
}

func (h *Handler) ListClaimForwards(c echo.Context) error {
	claimID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.repo.ListByClaim(c.Request().Context(), claimID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetForward(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	fwd, err := h.repo.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "forward not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, fwd)
}

// TriggerSweep runs the recovery sweep on demand. Useful operationally when
// a payer outage has left a backlog and waiting for the next tick is not
// acceptable.
func (h *Handler) TriggerSweep(c echo.Context) error {
	n, err := h.gateway.ProcessPendingForwards(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"scheduled": n})
}
