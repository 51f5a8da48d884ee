package tracking

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clearway/clearway/internal/domain/claims"
	"github.com/clearway/clearway/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the tracking endpoints. The static paths must be
// registered on the same group as /claims/:id; echo prefers static segments
// so /claims/needs-attention does not collide with the id route.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/claims/:id/status", h.GetClaimStatus)
	api.GET("/claims/needs-attention", h.GetClaimsNeedingAttention)
	api.GET("/claims/statistics", h.GetClaimStatistics)
}

func (h *Handler) GetClaimStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	view, err := h.svc.GetClaimStatus(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, claims.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "claim not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) GetClaimsNeedingAttention(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.GetClaimsNeedingAttention(c.Request().Context(), pg)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetClaimStatistics(c echo.Context) error {
	stats, err := h.svc.GetClaimStatistics(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
