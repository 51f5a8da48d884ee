package payers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/payer-connections", h.CreateConnection)
	api.GET("/payer-connections", h.ListConnections)
	api.GET("/payer-connections/:id", h.GetConnection)
	api.PUT("/payer-connections/:id", h.UpdateConnection)
	api.DELETE("/payer-connections/:id", h.DeactivateConnection)
}

func (h *Handler) CreateConnection(c echo.Context) error {
	var conn Connection
	if err := c.Bind(&conn); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateConnection(c.Request().Context(), &conn); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, conn)
}

func (h *Handler) GetConnection(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	conn, err := h.svc.GetConnection(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "payer connection not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, conn)
}

func (h *Handler) ListConnections(c echo.Context) error {
	items, err := h.svc.ListConnections(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateConnection(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var conn Connection
	if err := c.Bind(&conn); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conn.ID = id
	if err := h.svc.UpdateConnection(c.Request().Context(), &conn); err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "payer connection not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, conn)
}

func (h *Handler) DeactivateConnection(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeactivateConnection(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "payer connection not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
