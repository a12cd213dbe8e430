package medication

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/platform/apierr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts POST /medications and the /medications/records
// routes. GET /medications belongs to the catalog.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/medications", h.Create, auth.RequireCapability(auth.CapPrescribe))

	g := api.Group("/medications/records")
	g.GET("", h.List, auth.RequireCapability(auth.CapReadPrescriptions))
	g.GET("/:id", h.Get, auth.RequireCapability(auth.CapReadPrescriptions))
	g.PUT("/:id", h.Update, auth.RequireCapability(auth.CapManagePrescriptions))
	g.DELETE("/:id", h.Delete, auth.RequireCapability(auth.CapManagePrescriptions))
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadBody(err)
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Create(ctx, auth.SessionFromContext(ctx), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	recs, err := h.svc.List(ctx, auth.SessionFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, recs)
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	rec, err := h.svc.Get(ctx, auth.SessionFromContext(ctx), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Update(c echo.Context) error {
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadBody(err)
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Update(ctx, auth.SessionFromContext(ctx), c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.Delete(ctx, auth.SessionFromContext(ctx), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Medication removed"})
}
