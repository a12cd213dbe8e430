package patient

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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients")
	g.POST("", h.Create, auth.RequireCapability(auth.CapCreatePatient))
	g.GET("", h.ListAll, auth.RequireCapability(auth.CapListAllPatients))
	g.GET("/mine", h.ListMine, auth.RequireCapability(auth.CapListOwnPatients))
	g.GET("/assigned", h.ListAssigned, auth.RequireCapability(auth.CapListAssignedPatients))
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/medications", h.Medications)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadBody(err)
	}
	ctx := c.Request().Context()
	p, err := h.svc.Create(ctx, auth.SessionFromContext(ctx), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"message": "Patient created",
		"patient": p,
	})
}

func (h *Handler) ListAll(c echo.Context) error {
	ctx := c.Request().Context()
	patients, err := h.svc.ListAll(ctx, auth.SessionFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) ListMine(c echo.Context) error {
	ctx := c.Request().Context()
	patients, err := h.svc.ListByDoctor(ctx, auth.SessionFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) ListAssigned(c echo.Context) error {
	ctx := c.Request().Context()
	patients, err := h.svc.ListByCaregiver(ctx, auth.SessionFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, patients)
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := h.svc.Get(ctx, auth.SessionFromContext(ctx), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadBody(err)
	}
	ctx := c.Request().Context()
	p, err := h.svc.Update(ctx, auth.SessionFromContext(ctx), c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Patient updated",
		"patient": p,
	})
}

func (h *Handler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.Delete(ctx, auth.SessionFromContext(ctx), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Patient removed"})
}

func (h *Handler) Medications(c echo.Context) error {
	ctx := c.Request().Context()
	meds, err := h.svc.Medications(ctx, auth.SessionFromContext(ctx), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, meds)
}
