package identity

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

// RegisterRoutes mounts /users routes. credentials wraps signup and login,
// typically with a stricter rate limit.
func (h *Handler) RegisterRoutes(api *echo.Group, credentials ...echo.MiddlewareFunc) {
	users := api.Group("/users")
	users.POST("/signup", h.Signup, credentials...)
	users.POST("/login", h.Login, credentials...)
	users.POST("/logout", h.Logout)
	users.GET("/me", h.Me)

	admin := users.Group("", auth.RequireCapability(auth.CapManageUsers))
	admin.GET("", h.ListUsers)
	admin.GET("/doctors", h.ListDoctors)
	admin.PUT("/:id/convert-to-admin", h.PromoteToAdmin)
	admin.DELETE("/:id", h.DeleteUser)
}

func (h *Handler) Signup(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadBody(err)
	}
	user, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"message": "User created successfully",
		"user":    user,
	})
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apierr.BadBody(err)
	}
	res, err := h.svc.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message":   "Login successful",
		"token":     res.Token,
		"expiresAt": res.ExpiresAt,
		"user":      res.User,
	})
}

func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.Logout(ctx, auth.SessionFromContext(ctx)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	user, err := h.svc.Me(ctx, auth.SessionFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

func (h *Handler) ListUsers(c echo.Context) error {
	ctx := c.Request().Context()
	var (
		users []SafeUser
		err   error
	)
	if role := c.QueryParam("role"); role != "" {
		users, err = h.svc.ListByRole(ctx, role)
	} else {
		users, err = h.svc.ListAll(ctx)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, users)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	include := c.QueryParam("include") == "patients"
	doctors, err := h.svc.ListDoctors(c.Request().Context(), include)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doctors)
}

func (h *Handler) PromoteToAdmin(c echo.Context) error {
	user, err := h.svc.PromoteToAdmin(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "User promoted to admin",
		"user":    user,
	})
}

func (h *Handler) DeleteUser(c echo.Context) error {
	ctx := c.Request().Context()
	res, err := h.svc.DeleteUser(ctx, c.Param("id"), auth.SessionFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message":          "User deleted successfully",
		"user":             res.User,
		"patientsRemoved":  res.PatientsRemoved,
		"patientsUnlinked": res.PatientsUnlinked,
	})
}
