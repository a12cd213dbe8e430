package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthSkipper_PublicPaths(t *testing.T) {
	publicPaths := []string{
		"/health",
		"/health/db",
		"/api/users/signup",
		"/api/users/login",
	}

	for _, path := range publicPaths {
		t.Run(path, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, path, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetPath(path)

			if !AuthSkipper(c) {
				t.Errorf("expected AuthSkipper to return true for %s", path)
			}
		})
	}
}

func TestAuthSkipper_ProtectedPaths(t *testing.T) {
	protectedPaths := []string{
		"/api/patients",
		"/api/users",
		"/api/users/logout",
		"/api/medications",
		"/api/upload",
		"/",
		"/health/extra",
	}

	for _, path := range protectedPaths {
		t.Run(path, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetPath(path)

			if AuthSkipper(c) {
				t.Errorf("expected AuthSkipper to return false for %s", path)
			}
		})
	}
}

func TestAuthSkipper_StaticUploads(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/uploads/image-1700000000000.png", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/uploads/*")

	if !AuthSkipper(c) {
		t.Error("expected static uploads to bypass auth")
	}
}

func TestAuthSkipper_Preflight(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodOptions, "/api/patients", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/patients")

	if !AuthSkipper(c) {
		t.Error("expected OPTIONS to bypass auth")
	}
}
