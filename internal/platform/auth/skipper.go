package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths reachable without a bearer token.
var publicPaths = map[string]bool{
	"/health":           true,
	"/health/db":        true,
	"/api/users/signup": true,
	"/api/users/login":  true,
}

// AuthSkipper returns true for requests that bypass authentication: health
// checks, signup/login and static patient images.
func AuthSkipper(c echo.Context) bool {
	if c.Request().Method == "OPTIONS" {
		return true
	}
	if IsPublicPath(c.Path()) {
		return true
	}
	return strings.HasPrefix(c.Request().URL.Path, "/uploads/")
}

// IsPublicPath reports whether path is a public endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
