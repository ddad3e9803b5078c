package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// Routes without a bearer credential. Patient form routes are authorized by
// the form token in the path and the workflow callback by its signature.
var (
	openRoutes = []string{"/health", "/health/db", "/api/v1/processing/callback"}
	openPrefix = []string{"/api/v1/form/"}
)

// AuthSkipper is the Skipper for JWTMiddleware. It matches on the route
// pattern, so parameterised form routes are recognised before binding.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	for _, r := range openRoutes {
		if path == r {
			return true
		}
	}
	for _, p := range openPrefix {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
