package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// IsPublicPath reports whether path is an infrastructure endpoint served
// without credentials. Trailing slashes are ignored.
func IsPublicPath(path string) bool {
	switch strings.TrimSuffix(path, "/") {
	case "/health", "/health/db", "/metrics":
		return true
	}
	return false
}

func skipAuth(c echo.Context) bool {
	return IsPublicPath(c.Path()) || IsPublicPath(c.Request().URL.Path)
}
