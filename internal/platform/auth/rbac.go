package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles carried in the token's "roles" claim.
const (
	RoleAdmin     = "admin"
	RolePhysician = "physician"
	RoleNurse     = "nurse"
	RoleCounselor = "counselor"
	RoleService   = "service"
)

// HasAnyRole reports whether the caller holds one of roles. Admin holds
// every role. Comparison ignores case so identity providers that upper-case
// role names still work.
func HasAnyRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if strings.EqualFold(has, RoleAdmin) {
			return true
		}
		for _, want := range roles {
			if strings.EqualFold(has, want) {
				return true
			}
		}
	}
	return false
}

// RequireRole rejects callers holding none of roles with 403. The response
// does not list the roles that would have been accepted.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !HasAnyRole(c.Request().Context(), roles...) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			return next(c)
		}
	}
}
