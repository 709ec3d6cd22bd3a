package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/crisis/keywords", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, roles)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRequireRole_Allowed(t *testing.T) {
	c, rec := contextWithRoles("counselor")
	err := RequireRole("physician", "counselor")(okHandler)(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c, _ := contextWithRoles("billing")
	err := RequireRole("physician", "counselor")(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	c, _ := contextWithRoles()
	err := RequireRole("nurse")(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c, rec := contextWithRoles("admin")
	if err := RequireRole("service")(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHasAnyRole_CaseInsensitive(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserRolesKey, []string{"NURSE"})
	if !HasAnyRole(ctx, RoleNurse) {
		t.Error("expected role comparison to ignore case")
	}
	if HasAnyRole(ctx, RolePhysician) {
		t.Error("expected nurse not to satisfy physician")
	}
	if HasAnyRole(context.Background(), RoleNurse) {
		t.Error("expected an anonymous context to hold no roles")
	}
}

func TestRequireRole_DoesNotLeakRoles(t *testing.T) {
	c, _ := contextWithRoles("billing")
	err := RequireRole(RoleCounselor)(okHandler)(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if msg, _ := he.Message.(string); msg != "insufficient role" {
		t.Errorf("unexpected message %v", he.Message)
	}
}
