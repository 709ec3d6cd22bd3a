package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/crisis/internal/platform/auth"
)

// AccessEntry records who reached an API route, when and with what outcome.
type AccessEntry struct {
	RequestID  string
	UserID     string
	UserRoles  []string
	Action     string // analyze, read
	Method     string
	Route      string
	Path       string
	IPAddress  string
	UserAgent  string
	StatusCode int
	Timestamp  time.Time
}

// AccessAudit returns Echo middleware that writes a structured access log
// line for every /api/v1/ request after the handler has run. The line
// names the caller and route only; request and response bodies hold PHI.
func AccessAudit(logger zerolog.Logger) echo.MiddlewareFunc {
	logger = logger.With().Str("type", "hipaa_access").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			ctx := c.Request().Context()
			entry := AccessEntry{
				RequestID:  requestID(c),
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Action:     accessAction(req.Method),
				Method:     req.Method,
				Route:      c.Path(),
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: accessStatus(c, err),
				Timestamp:  time.Now().UTC(),
			}

			evt := logger.Info()
			if entry.StatusCode == http.StatusUnauthorized || entry.StatusCode == http.StatusForbidden {
				evt = logger.Warn()
			}
			evt.
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("route", entry.Route).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Str("user_agent", entry.UserAgent).
				Int("status", entry.StatusCode).
				Time("timestamp", entry.Timestamp).
				Msg("api_access")

			return err
		}
	}
}

func accessAction(method string) string {
	if method == http.MethodPost {
		return "analyze"
	}
	return "read"
}

// accessStatus is the status the client will see. When the handler returned
// an error the response has not been written yet.
func accessStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return http.StatusInternalServerError
}
