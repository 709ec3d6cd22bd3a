package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/crisis/internal/platform/auth"
)

// Logger emits one access line per request. Bodies never appear in it:
// analyze requests carry patient-authored text.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			evt := logger.WithLevel(accessLevel(req.URL.Path, res.Status))
			if err != nil {
				evt = evt.Err(err)
			}
			evt.Str("request_id", requestID(c)).
				Str("method", req.Method).
				Str("route", routeLabel(c)).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Int64("bytes_out", res.Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Str("user_id", auth.UserIDFromContext(req.Context())).
				Msg("request")
			return nil
		}
	}
}

func accessLevel(path string, status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	case auth.IsPublicPath(path):
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
