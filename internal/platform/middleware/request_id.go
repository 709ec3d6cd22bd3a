package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/crisis/internal/platform/hipaa"
)

const (
	RequestIDHeader = "X-Request-ID"

	// requestIDKey is the echo context key other middleware read.
	requestIDKey = "request_id"

	maxRequestIDLength = 128
)

// RequestID propagates the caller's X-Request-ID, or generates one, into the
// echo context, the response header and the request context so that crisis
// alerts can be correlated with the access log.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid := req.Header.Get(RequestIDHeader)
			if !validRequestID(rid) {
				rid = uuid.New().String()
			}

			c.Set(requestIDKey, rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			c.SetRequest(req.WithContext(hipaa.WithRequestID(req.Context(), rid)))
			return next(c)
		}
	}
}

// validRequestID accepts short printable ASCII ids so a client cannot
// inject control characters into log lines.
func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

func requestID(c echo.Context) string {
	rid, _ := c.Get(requestIDKey).(string)
	return rid
}
