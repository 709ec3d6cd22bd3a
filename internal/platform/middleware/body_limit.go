package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const defaultBodyLimit = 64 << 10

// ErrBodyTooLarge is what reads from a limited body fail with. Binders wrap
// reader errors, so handlers match it with errors.Is and return it as is.
var ErrBodyTooLarge = echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")

// BodyLimit caps request bodies at limit ("64K", "1M", "1G" or bytes).
// A declared Content-Length over the cap is refused before the handler runs;
// undeclared or understated bodies fail on read.
func BodyLimit(limit string) echo.MiddlewareFunc {
	maxBytes := parseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > maxBytes {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"message": fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", maxBytes),
				})
			}
			req.Body = capped{http.MaxBytesReader(c.Response(), req.Body, maxBytes)}
			return next(c)
		}
	}
}

// capped translates http.MaxBytesError into ErrBodyTooLarge.
type capped struct{ io.ReadCloser }

func (r capped) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return n, ErrBodyTooLarge
	}
	return n, err
}

var sizeSuffixes = []struct {
	suffix string
	shift  uint
}{
	{"G", 30},
	{"M", 20},
	{"K", 10},
}

// parseLimit falls back to 64K for anything it cannot read as a positive size.
func parseLimit(s string) int64 {
	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "B")

	var shift uint
	for _, u := range sizeSuffixes {
		if rest, ok := strings.CutSuffix(s, u.suffix); ok {
			s, shift = rest, u.shift
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return defaultBodyLimit
	}
	return n << shift
}
