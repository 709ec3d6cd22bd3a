// Package pagination pages in-memory lists for JSON list endpoints.
package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Offset int
}

// Parse reads limit and offset query parameters. Absent values take the
// defaults and limit is capped at MaxLimit; malformed or negative values are
// an error so clients notice typos instead of silently getting page one.
func Parse(c echo.Context) (Params, error) {
	p := Params{Limit: DefaultLimit}

	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Params{}, fmt.Errorf("limit must be a positive integer, got %q", raw)
		}
		p.Limit = min(n, MaxLimit)
	}
	if raw := c.QueryParam("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Params{}, fmt.Errorf("offset must be a non-negative integer, got %q", raw)
		}
		p.Offset = n
	}
	return p, nil
}

// Page is one window of a list plus enough metadata to fetch the next.
type Page[T any] struct {
	Data       []T  `json:"data"`
	Total      int  `json:"total"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
	NextOffset *int `json:"next_offset,omitempty"`
}

// Slice copies the window of items described by p. Data is never nil.
func Slice[T any](items []T, p Params) Page[T] {
	total := len(items)
	start := min(p.Offset, total)
	end := min(start+p.Limit, total)

	page := Page[T]{
		Data:   append(make([]T, 0, end-start), items[start:end]...),
		Total:  total,
		Limit:  p.Limit,
		Offset: p.Offset,
	}
	if end < total {
		next := end
		page.HasMore = true
		page.NextOffset = &next
	}
	return page
}
