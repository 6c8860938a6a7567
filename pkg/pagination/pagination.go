// Package pagination pages the lab views and the transition journal with
// limit/offset query parameters.
package pagination

import (
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

// FromContext reads the limit and offset query parameters.
func FromContext(c echo.Context) Params {
	return Parse(c.QueryParam("limit"), c.QueryParam("offset"))
}

// Parse clamps limit to [1, MaxLimit], defaulting to DefaultLimit, and
// offset to non-negative values.
func Parse(limitStr, offsetStr string) Params {
	p := Params{Limit: DefaultLimit}
	if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
		p.Limit = min(n, MaxLimit)
	}
	if n, err := strconv.Atoi(offsetStr); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

// HasNext reports whether rows remain after this page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// Response is the paged envelope. NextOffset is set when HasMore is true.
type Response struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
	HasMore    bool        `json:"has_more"`
	NextOffset *int        `json:"next_offset,omitempty"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	r := &Response{Data: data, Total: total, Limit: p.Limit, Offset: p.Offset}
	if p.HasNext(total) {
		next := p.Offset + p.Limit
		r.HasMore, r.NextOffset = true, &next
	}
	return r
}

// Window returns the page of items selected by p. The lab views are merged
// in memory from backend lists, so they are paged after the merge.
func Window[T any](items []T, p Params) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	return items[p.Offset:min(p.Offset+p.Limit, len(items))]
}
