package common

import (
	"net/http"
	"strconv"
)

// Pagination bounds for list endpoints.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Page describes a requested window into a list.
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// Offset returns the index of the first item on the page.
func (p Page) Offset() int { return (p.Page - 1) * p.Limit }

// ParsePage reads page and limit query parameters, clamping limit to
// MaxPageLimit.
func ParsePage(r *http.Request) Page {
	p := Page{Page: 1, Limit: DefaultPageLimit}
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		p.Limit = v
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Window slices n items according to p and returns the [start, end) bounds.
func (p Page) Window(n int) (int, int) {
	start := p.Offset()
	if start > n {
		start = n
	}
	end := start + p.Limit
	if end > n {
		end = n
	}
	return start, end
}
