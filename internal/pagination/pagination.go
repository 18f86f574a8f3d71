package pagination

import (
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

type Params struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// FromRequest reads page and limit query parameters, clamping them to sane
// bounds.
func FromRequest(r *http.Request, defaultLimit int) Params {
	p := Params{Page: 1, Limit: defaultLimit}
	if raw := r.URL.Query().Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			p.Page = parsed
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			p.Limit = parsed
		}
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

type Info struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// New builds the pagination block the server returns alongside a page.
func New(p Params, total int) Info {
	pages := TotalPages(total, p.Limit)
	return Info{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    p.Page < pages,
		HasPrev:    p.Page > 1,
	}
}

func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
