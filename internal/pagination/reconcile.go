package pagination

// Block is a pagination object as backends variously spell it.
type Block struct {
	Page        *int  `json:"page"`
	CurrentPage *int  `json:"currentPage"`
	Limit       *int  `json:"limit"`
	PerPage     *int  `json:"perPage"`
	Total       *int  `json:"total"`
	TotalItems  *int  `json:"totalItems"`
	TotalPages  *int  `json:"totalPages"`
	Pages       *int  `json:"pages"`
	HasNext     *bool `json:"hasNext"`
	HasPrev     *bool `json:"hasPrev"`
}

// Raw is the loosely shaped list response: an optional nested pagination
// block plus the same fields at the top level.
type Raw struct {
	Block
	Pagination *Block `json:"pagination"`
}

// Reconcile resolves a Raw response into an Info. Nested fields win over
// top-level ones, which win over what was requested. Without an explicit
// hasNext it is page < totalPages when totalPages can be derived, otherwise
// whether a full page came back.
func Reconcile(raw Raw, requested Params, received int) Info {
	nested := Block{}
	if raw.Pagination != nil {
		nested = *raw.Pagination
	}

	page := firstInt(nested.Page, nested.CurrentPage, raw.Page, raw.CurrentPage, positive(requested.Page), intPtr(1))
	limit := firstInt(nested.Limit, nested.PerPage, raw.Limit, raw.PerPage, positive(requested.Limit), intPtr(0))

	total, totalKnown := first(nested.Total, nested.TotalItems, raw.Total, raw.TotalItems)
	totalPages, pagesKnown := first(nested.TotalPages, nested.Pages, raw.TotalPages, raw.Pages)
	if !pagesKnown && totalKnown && limit > 0 {
		totalPages = TotalPages(total, limit)
		pagesKnown = true
	}
	if !totalKnown {
		total = (page-1)*limit + received
	}

	info := Info{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasPrev:    page > 1,
	}

	switch {
	case nested.HasNext != nil:
		info.HasNext = *nested.HasNext
	case raw.HasNext != nil:
		info.HasNext = *raw.HasNext
	case pagesKnown:
		info.HasNext = page < totalPages
	default:
		info.HasNext = limit > 0 && received >= limit
	}
	if nested.HasPrev != nil {
		info.HasPrev = *nested.HasPrev
	} else if raw.HasPrev != nil {
		info.HasPrev = *raw.HasPrev
	}
	return info
}

func first(values ...*int) (int, bool) {
	for _, v := range values {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

func firstInt(values ...*int) int {
	v, _ := first(values...)
	return v
}

func positive(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func intPtr(v int) *int {
	return &v
}
