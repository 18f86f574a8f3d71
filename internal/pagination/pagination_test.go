package pagination

import (
	"encoding/json"
	"math/rand"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRequest(t *testing.T) {
	p := FromRequest(httptest.NewRequest("GET", "/products?page=3&limit=20", nil), 10)
	assert.Equal(t, Params{Page: 3, Limit: 20}, p)
	assert.Equal(t, 40, p.Offset())

	p = FromRequest(httptest.NewRequest("GET", "/products?page=-1&limit=abc", nil), 10)
	assert.Equal(t, Params{Page: 1, Limit: 10}, p)

	p = FromRequest(httptest.NewRequest("GET", "/products?limit=1000", nil), 10)
	assert.Equal(t, MaxLimit, p.Limit)
}

func TestNew(t *testing.T) {
	info := New(Params{Page: 2, Limit: 10}, 25)
	assert.Equal(t, Info{Page: 2, Limit: 10, Total: 25, TotalPages: 3, HasNext: true, HasPrev: true}, info)

	info = New(Params{Page: 1, Limit: 10}, 0)
	assert.Equal(t, 0, info.TotalPages)
	assert.False(t, info.HasNext)
}

func decode(t *testing.T, body string) Raw {
	t.Helper()
	var raw Raw
	require.NoError(t, json.Unmarshal([]byte(body), &raw))
	return raw
}

func TestReconcileShapes(t *testing.T) {
	requested := Params{Page: 1, Limit: 10}

	// Nested block with explicit hasNext.
	info := Reconcile(decode(t, `{"pagination":{"page":2,"limit":10,"total":30,"totalPages":3,"hasNext":false}}`), requested, 10)
	assert.Equal(t, 2, info.Page)
	assert.False(t, info.HasNext)

	// Top-level page only, total derivable.
	info = Reconcile(decode(t, `{"page":2,"total":30}`), requested, 10)
	assert.Equal(t, 2, info.Page)
	assert.Equal(t, 3, info.TotalPages)
	assert.True(t, info.HasNext)

	// Nested page wins over top-level page.
	info = Reconcile(decode(t, `{"page":5,"pagination":{"page":1,"total":30}}`), requested, 10)
	assert.Equal(t, 1, info.Page)
	assert.True(t, info.HasNext)

	// Alias spellings.
	info = Reconcile(decode(t, `{"pagination":{"currentPage":3,"perPage":5,"totalItems":15}}`), requested, 5)
	assert.Equal(t, 3, info.Page)
	assert.Equal(t, 5, info.Limit)
	assert.Equal(t, 3, info.TotalPages)
	assert.False(t, info.HasNext)

	// Nothing but a bare list: full page heuristic.
	info = Reconcile(Raw{}, Params{Page: 4, Limit: 10}, 10)
	assert.Equal(t, 4, info.Page)
	assert.True(t, info.HasNext)
	assert.Equal(t, 40, info.Total)

	info = Reconcile(Raw{}, Params{Page: 4, Limit: 10}, 7)
	assert.False(t, info.HasNext)
	assert.True(t, info.HasPrev)
}

// Missing hasNext resolves to page < totalPages whenever totalPages is
// derivable, and to the full page heuristic otherwise.
func TestReconcileHasNextProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 1000; i++ {
		limit := 1 + rng.Intn(50)
		total := rng.Intn(500)
		page := 1 + rng.Intn(12)
		received := rng.Intn(limit + 1)

		var raw Raw
		pagesDerivable := true
		switch rng.Intn(4) {
		case 0:
			raw.Pagination = &Block{Page: &page, Limit: &limit, Total: &total}
		case 1:
			raw.Page = &page
			raw.Total = &total
		case 2:
			pages := TotalPages(total, limit)
			raw.Pagination = &Block{Page: &page, TotalPages: &pages}
			total = pages * limit
		default:
			pagesDerivable = false
		}

		info := Reconcile(raw, Params{Page: page, Limit: limit}, received)
		assert.Equal(t, page, info.Page)
		if pagesDerivable {
			assert.Equal(t, page < TotalPages(total, limit), info.HasNext, "case %d: %+v", i, info)
		} else {
			assert.Equal(t, received >= limit, info.HasNext, "case %d: %+v", i, info)
		}
	}
}
