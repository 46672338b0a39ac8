package humastar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"checked":true,"opacity":"0.35","label":"NDVI","n":0.5}`))
	require.NoError(t, err)

	assert.True(t, s.Bool("checked"))
	assert.False(t, s.Bool("missing"))
	assert.False(t, s.Bool("label"))

	v, ok := s.Float("opacity")
	require.True(t, ok)
	assert.InDelta(t, 0.35, v, 1e-9)
	v, ok = s.Float("n")
	require.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9)
	_, ok = s.Float("label")
	assert.False(t, ok)
	_, ok = s.Float("missing")
	assert.False(t, ok)

	empty, err := ParseSignals(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = (&SignalsInput{RawBody: []byte("{")}).MustParse()
	assert.Error(t, err)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	p := Paginate(items, 0, 2)
	assert.Equal(t, []int{1, 2}, p.Data)
	assert.Equal(t, 5, p.Total)

	p = Paginate(items, 4, 2)
	assert.Equal(t, []int{5}, p.Data)

	p = Paginate(items, 9, 2)
	assert.Empty(t, p.Data)
	assert.NotNil(t, p.Data)

	p = Paginate(items, -1, 0)
	assert.Equal(t, 0, p.Offset)
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Len(t, p.Data, 5)
}

func TestPaginationLinks(t *testing.T) {
	p := Paginate(make([]string, 5), 2, 2)
	assert.Equal(t, []string{
		`</api/v1/grid/cells?offset=0&limit=2>; rel="first"`,
		`</api/v1/grid/cells?offset=0&limit=2>; rel="prev"`,
		`</api/v1/grid/cells?offset=4&limit=2>; rel="next"`,
		`</api/v1/grid/cells?offset=4&limit=2>; rel="last"`,
	}, p.PaginationLinks("/api/v1/grid/cells"))

	empty := Paginate([]string{}, 0, 10)
	assert.Equal(t, []string{
		`</x?offset=0&limit=10>; rel="first"`,
		`</x?offset=0&limit=10>; rel="last"`,
	}, empty.PaginationLinks("/x"))
}

func TestActionLinkHeader(t *testing.T) {
	def := ActionDef{Rel: "toggle-on", Pattern: "/api/v1/sessions/%s/overlays/%s", Method: "POST", Title: "Show NDVI"}
	a := def.For("abc", "ndvi")
	assert.Equal(t, `</api/v1/sessions/abc/overlays/ndvi>; rel="toggle-on"; method="POST"; title="Show NDVI"`, a.LinkHeader())

	assert.Equal(t, `</x>; rel="self"`, Action{Rel: "self", Href: "/x"}.LinkHeader())
}
