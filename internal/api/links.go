package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/uhi-map/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/sessions>; rel="sessions"`,
		`</api/v1/grid>; rel="grid"`,
		`</api/v1/city>; rel="city"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/sources>; rel="sources"`,
	},
	"/api/v1/sessions/{id}": {
		`</api/v1/sessions>; rel="collection"`,
	},
	"/api/v1/legend/{mode}": {
		`</api/v1/legend/none>; rel="none"`,
		`</api/v1/legend/ndvi>; rel="ndvi"`,
		`</api/v1/legend/lst>; rel="lst"`,
	},
	"/api/v1/grid": {
		`</api/v1/grid/cells>; rel="cells"`,
		`</api/v1/city>; rel="city"`,
	},
	"/api/v1/grid/cells/{id}": {
		`</api/v1/grid/cells>; rel="collection"`,
	},
	"/api/v1/sources": {
		`</api/v1/grid>; rel="grid"`,
		`</api/v1/city>; rel="city"`,
	},
	"/api/v1/tables": {
		`</api/v1/query>; rel="query"`,
		`</api/v1/stats/classes>; rel="summary"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link
// headers: the static links above, a self link on item endpoints,
// pagination links for Pager bodies and action links for Actor bodies.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if p, ok := v.(humastar.Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(humastar.Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}

		return v, nil
	}
}
