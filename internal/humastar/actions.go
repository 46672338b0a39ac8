package humastar

import "fmt"

// Action is a state-dependent hypermedia action link.
// Response bodies implement the Actor interface to emit conditional
// RFC 8288 Link headers with method and title extension parameters.
//
// Example Link header output:
//
//	</api/v1/sessions/42/overlays/ndvi>; rel="toggle-on"; method="POST"; title="Show NDVI"
type Action struct {
	Rel    string // custom rel, e.g. "toggle-on"
	Href   string // target URL
	Method string // HTTP method: POST, PUT, DELETE, etc.
	Title  string // optional human-readable label
}

// Actor is implemented by response bodies that provide state-dependent actions.
type Actor interface {
	Actions() []Action
}

// LinkHeader formats the action as an RFC 8288 Link header value.
func (a Action) LinkHeader() string {
	h := fmt.Sprintf(`<%s>; rel="%s"`, a.Href, a.Rel)
	if a.Method != "" {
		h += fmt.Sprintf(`; method="%s"`, a.Method)
	}
	if a.Title != "" {
		h += fmt.Sprintf(`; title="%s"`, a.Title)
	}
	return h
}

// ActionDef is a reusable action template. Pattern takes the resource
// path arguments in order, e.g. "/api/v1/sessions/%s/overlays/%s".
type ActionDef struct {
	Rel     string
	Pattern string
	Method  string
	Title   string
}

// For fills in the pattern.
func (d ActionDef) For(args ...any) Action {
	return Action{
		Rel:    d.Rel,
		Href:   fmt.Sprintf(d.Pattern, args...),
		Method: d.Method,
		Title:  d.Title,
	}
}
