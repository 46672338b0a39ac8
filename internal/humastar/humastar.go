// Package humastar bridges Huma (REST/OpenAPI) with Datastar (SSE/hypermedia).
//
// It provides:
//   - SSE: Huma streaming → Datastar SSE protocol via [SSE] and [NewSSE]
//   - Signals: Datastar signal parsing via [Signals] and [SignalsInput]
//   - Handler: Embeddable base for SSE handlers via [Handler]
//
// Usage:
//
//	type MyHandler struct {
//	    humastar.Handler
//	    sessions *service.SessionService
//	}
//
//	func (h *MyHandler) Legend(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
//	    return h.Stream(func(sse humastar.SSE) {
//	        sse.Replace(h.Fragment("legend", view), "#legend")
//	    }), nil
//	}
package humastar

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"
	"go.uber.org/zap"

	"github.com/joeblew999/uhi-map/internal/templates"
)

// ---------------------------------------------------------------------------
// Handler: embeddable base for Datastar SSE handlers
// ---------------------------------------------------------------------------

// Handler is an embeddable base for Huma handlers that produce Datastar SSE
// responses. It holds a [templates.Renderer] and provides convenience methods
// to create streams and render fragments.
type Handler struct {
	Renderer *templates.Renderer
	Logger   *zap.Logger
}

// Stream returns a Huma StreamResponse that calls fn with a ready SSE helper.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

// Fragment renders a named fragment template. Render errors are logged and
// yield an empty fragment so one bad template does not end the stream.
func (h *Handler) Fragment(name string, data any) string {
	html, err := h.Renderer.Render(name, data)
	if err != nil {
		h.logger().Error("render fragment", zap.String("template", name), zap.Error(err))
		return ""
	}
	return html
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.L()
}

// ---------------------------------------------------------------------------
// SSE: Huma to Datastar bridge
// ---------------------------------------------------------------------------

// SSE wraps a Datastar SSE generator with the few patch kinds the viewer
// sends: fragment swaps, signal patches and DOM events.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE creates a Datastar SSE helper from a Huma streaming context.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Replace swaps the element at selector for html. Fragments carry their own
// id, so the selector and the fragment root must agree.
func (s SSE) Replace(html, selector string) {
	if html == "" {
		return
	}
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeOuter(),
		datastar.WithViewTransitions(),
	)
}

// Error sets the page's error signal, which the notification is bound to.
func (s SSE) Error(msg string) {
	s.MarshalAndPatchSignals(map[string]any{"error": msg})
}

// Signals sends arbitrary signals to the UI.
func (s SSE) Signals(signals map[string]any) {
	s.MarshalAndPatchSignals(signals)
}

// Event dispatches a DOM custom event on the page.
func (s SSE) Event(name string, detail any) {
	s.DispatchCustomEvent(name, detail)
}

// ---------------------------------------------------------------------------
// Signals: Datastar signal parsing
// ---------------------------------------------------------------------------

// Signals provides typed access to Datastar signal values.
// Datastar sends all signals as a flat JSON object in the request body.
type Signals map[string]any

// ParseSignals parses Datastar signals from a raw request body. An empty
// body yields no signals.
func ParseSignals(body []byte) (Signals, error) {
	if len(body) == 0 {
		return Signals{}, nil
	}
	var signals Signals
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// Float returns a float64 signal value. Sliders bound with data-bind send
// strings, so numeric strings are accepted too.
func (s Signals) Float(key string) (float64, bool) {
	v, ok := s[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Bool reports a boolean signal. Missing and non-boolean values read as
// false, the unchecked state of a checkbox.
func (s Signals) Bool(key string) bool {
	b, _ := s[key].(bool)
	return b
}

// ---------------------------------------------------------------------------
// Input types
// ---------------------------------------------------------------------------

// SignalsInput is an input struct for handlers that receive Datastar signals.
type SignalsInput struct {
	RawBody []byte
}

// MustParse parses signals or returns a Huma 400 error.
func (i *SignalsInput) MustParse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	return signals, nil
}
