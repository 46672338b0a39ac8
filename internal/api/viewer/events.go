package viewer

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/humastar"
	"github.com/joeblew999/uhi-map/internal/service"
)

// KeepAlive is how often an open event stream marks its session as used.
var KeepAlive = 30 * time.Second

// DataReloaded tells the page to refetch the vector layers.
const DataReloaded = "data-reloaded"

// Events streams the session's state to the page: signal patches, the
// legend, opacity row and error fragments, and overlay-changed events for
// the map. Bursts of bus events are coalesced into one update.
func (h *Handler) Events(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	bus := h.sessions.Bus()

	return h.Stream(func(sse humastar.SSE) {
		ch := bus.Subscribe()
		defer bus.Unsubscribe(ch)

		ticker := time.NewTicker(KeepAlive)
		defer ticker.Stop()

		h.sync(sse, sess)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := h.sessions.Get(sess.ID); err != nil {
					sse.Error("Viewer session expired, reload the page")
					return
				}
			case ev, ok := <-ch:
				if !ok {
					return
				}
				changed, reloaded, expired := classifyEvent(ev, sess.ID)
				for more := true; more; {
					select {
					case next, ok := <-ch:
						if !ok {
							return
						}
						c, r, e := classifyEvent(next, sess.ID)
						changed, reloaded, expired = changed || c, reloaded || r, expired || e
					default:
						more = false
					}
				}
				if expired {
					sse.Error("Viewer session expired, reload the page")
					return
				}
				if reloaded {
					sse.Event(DataReloaded, map[string]any{})
				}
				if changed {
					h.sync(sse, sess)
				}
			}
		}
	}), nil
}

func classifyEvent(ev service.Event, session string) (changed, reloaded, expired bool) {
	if ev.Resource == "data" {
		return false, true, false
	}
	if ev.Session != session {
		return false, false, false
	}
	if ev.Resource == "session" && ev.Action == "expired" {
		return false, false, true
	}
	return true, false, false
}

type overlayRow struct {
	Kind    string
	Label   string
	Visible bool
	Opacity float64
	Session string
}

// LayerPlacement is one image the page keeps on the map.
type LayerPlacement struct {
	ID          string        `json:"id"`
	Kind        string        `json:"kind"`
	URL         string        `json:"url"`
	Bounds      [2][2]float64 `json:"bounds"`
	Opacity     float64       `json:"opacity"`
	Interactive bool          `json:"interactive"`
}

// FitPlacement is the viewport fit the page applies when a new layer appears.
type FitPlacement struct {
	Bounds  [2][2]float64 `json:"bounds"`
	Padding [2]int        `json:"padding"`
}

// Placement is the detail of an overlay-changed event.
type Placement struct {
	Mode   string           `json:"mode"`
	Layers []LayerPlacement `json:"layers"`
	Fit    *FitPlacement    `json:"fit,omitempty"`
}

// NewPlacement converts a session snapshot into map instructions.
func NewPlacement(snap service.SessionSnapshot) Placement {
	p := Placement{Mode: snap.Mode, Layers: make([]LayerPlacement, 0, len(snap.Map.Layers))}
	for _, l := range snap.Map.Layers {
		p.Layers = append(p.Layers, LayerPlacement{
			ID:          l.ID,
			Kind:        l.Kind,
			URL:         l.ImageURL,
			Bounds:      l.Bounds.Leaflet(),
			Opacity:     l.Opacity,
			Interactive: l.Interactive,
		})
	}
	if f := snap.Map.Fit; f != nil {
		p.Fit = &FitPlacement{Bounds: f.Bounds.Leaflet(), Padding: f.Padding}
	}
	return p
}

// sync pushes the whole session state. Fragments are replaced by id, so
// the page markup only needs the placeholders.
func (h *Handler) sync(sse humastar.SSE, sess *service.Session) {
	snap := sess.Snapshot()

	signals := map[string]any{
		"mode":  snap.Mode,
		"error": snap.View.Error,
	}
	for _, o := range snap.View.Overlays {
		kind := classify.Kind(o.Kind)
		signals[CheckedSignal(kind)] = o.Checked
		signals[OpacitySignal(kind)] = o.Opacity

		sse.Replace(h.Fragment("overlay-row", overlayRow{
			Kind:    o.Kind,
			Label:   kind.Label(),
			Visible: o.RowVisible,
			Opacity: o.Opacity,
			Session: sess.ID,
		}), "#"+o.Kind+"-opacity-row")
	}
	sse.Signals(signals)

	sse.Replace(h.Fragment("legend", snap.View.Legend), "#legend")
	sse.Replace(h.Fragment("error", snap.View.Error), "#viewer-error")
	sse.Event(OverlayChanged, NewPlacement(snap))
}
