package service

import (
	"sync"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/legend"
	"github.com/joeblew999/uhi-map/internal/overlay"
)

type controls struct {
	checked    bool
	opacity    float64
	rowVisible bool
}

// ViewState records what the overlay manager pushes to the page: the
// checkbox, slider and opacity row of each kind, the legend mode and the
// last load failure. Every change is published on the bus so connected
// viewers can re-render.
type ViewState struct {
	session string
	bus     *EventBus

	mu       sync.RWMutex
	controls map[classify.Kind]*controls
	legend   legend.Mode
	err      string
}

var (
	_ overlay.ViewBinding = (*ViewState)(nil)
	_ overlay.Notifier    = (*ViewState)(nil)
)

// NewViewState creates the view of one session. bus may be nil.
func NewViewState(session string, bus *EventBus) *ViewState {
	v := &ViewState{
		session:  session,
		bus:      bus,
		controls: make(map[classify.Kind]*controls, len(classify.Kinds)),
	}
	for _, kind := range classify.Kinds {
		v.controls[kind] = &controls{}
	}
	return v
}

func (v *ViewState) get(kind classify.Kind) *controls {
	c, ok := v.controls[kind]
	if !ok {
		c = &controls{}
		v.controls[kind] = c
	}
	return c
}

// SetChecked sets kind's checkbox. Checking a box clears the last error.
func (v *ViewState) SetChecked(kind classify.Kind, checked bool) {
	v.mu.Lock()
	v.get(kind).checked = checked
	if checked {
		v.err = ""
	}
	v.mu.Unlock()
	v.publish("changed", kind)
}

// SetSliderValue sets kind's opacity slider.
func (v *ViewState) SetSliderValue(kind classify.Kind, value float64) {
	v.mu.Lock()
	v.get(kind).opacity = value
	v.mu.Unlock()
	v.publish("changed", kind)
}

// SetRowVisible shows or hides kind's opacity row.
func (v *ViewState) SetRowVisible(kind classify.Kind, visible bool) {
	v.mu.Lock()
	v.get(kind).rowVisible = visible
	v.mu.Unlock()
	v.publish("changed", kind)
}

// SetLegend switches the legend panel.
func (v *ViewState) SetLegend(mode legend.Mode) {
	v.mu.Lock()
	v.legend = mode
	v.mu.Unlock()
	v.publish("changed", "")
}

// Notify records a failed load as the message shown to the user.
func (v *ViewState) Notify(kind classify.Kind, _ error) {
	v.mu.Lock()
	v.err = overlay.FailureMessage(kind)
	v.mu.Unlock()
	v.publish("failed", kind)
}

// Checked reports kind's checkbox state.
func (v *ViewState) Checked(kind classify.Kind) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.controls[kind]
	return ok && c.checked
}

// Legend returns the current legend mode.
func (v *ViewState) Legend() legend.Mode {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.legend
}

// Err returns the last failure message, if any.
func (v *ViewState) Err() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// ClearError dismisses the failure message.
func (v *ViewState) ClearError() {
	v.mu.Lock()
	v.err = ""
	v.mu.Unlock()
	v.publish("changed", "")
}

// Snapshot copies the view. Overlays are in classify.Kinds order.
func (v *ViewState) Snapshot() ViewSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	snap := ViewSnapshot{
		Overlays: make([]OverlayView, 0, len(classify.Kinds)),
		Legend:   legend.Render(v.legend),
		Error:    v.err,
	}
	for _, kind := range classify.Kinds {
		c := v.controls[kind]
		snap.Overlays = append(snap.Overlays, OverlayView{
			Kind:       string(kind),
			Checked:    c.checked,
			Opacity:    c.opacity,
			RowVisible: c.rowVisible,
		})
	}
	return snap
}

func (v *ViewState) publish(action string, kind classify.Kind) {
	if v.bus == nil {
		return
	}
	v.bus.Publish(Event{Session: v.session, Resource: "view", Action: action, Kind: string(kind)})
}
