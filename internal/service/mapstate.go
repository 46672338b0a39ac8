package service

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/overlay"
	"github.com/joeblew999/uhi-map/internal/raster"
)

type placed struct {
	seq     uint64
	kind    classify.Kind
	width   int
	height  int
	bounds  orb.Bound
	opacity float64
	png     []byte
	thumb   []byte
}

// MapState is the server-side map surface of one session. Placed overlays
// are kept as encoded PNGs so the page can fetch them by layer ID.
type MapState struct {
	session   string
	urlBase   string
	thumbSize uint
	bus       *EventBus

	mu     sync.RWMutex
	seq    uint64
	layers map[overlay.LayerID]*placed
	fit    *FitRequest
}

var _ overlay.MapSurface = (*MapState)(nil)

// NewMapState creates the map of one session. Layer image URLs are built
// under urlBase.
func NewMapState(session, urlBase string, thumbSize uint, bus *EventBus) *MapState {
	return &MapState{
		session:   session,
		urlBase:   urlBase,
		thumbSize: thumbSize,
		bus:       bus,
		layers:    make(map[overlay.LayerID]*placed),
	}
}

// PlaceImage encodes img and adds it as a non-interactive layer.
func (m *MapState) PlaceImage(ctx context.Context, kind classify.Kind, img image.Image, bounds orb.Bound, opacity float64) (overlay.LayerID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full, err := raster.EncodePNG(img)
	if err != nil {
		return "", err
	}
	thumb, err := raster.EncodePNG(raster.Thumbnail(img, m.thumbSize))
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.seq++
	id := overlay.LayerID(fmt.Sprintf("%s-%d", kind, m.seq))
	m.layers[id] = &placed{
		seq:     m.seq,
		kind:    kind,
		width:   img.Bounds().Dx(),
		height:  img.Bounds().Dy(),
		bounds:  bounds,
		opacity: opacity,
		png:     full,
		thumb:   thumb,
	}
	m.mu.Unlock()

	m.publish("changed", kind)
	return id, nil
}

// FitBounds records the viewport fit for the page to apply.
func (m *MapState) FitBounds(bounds orb.Bound, padX, padY int) {
	m.mu.Lock()
	m.fit = &FitRequest{Bounds: toBounds(bounds), Padding: [2]int{padX, padY}}
	m.mu.Unlock()
	m.publish("changed", "")
}

// RemoveImage drops a layer. Unknown IDs are ignored.
func (m *MapState) RemoveImage(id overlay.LayerID) {
	m.mu.Lock()
	p, ok := m.layers[id]
	delete(m.layers, id)
	m.mu.Unlock()
	if ok {
		m.publish("changed", p.kind)
	}
}

// SetOpacity changes a layer's opacity. Unknown IDs are ignored.
func (m *MapState) SetOpacity(id overlay.LayerID, opacity float64) {
	m.mu.Lock()
	p, ok := m.layers[id]
	if ok {
		p.opacity = opacity
	}
	m.mu.Unlock()
	if ok {
		m.publish("changed", p.kind)
	}
}

// Image returns the encoded PNG of a layer, or its thumbnail.
func (m *MapState) Image(id string, thumb bool) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.layers[overlay.LayerID(id)]
	if !ok {
		return nil, false
	}
	if thumb {
		return p.thumb, true
	}
	return p.png, true
}

// Layer returns the placed layer for kind, if any.
func (m *MapState) Layer(kind classify.Kind) (PlacedLayer, bool) {
	for _, l := range m.Snapshot().Layers {
		if l.Kind == string(kind) {
			return l, true
		}
	}
	return PlacedLayer{}, false
}

// Snapshot copies the map state. Layers are in placement order.
func (m *MapState) Snapshot() MapSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MapSnapshot{Layers: make([]PlacedLayer, 0, len(m.layers))}
	ids := make([]overlay.LayerID, 0, len(m.layers))
	for id := range m.layers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.layers[ids[i]].seq < m.layers[ids[j]].seq })

	for _, id := range ids {
		p := m.layers[id]
		snap.Layers = append(snap.Layers, PlacedLayer{
			ID:       string(id),
			Kind:     string(p.kind),
			Width:    p.width,
			Height:   p.height,
			Bounds:   toBounds(p.bounds),
			Opacity:  p.opacity,
			ImageURL: fmt.Sprintf("%s/%s", m.urlBase, id),
			ThumbURL: fmt.Sprintf("%s/%s/thumb", m.urlBase, id),
		})
	}
	if m.fit != nil {
		fit := *m.fit
		snap.Fit = &fit
	}
	return snap
}

func (m *MapState) publish(action string, kind classify.Kind) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(Event{Session: m.session, Resource: "map", Action: action, Kind: string(kind)})
}

func toBounds(b orb.Bound) Bounds {
	return Bounds{XMin: b.Min[0], YMin: b.Min[1], XMax: b.Max[0], YMax: b.Max[1]}
}
