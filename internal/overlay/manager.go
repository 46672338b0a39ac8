// Package overlay owns the raster overlay state machine: at most one of the
// NDVI and LST overlays is on the map at a time, each kind keeps its opacity
// across toggles, and a failed load always falls back to no overlay.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/legend"
	"github.com/joeblew999/uhi-map/internal/raster"
)

var (
	// ErrSuperseded is returned by ToggleOn when a later toggle or teardown
	// replaced the load before it could be committed.
	ErrSuperseded = errors.New("overlay load superseded")
	// ErrInvalidOpacity rejects NaN and infinite opacities.
	ErrInvalidOpacity = errors.New("opacity must be a finite number")
)

// Source is the fixed data source and starting opacity for one kind.
type Source struct {
	URL            string  `json:"url" yaml:"url"`
	DefaultOpacity float64 `json:"defaultOpacity" yaml:"defaultOpacity"`
}

// Config configures a Manager.
type Config struct {
	Sources  map[classify.Kind]Source
	MaxWidth int
	PadX     int
	PadY     int
}

// DefaultConfig mirrors the published viewer: rasters under data/, 1400px
// overlays and a 20px fit margin.
func DefaultConfig() Config {
	return Config{
		Sources: map[classify.Kind]Source{
			classify.NDVI: {URL: "data/NDVI_classified.tif", DefaultOpacity: 0.70},
			classify.LST:  {URL: "data/LST_classified.tif", DefaultOpacity: 0.65},
		},
		MaxWidth: raster.DefaultMaxWidth,
		PadX:     20,
		PadY:     20,
	}
}

// FailureMessage is the user-facing text for a failed load of kind.
func FailureMessage(kind classify.Kind) string {
	return fmt.Sprintf("Failed to load %s GeoTIFF. Check file path and ensure you run via a server.", kind.Label())
}

// Manager drives the overlay lifecycle for one map.
type Manager struct {
	cfg     Config
	fetcher Fetcher
	decoder raster.Decoder
	surface MapSurface
	view    ViewBinding
	notify  Notifier
	logger  *zap.Logger

	mu      sync.Mutex
	active  classify.Kind
	loading classify.Kind
	layers  map[classify.Kind]LayerID
	opacity map[classify.Kind]float64
	gen     map[classify.Kind]uint64
}

// Deps bundles the collaborators a Manager is built from.
type Deps struct {
	Fetcher  Fetcher
	Decoder  raster.Decoder
	Surface  MapSurface
	View     ViewBinding
	Notifier Notifier
	Logger   *zap.Logger
}

// NewManager creates a manager in the none state and pushes that state to
// the view: both opacity rows hidden, both checkboxes clear, no legend.
func NewManager(cfg Config, d Deps) *Manager {
	if d.Logger == nil {
		d.Logger = zap.L()
	}
	if d.Notifier == nil {
		d.Notifier = NotifierFunc(func(classify.Kind, error) {})
	}
	m := &Manager{
		cfg:     cfg,
		fetcher: d.Fetcher,
		decoder: d.Decoder,
		surface: d.Surface,
		view:    d.View,
		notify:  d.Notifier,
		logger:  d.Logger.Named("overlay"),
		layers:  make(map[classify.Kind]LayerID),
		opacity: make(map[classify.Kind]float64),
		gen:     make(map[classify.Kind]uint64),
	}
	for kind, src := range cfg.Sources {
		m.opacity[kind] = src.DefaultOpacity
	}

	m.mu.Lock()
	m.teardownLocked()
	m.mu.Unlock()
	return m
}

// ToggleOn makes kind the active overlay. Any other overlay is torn down
// first. On failure the manager reverts to the none state, notifies, and
// returns an error classified by raster.KindOf.
func (m *Manager) ToggleOn(ctx context.Context, kind classify.Kind) error {
	src, ok := m.cfg.Sources[kind]
	if !ok {
		return fmt.Errorf("%w: %q", classify.ErrUnknownKind, kind)
	}

	m.mu.Lock()
	m.teardownLocked()
	m.view.SetChecked(kind, true)
	m.view.SetSliderValue(kind, m.opacity[kind])
	m.loading = kind
	gen := m.gen[kind]
	m.mu.Unlock()

	log := m.logger.With(zap.String("kind", string(kind)), zap.String("url", src.URL))

	loaded, err := m.load(ctx, kind, src.URL, log)
	if err != nil {
		return m.fail(kind, gen, err, log)
	}

	m.mu.Lock()
	if m.gen[kind] != gen {
		m.mu.Unlock()
		log.Debug("discarding superseded overlay", zap.Uint64("generation", gen))
		return ErrSuperseded
	}

	id, err := m.surface.PlaceImage(ctx, kind, loaded.img, loaded.bounds, src.DefaultOpacity)
	if err != nil {
		m.mu.Unlock()
		return m.fail(kind, gen, raster.Fail(raster.RenderFailure, err, "place overlay"), log)
	}
	m.surface.FitBounds(loaded.bounds, m.cfg.PadX, m.cfg.PadY)
	m.surface.SetOpacity(id, m.opacity[kind])

	m.layers[kind] = id
	m.active = kind
	m.loading = ""
	m.view.SetRowVisible(kind, true)
	m.view.SetLegend(legend.ModeFor(kind))
	m.mu.Unlock()

	log.Info("overlay active", zap.String("layer", string(id)))
	return nil
}

// ToggleOff removes kind's overlay if it is the active one. A pending load
// of kind is abandoned. The checkbox is left to the control that fired it.
func (m *Manager) ToggleOff(kind classify.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loading == kind {
		m.gen[kind]++
		m.loading = ""
	}
	if m.active != kind {
		return
	}
	m.gen[kind]++
	m.removeLocked(kind)
	m.active = ""
	m.view.SetLegend(legend.None)
}

// SetOpacity persists v for kind and applies it to the live layer when kind
// is active. Values are not clamped.
func (m *Manager) SetOpacity(kind classify.Kind, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrInvalidOpacity
	}
	if _, ok := m.cfg.Sources[kind]; !ok {
		return fmt.Errorf("%w: %q", classify.ErrUnknownKind, kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.opacity[kind] = v
	m.view.SetSliderValue(kind, v)
	if m.active == kind {
		m.surface.SetOpacity(m.layers[kind], v)
	}
	return nil
}

// Opacity returns the persisted opacity for kind.
func (m *Manager) Opacity(kind classify.Kind) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opacity[kind]
}

// Active reports whether kind's overlay is on the map.
func (m *Manager) Active(kind classify.Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active == kind && kind != ""
}

// Loading reports whether a load of kind is in flight.
func (m *Manager) Loading(kind classify.Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading == kind && kind != ""
}

// Mode is the current legend mode, which doubles as the state name.
func (m *Manager) Mode() legend.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modeLocked()
}

func (m *Manager) modeLocked() legend.Mode {
	if m.active == "" {
		return legend.None
	}
	return legend.ModeFor(m.active)
}

// State is the manager state read under a single lock, so Mode always
// agrees with Active.
type State struct {
	Mode    legend.Mode
	Active  classify.Kind // empty in the none state
	Loading classify.Kind // empty when no load is in flight
	Opacity map[classify.Kind]float64
}

// IsActive reports whether kind is the overlay on the map.
func (s State) IsActive(kind classify.Kind) bool { return kind != "" && s.Active == kind }

// IsLoading reports whether a load of kind is in flight.
func (s State) IsLoading(kind classify.Kind) bool { return kind != "" && s.Loading == kind }

// State returns a consistent copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	opacity := make(map[classify.Kind]float64, len(m.opacity))
	for k, v := range m.opacity {
		opacity[k] = v
	}
	return State{
		Mode:    m.modeLocked(),
		Active:  m.active,
		Loading: m.loading,
		Opacity: opacity,
	}
}

// Reset tears everything down, as on page load.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

// teardownLocked removes every overlay, clears both checkboxes, hides both
// rows and resets the legend. Pending loads become stale.
func (m *Manager) teardownLocked() {
	for _, kind := range classify.Kinds {
		m.gen[kind]++
		m.removeLocked(kind)
		m.view.SetChecked(kind, false)
	}
	m.active = ""
	m.loading = ""
	m.view.SetLegend(legend.None)
}

func (m *Manager) removeLocked(kind classify.Kind) {
	if id, ok := m.layers[kind]; ok {
		m.surface.RemoveImage(id)
		delete(m.layers, kind)
	}
	m.view.SetRowVisible(kind, false)
}

// fail reverts to none unless a newer operation already owns the state.
func (m *Manager) fail(kind classify.Kind, gen uint64, err error, log *zap.Logger) error {
	if _, ok := raster.KindOf(err); !ok {
		err = raster.Fail(raster.FetchFailure, err, "load overlay")
	}

	m.mu.Lock()
	if m.gen[kind] != gen {
		m.mu.Unlock()
		log.Debug("superseded overlay load failed", zap.Error(err))
		return ErrSuperseded
	}
	m.teardownLocked()
	m.mu.Unlock()

	log.Error("overlay load failed", zap.Error(err))
	m.notify.Notify(kind, err)
	return err
}
