package overlay

import (
	"context"
	"image"

	"github.com/paulmach/orb"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/legend"
)

// LayerID identifies an image placed on a MapSurface.
type LayerID string

// Fetcher returns the raw bytes behind a data source URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// MapSurface is the map the overlays are drawn on. Placed images are
// non-interactive.
type MapSurface interface {
	PlaceImage(ctx context.Context, kind classify.Kind, img image.Image, bounds orb.Bound, opacity float64) (LayerID, error)
	FitBounds(bounds orb.Bound, padX, padY int)
	RemoveImage(id LayerID)
	SetOpacity(id LayerID, opacity float64)
}

// ViewBinding is the small slice of UI the manager drives: one checkbox,
// one opacity slider and one opacity row per kind, plus the legend panel.
type ViewBinding interface {
	SetChecked(kind classify.Kind, checked bool)
	SetSliderValue(kind classify.Kind, value float64)
	SetRowVisible(kind classify.Kind, visible bool)
	SetLegend(mode legend.Mode)
}

// Notifier surfaces a failed overlay load to the user.
type Notifier interface {
	Notify(kind classify.Kind, err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(kind classify.Kind, err error)

func (f NotifierFunc) Notify(kind classify.Kind, err error) { f(kind, err) }
