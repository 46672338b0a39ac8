package overlay

import (
	"context"
	"image"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/raster"
)

type loaded struct {
	img    image.Image
	bounds orb.Bound
}

// load runs fetch, decode and rasterize in order. No lock is held.
func (m *Manager) load(ctx context.Context, kind classify.Kind, url string, log *zap.Logger) (*loaded, error) {
	data, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		if _, ok := raster.KindOf(err); !ok {
			err = raster.Fail(raster.FetchFailure, err, "fetch "+url)
		}
		return nil, err
	}
	log.Debug("fetched raster", zap.Int("bytes", len(data)))

	r, err := m.decoder.Decode(ctx, data)
	if err != nil {
		if _, ok := raster.KindOf(err); !ok {
			err = raster.Fail(raster.DecodeFailure, err, "decode "+url)
		}
		log.Warn("raster decode failed", zap.Int("bytes", len(data)), zap.Error(err))
		return nil, err
	}

	img, err := raster.Rasterize(r, kind, m.cfg.MaxWidth)
	if err != nil {
		return nil, err
	}
	return &loaded{img: img, bounds: r.Bounds}, nil
}
