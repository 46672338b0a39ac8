// Package tiler cuts the analysis grid into Mapbox vector tiles, on demand
// for the API and in bulk for PMTiles export.
package tiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/uhi-map/internal/pmtiles"
)

var (
	// ErrZoom is returned for tiles outside the configured zoom range.
	ErrZoom = errors.New("zoom out of range")
	// ErrInvalidTile is returned when x or y do not exist at the zoom.
	ErrInvalidTile = errors.New("invalid tile")
)

// ContentType is the media type of the encoded tiles.
const ContentType = "application/vnd.mapbox-vector-tile"

// Options configures a Tiler.
type Options struct {
	Layer   string
	MinZoom maptile.Zoom
	MaxZoom maptile.Zoom
	Logger  *zap.Logger
}

// DefaultOptions covers a city from overview to street level.
func DefaultOptions() Options {
	return Options{Layer: "grid", MinZoom: 8, MaxZoom: 14}
}

// Tiler encodes tiles of one feature collection. Feature properties must be
// scalars (string, number, bool).
type Tiler struct {
	fc     *geojson.FeatureCollection
	bound  orb.Bound
	opts   Options
	logger *zap.Logger
}

// New creates a tiler over fc.
func New(fc *geojson.FeatureCollection, opts Options) *Tiler {
	if opts.Layer == "" {
		opts.Layer = "grid"
	}
	if opts.MaxZoom < opts.MinZoom {
		opts.MaxZoom = opts.MinZoom
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	t := &Tiler{fc: fc, opts: opts, logger: opts.Logger.Named("tiler")}
	first := true
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if first {
			t.bound, first = f.Geometry.Bound(), false
			continue
		}
		t.bound = t.bound.Union(f.Geometry.Bound())
	}
	return t
}

// Bound is the extent of all features.
func (t *Tiler) Bound() orb.Bound { return t.bound }

// Tile returns the gzipped MVT for tile, or nil when no feature reaches it.
func (t *Tiler) Tile(tile maptile.Tile) ([]byte, error) {
	if tile.Z < t.opts.MinZoom || tile.Z > t.opts.MaxZoom {
		return nil, fmt.Errorf("%w: %d not in %d-%d", ErrZoom, tile.Z, t.opts.MinZoom, t.opts.MaxZoom)
	}
	if !tile.Valid() {
		return nil, fmt.Errorf("%w: %d/%d/%d", ErrInvalidTile, tile.Z, tile.X, tile.Y)
	}

	tb := tile.Bound()
	fc := geojson.NewFeatureCollection()
	for _, f := range t.fc.Features {
		if f.Geometry == nil || !intersects(f.Geometry, tb) {
			continue
		}
		// Clip and ProjectToTile rewrite coordinates in place.
		c := geojson.NewFeature(orb.Clone(f.Geometry))
		for k, v := range f.Properties {
			c.Properties[k] = v
		}
		fc.Append(c)
	}
	if len(fc.Features) == 0 {
		return nil, nil
	}

	layer := mvt.NewLayer(t.opts.Layer, fc)
	if eps := epsilon(tile.Z); eps > 0 {
		layer.Simplify(simplify.DouglasPeucker(eps))
	}
	layer.Clip(tb)
	layer.ProjectToTile(tile)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil, nil
	}

	data, err := mvt.MarshalGzipped(mvt.Layers{layer})
	if err != nil {
		return nil, fmt.Errorf("encode tile %d/%d/%d: %w", tile.Z, tile.X, tile.Y, err)
	}
	return data, nil
}

// Covering lists the tiles at zoom z that overlap the feature extent.
func (t *Tiler) Covering(z maptile.Zoom) []maptile.Tile {
	if len(t.fc.Features) == 0 {
		return nil
	}
	lo := maptile.At(orb.Point{t.bound.Min[0], t.bound.Max[1]}, z)
	hi := maptile.At(orb.Point{t.bound.Max[0], t.bound.Min[1]}, z)

	tiles := make([]maptile.Tile, 0, int(hi.X-lo.X+1)*int(hi.Y-lo.Y+1))
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			tiles = append(tiles, maptile.New(x, y, z))
		}
	}
	return tiles
}

// Archive encodes every non-empty tile in the zoom range and writes them to
// w as a PMTiles archive. It returns the number of tiles written.
func (t *Tiler) Archive(ctx context.Context, w io.Writer) (int, error) {
	var all []maptile.Tile
	for z := t.opts.MinZoom; z <= t.opts.MaxZoom; z++ {
		all = append(all, t.Covering(z)...)
	}

	encoded := make([][]byte, len(all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, tile := range all {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := t.Tile(tile)
			encoded[i] = data
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	tiles := make([]pmtiles.Tile, 0, len(all))
	for i, tile := range all {
		if encoded[i] == nil {
			continue
		}
		tiles = append(tiles, pmtiles.Tile{Z: uint8(tile.Z), X: tile.X, Y: tile.Y, Data: encoded[i]})
	}

	err := pmtiles.Write(w, pmtiles.Archive{
		TileType:        pmtiles.Mvt,
		TileCompression: pmtiles.Gzip,
		MinZoom:         uint8(t.opts.MinZoom),
		MaxZoom:         uint8(t.opts.MaxZoom),
		Bounds:          [4]float64{t.bound.Min[0], t.bound.Min[1], t.bound.Max[0], t.bound.Max[1]},
		Metadata: map[string]any{
			"name":    t.opts.Layer,
			"format":  "pbf",
			"minzoom": t.opts.MinZoom,
			"maxzoom": t.opts.MaxZoom,
			"vector_layers": []map[string]any{
				{"id": t.opts.Layer, "minzoom": t.opts.MinZoom, "maxzoom": t.opts.MaxZoom},
			},
		},
	}, tiles)
	if err != nil {
		return 0, err
	}
	t.logger.Info("archive written", zap.Int("tiles", len(tiles)), zap.Int("candidates", len(all)))
	return len(tiles), nil
}

// intersects refines the bound check for polygons, whose bounding boxes
// overlap many tiles they never touch.
func intersects(g orb.Geometry, tb orb.Bound) bool {
	if !g.Bound().Intersects(tb) {
		return false
	}
	switch g := g.(type) {
	case orb.Polygon:
		if len(g) == 0 {
			return false
		}
		for _, p := range g[0] {
			if tb.Contains(p) {
				return true
			}
		}
		corners := []orb.Point{tb.Min, {tb.Max[0], tb.Min[1]}, tb.Max, {tb.Min[0], tb.Max[1]}, tb.Center()}
		for _, c := range corners {
			if planar.PolygonContains(g, c) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, p := range g {
			if intersects(p, tb) {
				return true
			}
		}
		return false
	}
	return true
}

// epsilon is the simplification tolerance in degrees. Grid cells are a few
// hundred metres wide, so tolerances stay well below a cell.
func epsilon(z maptile.Zoom) float64 {
	switch {
	case z >= 13:
		return 0
	case z >= 10:
		return 0.00001
	default:
		return 0.0001
	}
}
