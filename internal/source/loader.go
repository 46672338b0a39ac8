package source

import (
	"bytes"
	"context"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/gridstats"
	"github.com/joeblew999/uhi-map/internal/raster"
)

// Layout names the data files under the data directory.
type Layout struct {
	City  string `json:"city" yaml:"city" mapstructure:"city"`
	Grid  string `json:"grid" yaml:"grid" mapstructure:"grid"`
	Stats string `json:"stats" yaml:"stats" mapstructure:"stats"`
	NDVI  string `json:"ndvi" yaml:"ndvi" mapstructure:"ndvi"`
	LST   string `json:"lst" yaml:"lst" mapstructure:"lst"`
}

// DefaultLayout is the published Łódź data set.
func DefaultLayout() Layout {
	return Layout{
		City:  "lodz_city.geojson",
		Grid:  "lodz_grid.geojson",
		Stats: "ndvi_lst_grid_stats.csv",
		NDVI:  "NDVI_classified.tif",
		LST:   "LST_classified.tif",
	}
}

// Raster returns the raster file name for kind.
func (l Layout) Raster(kind classify.Kind) string {
	switch kind {
	case classify.NDVI:
		return l.NDVI
	case classify.LST:
		return l.LST
	}
	return ""
}

// Grid is the analysis grid joined with its statistics.
type Grid struct {
	Features *geojson.FeatureCollection
	Table    *gridstats.Table
	Cells    []gridstats.Cell
}

// Styled returns the grid as a styled feature collection.
func (g *Grid) Styled() *geojson.FeatureCollection {
	return gridstats.Styled(g.Features, g.Table)
}

// TileFeatures returns the grid geometry with flat scalar properties, the
// shape vector tile encoders accept.
func (g *Grid) TileFeatures() *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if g.Features == nil {
		return out
	}
	for i, c := range g.Cells {
		f := geojson.NewFeature(g.Features.Features[i].Geometry)
		f.Properties["id"] = c.ID
		f.Properties["matched"] = c.Matched
		f.Properties["ndviClass"] = c.Class
		f.Properties["fill"] = c.Fill
		if c.NDVIMedian != nil {
			f.Properties["ndviMedian"] = *c.NDVIMedian
		}
		if c.LSTMean != nil {
			f.Properties["lstMean"] = *c.LSTMean
		}
		out.Append(f)
	}
	return out
}

// Cell returns the joined cell with the given id.
func (g *Grid) Cell(id string) (gridstats.Cell, bool) {
	for _, c := range g.Cells {
		if c.ID == id {
			return c, true
		}
	}
	return gridstats.Cell{}, false
}

// Loader fetches and parses the vector and table sources.
type Loader struct {
	Fetcher   Fetcher
	Prefix    string
	Layout    Layout
	KeyColumn string
	Logger    *zap.Logger
}

// URL is the data path for a file name, e.g. "data/lodz_grid.geojson".
func (l *Loader) URL(name string) string {
	prefix := l.Prefix
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return prefix + name
}

func (l *Loader) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.L()
	}
	return l.Logger
}

// LoadCity fetches the city boundary.
func (l *Loader) LoadCity(ctx context.Context) (*geojson.FeatureCollection, error) {
	u := l.URL(l.Layout.City)
	data, err := l.Fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, err
	}
	fc, err := parseCollection(data)
	if err != nil {
		return nil, raster.Fail(raster.FetchFailure, err, "parse "+u)
	}
	l.logger().Debug("city boundary loaded", zap.String("url", u), zap.Int("features", len(fc.Features)))
	return fc, nil
}

// LoadGrid fetches the grid and the statistics table concurrently and joins
// them.
func (l *Loader) LoadGrid(ctx context.Context) (*Grid, error) {
	gridURL, statsURL := l.URL(l.Layout.Grid), l.URL(l.Layout.Stats)

	var (
		fc  *geojson.FeatureCollection
		tbl *gridstats.Table
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := l.Fetcher.Fetch(gctx, gridURL)
		if err != nil {
			return err
		}
		fc, err = parseCollection(data)
		if err != nil {
			return raster.Fail(raster.FetchFailure, err, "parse "+gridURL)
		}
		return nil
	})
	g.Go(func() error {
		data, err := l.Fetcher.Fetch(gctx, statsURL)
		if err != nil {
			return err
		}
		tbl, err = gridstats.Parse(gctx, bytes.NewReader(data), gridstats.Options{
			KeyColumn: l.KeyColumn,
			Logger:    l.logger(),
		})
		if err != nil {
			return raster.Fail(raster.FetchFailure, err, "parse "+statsURL)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	grid := &Grid{Features: fc, Table: tbl, Cells: gridstats.Join(fc, tbl)}
	matched := 0
	for _, c := range grid.Cells {
		if c.Matched {
			matched++
		}
	}
	l.logger().Info("grid stats loaded",
		zap.Int("cells", len(grid.Cells)),
		zap.Int("matched", matched),
		zap.Int("rows", tbl.Len()))
	return grid, nil
}

func parseCollection(data []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrap(err, "decode geojson")
	}
	return fc, nil
}
