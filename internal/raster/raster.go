// Package raster decodes single-band classified GeoTIFFs and turns them into
// bounded-resolution RGBA overlays anchored to their geographic bounds.
package raster

import (
	"context"
	"math"

	"github.com/paulmach/orb"
)

// DefaultMaxWidth caps the rendered overlay width in pixels.
const DefaultMaxWidth = 1400

// DecodedRaster is one band of a georeferenced raster. It is immutable once
// produced by a Decoder.
type DecodedRaster struct {
	Width  int
	Height int
	// Bounds holds xmin/ymin in Min and xmax/ymax in Max.
	Bounds orb.Bound
	// NoData is the nodata sentinel, nil when the raster declares none.
	NoData *float64
	// Band is row-major, Height rows of Width samples. Missing rows or
	// short rows are treated as absent samples.
	Band [][]float64
}

// Decoder turns raw bytes into a DecodedRaster.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*DecodedRaster, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(ctx context.Context, data []byte) (*DecodedRaster, error)

func (f DecoderFunc) Decode(ctx context.Context, data []byte) (*DecodedRaster, error) {
	return f(ctx, data)
}

// Sample returns the value at (x, y) and whether it is present.
func (r *DecodedRaster) Sample(x, y int) (float64, bool) {
	if y < 0 || y >= len(r.Band) {
		return 0, false
	}
	row := r.Band[y]
	if x < 0 || x >= len(row) {
		return 0, false
	}
	return row[x], true
}

// IsNoData reports whether v equals the nodata sentinel. A NaN sentinel
// matches NaN samples.
func (r *DecodedRaster) IsNoData(v float64) bool {
	if r.NoData == nil {
		return false
	}
	nd := *r.NoData
	if math.IsNaN(nd) {
		return math.IsNaN(v)
	}
	return v == nd
}

// Center returns the midpoint of the raster bounds.
func (r *DecodedRaster) Center() orb.Point {
	return r.Bounds.Center()
}
