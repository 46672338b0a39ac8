package raster

import (
	"bytes"
	"image"
	"image/png"
	"math"

	"github.com/nfnt/resize"

	"github.com/joeblew999/uhi-map/internal/classify"
)

// OutputSize returns the overlay dimensions for a source of width x height
// limited to maxWidth, along with the scale factor. It never upsamples.
// A non-positive maxWidth disables the limit.
func OutputSize(width, height, maxWidth int) (outW, outH int, scale float64) {
	scale = 1
	if maxWidth > 0 {
		scale = math.Min(1, float64(maxWidth)/float64(width))
	}
	outW = max(1, int(math.Round(float64(width)*scale)))
	outH = max(1, int(math.Round(float64(height)*scale)))
	return outW, outH, scale
}

// Rasterize colors a decoded raster with the legend for kind.
//
// Output pixels pick their source sample by nearest neighbour so no class
// values are invented between legend entries. Nodata, absent, zero and
// out-of-legend samples are fully transparent; classified samples are opaque.
// The result is deterministic for identical inputs.
func Rasterize(r *DecodedRaster, kind classify.Kind, maxWidth int) (*image.NRGBA, error) {
	if r == nil || len(r.Band) == 0 {
		return nil, Failf(DecodeFailure, "raster band values missing")
	}
	if r.Width <= 0 || r.Height <= 0 {
		return nil, Failf(RenderFailure, "invalid raster size %dx%d", r.Width, r.Height)
	}
	if _, ok := classify.LegendFor(kind); !ok {
		return nil, Failf(RenderFailure, "no legend for kind %q", kind)
	}

	outW, outH, scale := OutputSize(r.Width, r.Height, maxWidth)
	img := image.NewNRGBA(image.Rect(0, 0, outW, outH))

	srcXs := make([]int, outW)
	for x := range srcXs {
		srcXs[x] = min(r.Width-1, int(math.Floor(float64(x)/scale)))
	}

	for y := 0; y < outH; y++ {
		srcY := min(r.Height-1, int(math.Floor(float64(y)/scale)))
		if srcY >= len(r.Band) || r.Band[srcY] == nil {
			continue
		}
		for x, srcX := range srcXs {
			v, ok := r.Sample(srcX, srcY)
			if !ok || r.IsNoData(v) {
				continue
			}
			c, ok := classify.ClassColor(kind, roundHalfUp(v))
			if !ok {
				continue
			}
			i := img.PixOffset(x, y)
			img.Pix[i+0] = c.R
			img.Pix[i+1] = c.G
			img.Pix[i+2] = c.B
			img.Pix[i+3] = 0xff
		}
	}

	return img, nil
}

// roundHalfUp rounds .5 toward positive infinity, keeping -0.5 at 0.
func roundHalfUp(v float64) float64 {
	r := math.Floor(v + 0.5)
	if r == 0 {
		return 0
	}
	return r
}

// EncodePNG encodes an overlay image.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, Fail(RenderFailure, err, "encode png")
	}
	return buf.Bytes(), nil
}

// Thumbnail shrinks an overlay so its longest edge is at most maxEdge,
// keeping class colors intact.
func Thumbnail(img image.Image, maxEdge uint) image.Image {
	b := img.Bounds()
	if maxEdge == 0 || (uint(b.Dx()) <= maxEdge && uint(b.Dy()) <= maxEdge) {
		return img
	}
	return resize.Thumbnail(maxEdge, maxEdge, img, resize.NearestNeighbor)
}
