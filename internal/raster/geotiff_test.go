package raster

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/uhi-map/internal/classify"
)

type tiffOpts struct {
	scale     []float64
	tiepoint  []float64
	transform []float64
	nodata    string
	spp       uint16
	sampleFmt uint16
	bits      uint16
	compress  uint16
	predictor uint16
}

type testEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// buildGeoTIFF writes a little-endian single-strip grayscale TIFF with
// optional GeoTIFF tags. pix holds the strip bytes as stored: 8-bit unsigned,
// uncompressed unless the options say otherwise.
func buildGeoTIFF(w, h int, pix []uint8, o tiffOpts) []byte {
	le := binary.LittleEndian
	short := func(v uint16) []byte { b := make([]byte, 2); le.PutUint16(b, v); return b }
	long := func(v uint32) []byte { b := make([]byte, 4); le.PutUint32(b, v); return b }
	doubles := func(vs []float64) []byte {
		b := make([]byte, 8*len(vs))
		for i, v := range vs {
			le.PutUint64(b[i*8:], math.Float64bits(v))
		}
		return b
	}

	spp := o.spp
	if spp == 0 {
		spp = 1
	}
	bits := o.bits
	if bits == 0 {
		bits = 8
	}
	compression := o.compress
	if compression == 0 {
		compression = 1
	}

	entries := []testEntry{
		{256, dtShort, 1, short(uint16(w))},
		{257, dtShort, 1, short(uint16(h))},
		{258, dtShort, 1, short(bits)},
		{259, dtShort, 1, short(compression)},
		{262, dtShort, 1, short(1)},
		{273, dtLong, 1, nil}, // strip offset patched below
		{277, dtShort, 1, short(spp)},
		{278, dtShort, 1, short(uint16(h))},
		{279, dtLong, 1, long(uint32(len(pix)))},
	}
	if o.predictor != 0 {
		entries = append(entries, testEntry{317, dtShort, 1, short(o.predictor)})
	}
	if o.sampleFmt != 0 {
		entries = append(entries, testEntry{339, dtShort, 1, short(o.sampleFmt)})
	}
	if o.scale != nil {
		entries = append(entries, testEntry{33550, dtDouble, uint32(len(o.scale)), doubles(o.scale)})
	}
	if o.tiepoint != nil {
		entries = append(entries, testEntry{33922, dtDouble, uint32(len(o.tiepoint)), doubles(o.tiepoint)})
	}
	if o.transform != nil {
		entries = append(entries, testEntry{34264, dtDouble, uint32(len(o.transform)), doubles(o.transform)})
	}
	if o.nodata != "" {
		s := append([]byte(o.nodata), 0)
		entries = append(entries, testEntry{42113, dtASCII, uint32(len(s)), s})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Layout: header | pixels | out-of-line values | IFD
	buf := make([]byte, 8)
	copy(buf, "II")
	le.PutUint16(buf[2:], 42)
	stripOffset := uint32(len(buf))
	buf = append(buf, pix...)

	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if e.tag == 273 {
			entries[i].data = long(stripOffset)
			continue
		}
		if len(e.data) > 4 {
			if len(buf)%2 == 1 {
				buf = append(buf, 0)
			}
			offsets[i] = uint32(len(buf))
			buf = append(buf, e.data...)
		}
	}
	if len(buf)%2 == 1 {
		buf = append(buf, 0)
	}

	ifd := uint32(len(buf))
	le.PutUint32(buf[4:], ifd)
	buf = append(buf, short(uint16(len(entries)))...)
	for i, e := range entries {
		rec := make([]byte, 12)
		le.PutUint16(rec[0:], e.tag)
		le.PutUint16(rec[2:], e.typ)
		le.PutUint32(rec[4:], e.count)
		if len(e.data) > 4 {
			le.PutUint32(rec[8:], offsets[i])
		} else {
			copy(rec[8:], e.data)
		}
		buf = append(buf, rec...)
	}
	buf = append(buf, long(0)...)
	return buf
}

func TestGeoTIFFDecode(t *testing.T) {
	pix := []uint8{
		1, 1, 5, 255,
		0, 3, 3, 2,
	}
	data := buildGeoTIFF(4, 2, pix, tiffOpts{
		scale:    []float64{0.5, 0.25, 0},
		tiepoint: []float64{0, 0, 0, 19.4, 51.8, 0},
		nodata:   "255",
	})

	r, err := NewGeoTIFFDecoder(nil).Decode(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, 4, r.Width)
	assert.Equal(t, 2, r.Height)
	require.NotNil(t, r.NoData)
	assert.Equal(t, 255.0, *r.NoData)
	assert.InDelta(t, 19.4, r.Bounds.Min.X(), 1e-9)
	assert.InDelta(t, 21.4, r.Bounds.Max.X(), 1e-9)
	assert.InDelta(t, 51.3, r.Bounds.Min.Y(), 1e-9)
	assert.InDelta(t, 51.8, r.Bounds.Max.Y(), 1e-9)
	assert.Equal(t, [][]float64{{1, 1, 5, 255}, {0, 3, 3, 2}}, r.Band)

	img, err := Rasterize(r, classify.NDVI, DefaultMaxWidth)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), img.NRGBAAt(3, 0).A)
	assert.Equal(t, uint8(255), img.NRGBAAt(2, 0).A)
}

func TestGeoTIFFDecodeModelTransformation(t *testing.T) {
	data := buildGeoTIFF(2, 2, []uint8{1, 2, 3, 4}, tiffOpts{
		transform: []float64{
			10, 0, 0, 100,
			0, -5, 0, 200,
			0, 0, 0, 0,
			0, 0, 0, 1,
		},
	})
	r, err := NewGeoTIFFDecoder(nil).Decode(context.Background(), data)
	require.NoError(t, err)
	assert.Nil(t, r.NoData)
	assert.InDelta(t, 100, r.Bounds.Min.X(), 1e-9)
	assert.InDelta(t, 120, r.Bounds.Max.X(), 1e-9)
	assert.InDelta(t, 190, r.Bounds.Min.Y(), 1e-9)
	assert.InDelta(t, 200, r.Bounds.Max.Y(), 1e-9)
}

func le16(vs ...int16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func le32(vs ...uint32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
	return b
}

func deflate(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestGeoTIFFDecodeSignedAndFloat(t *testing.T) {
	georef := tiffOpts{scale: []float64{0.5, 0.25, 0}, tiepoint: []float64{0, 0, 0, 19.4, 51.8, 0}}
	want := [][]float64{{1, 1, 5, -1}, {0, 3, 3, 2}}

	int8Pix := []uint8{1, 1, 5, 0xff, 0, 3, 3, 2}
	int16Pix := le16(1, 1, 5, -1, 0, 3, 3, 2)
	// predictor 2 stores each sample as the difference from its left neighbour
	int16Diff := le16(1, 0, 4, -6, 0, 3, 0, -1)

	floats := []float32{1.2, 0.6, 4.5, -1, 0.4, 3, 2.51, 2.49}
	bitsOf := make([]uint32, len(floats))
	for i, f := range floats {
		bitsOf[i] = math.Float32bits(f)
	}
	floatPix := le32(bitsOf...)

	with := func(o tiffOpts) tiffOpts {
		o.scale, o.tiepoint, o.nodata = georef.scale, georef.tiepoint, "-1"
		return o
	}

	tests := []struct {
		name string
		data []byte
		want [][]float64
	}{
		{"int8", buildGeoTIFF(4, 2, int8Pix, with(tiffOpts{sampleFmt: 2, bits: 8})), want},
		{"int16", buildGeoTIFF(4, 2, int16Pix, with(tiffOpts{sampleFmt: 2, bits: 16})), want},
		{"int16 deflate predictor", buildGeoTIFF(4, 2, deflate(t, int16Diff), with(tiffOpts{
			sampleFmt: 2, bits: 16, compress: 8, predictor: 2,
		})), want},
		{"float32 deflate", buildGeoTIFF(4, 2, deflate(t, floatPix), with(tiffOpts{
			sampleFmt: 3, bits: 32, compress: 8,
		})), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewGeoTIFFDecoder(nil).Decode(context.Background(), tt.data)
			require.NoError(t, err)
			assert.Equal(t, 4, r.Width)
			assert.Equal(t, 2, r.Height)
			require.NotNil(t, r.NoData)
			assert.Equal(t, -1.0, *r.NoData)
			assert.InDelta(t, 51.3, r.Bounds.Min.Y(), 1e-9)

			if tt.want != nil {
				assert.Equal(t, tt.want, r.Band)
			} else {
				for y, row := range r.Band {
					for x, v := range row {
						assert.InDelta(t, float64(floats[y*4+x]), v, 1e-6)
					}
				}
			}

			// fractional codes round to the nearest class, nodata stays clear
			img, err := Rasterize(r, classify.NDVI, DefaultMaxWidth)
			require.NoError(t, err)
			assert.Equal(t, uint8(0), img.NRGBAAt(3, 0).A)
			assert.Equal(t, uint8(255), img.NRGBAAt(0, 0).A)
			assert.Equal(t, uint8(255), img.NRGBAAt(2, 0).A)
			assert.Equal(t, uint8(0), img.NRGBAAt(0, 1).A)
		})
	}
}

func TestGeoTIFFDecodeFailures(t *testing.T) {
	georef := tiffOpts{scale: []float64{1, 1, 0}, tiepoint: []float64{0, 0, 0, 0, 2, 0}}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not a tiff file")},
		{"bigtiff", []byte{'I', 'I', 43, 0, 8, 0, 0, 0, 0, 0, 0, 0}},
		{"truncated", buildGeoTIFF(2, 1, []uint8{1, 2}, georef)[:20]},
		{"no georeference", buildGeoTIFF(2, 1, []uint8{1, 2}, tiffOpts{})},
		{"zero scale", buildGeoTIFF(2, 1, []uint8{1, 2}, tiffOpts{
			scale: []float64{0, 1, 0}, tiepoint: georef.tiepoint,
		})},
		{"12-bit signed samples", buildGeoTIFF(2, 1, []uint8{1, 2, 3}, tiffOpts{
			scale: georef.scale, tiepoint: georef.tiepoint, sampleFmt: 2, bits: 12,
		})},
		{"float predictor", buildGeoTIFF(1, 1, le32(math.Float32bits(1)), tiffOpts{
			scale: georef.scale, tiepoint: georef.tiepoint, sampleFmt: 3, bits: 32, predictor: 3,
		})},
		{"short float strip", buildGeoTIFF(2, 1, le32(math.Float32bits(1)), tiffOpts{
			scale: georef.scale, tiepoint: georef.tiepoint, sampleFmt: 3, bits: 32,
		})},
		{"unknown sample format", buildGeoTIFF(2, 1, []uint8{1, 2}, tiffOpts{
			scale: georef.scale, tiepoint: georef.tiepoint, sampleFmt: 4,
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGeoTIFFDecoder(nil).Decode(context.Background(), tt.data)
			require.Error(t, err)
			assert.True(t, IsKind(err, DecodeFailure), "got %v", err)
		})
	}
}

func TestGeoTIFFDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGeoTIFFDecoder(nil).Decode(ctx, []byte("II*\x00"))
	assert.True(t, IsKind(err, DecodeFailure))
}

func TestFailureKinds(t *testing.T) {
	err := Fail(FetchFailure, assert.AnError, "fetch data/x.tif")
	k, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, FetchFailure, k)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "FetchFailure")

	_, ok = KindOf(assert.AnError)
	assert.False(t, ok)
}
