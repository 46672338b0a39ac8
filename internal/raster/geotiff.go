package raster

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/image/tiff"
)

var (
	errShort    = eris.New("tiff data truncated")
	errNotTIFF  = eris.New("not a tiff file")
	errBigTIFF  = eris.New("bigtiff is not supported")
	errNoGeoref = eris.New("missing ModelPixelScale/ModelTiepoint tags")
	errRotated  = eris.New("rotated model transformation is not supported")
	errBadScale = eris.New("pixel scale must be positive")
)

// TIFF and GeoTIFF tags read by the decoder.
const (
	tagBitsPerSample       = 258
	tagPhotometric         = 262
	tagSamplesPerPixel     = 277
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGDALNoData          = 42113
)

// TIFF field types.
const (
	dtByte     = 1
	dtASCII    = 2
	dtShort    = 3
	dtLong     = 4
	dtRational = 5
	dtSByte    = 6
	dtSShort   = 8
	dtSLong    = 9
	dtFloat    = 11
	dtDouble   = 12
)

var typeSizes = map[uint16]uint32{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8,
	dtSByte: 1, 7: 1, dtSShort: 2, dtSLong: 4, 10: 8, dtFloat: 4, dtDouble: 8,
}

const (
	photometricWhiteIsZero = 0
	sampleFormatUnsigned   = 1
)

// GeoTIFFDecoder decodes single-band GeoTIFFs. Samples may be unsigned,
// signed or floating point; the rasterizer rounds them to class codes.
type GeoTIFFDecoder struct {
	Logger *zap.Logger
}

// NewGeoTIFFDecoder creates a decoder that logs with logger (zap.L() if nil).
func NewGeoTIFFDecoder(logger *zap.Logger) *GeoTIFFDecoder {
	if logger == nil {
		logger = zap.L()
	}
	return &GeoTIFFDecoder{Logger: logger}
}

// Decode parses the GeoTIFF bytes into a DecodedRaster.
func (d *GeoTIFFDecoder) Decode(ctx context.Context, data []byte) (*DecodedRaster, error) {
	if err := ctx.Err(); err != nil {
		return nil, Fail(DecodeFailure, err, "decode cancelled")
	}

	tags, err := readIFD(data)
	if err != nil {
		return nil, Fail(DecodeFailure, err, "read tiff directory")
	}

	if spp := tags.number(tagSamplesPerPixel, 1); spp != 1 {
		return nil, Failf(DecodeFailure, "expected a single band, got %d samples per pixel", spp)
	}

	band, w, h, err := tags.band(data)
	if err != nil {
		return nil, err
	}

	bound, err := tags.bounds(w, h)
	if err != nil {
		return nil, Fail(DecodeFailure, err, "georeference")
	}

	r := &DecodedRaster{
		Width:  w,
		Height: h,
		Bounds: bound,
		NoData: tags.nodata(),
		Band:   band,
	}

	if d.Logger != nil {
		fields := []zap.Field{
			zap.Int("width", r.Width),
			zap.Int("height", r.Height),
			zap.Float64("xmin", bound.Min.X()),
			zap.Float64("ymin", bound.Min.Y()),
			zap.Float64("xmax", bound.Max.X()),
			zap.Float64("ymax", bound.Max.Y()),
		}
		if r.NoData != nil {
			fields = append(fields, zap.Float64("nodata", *r.NoData))
		}
		d.Logger.Debug("parsed georaster", fields...)
	}

	return r, nil
}

// band decodes the pixel values. Unsigned samples go through x/image/tiff;
// signed and floating point samples, which it rejects, are read directly.
func (t *ifdTags) band(data []byte) ([][]float64, int, int, error) {
	bits := t.number(tagBitsPerSample, 8)
	switch sf := t.number(tagSampleFormat, sampleFormatUnsigned); sf {
	case sampleFormatUnsigned:
	case sampleFormatSigned, sampleFormatIEEEFloat:
		band, w, h, err := t.signedOrFloatBand(data, sf, bits)
		if err != nil {
			return nil, 0, 0, Fail(DecodeFailure, err, "decode samples")
		}
		return band, w, h, nil
	default:
		return nil, 0, 0, Failf(DecodeFailure, "sample format %d is not supported", sf)
	}

	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, Fail(DecodeFailure, err, "decode tiff pixels")
	}
	whiteIsZero := t.number(tagPhotometric, 1) == photometricWhiteIsZero
	band, err := bandValues(img, bits, whiteIsZero)
	if err != nil {
		return nil, 0, 0, err
	}
	return band, img.Bounds().Dx(), img.Bounds().Dy(), nil
}

// bandValues copies the decoded image into a row-major float grid, undoing
// the gray rescaling and photometric inversion x/image/tiff applies.
func bandValues(img image.Image, bits uint, whiteIsZero bool) ([][]float64, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	band := make([][]float64, h)

	switch m := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			row := make([]float64, w)
			off := m.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				v := m.Pix[off+x]
				if whiteIsZero {
					v = 0xff - v
				}
				if bits > 0 && bits < 8 {
					v /= uint8(0xff / (1<<bits - 1))
				}
				row[x] = float64(v)
			}
			band[y] = row
		}
	case *image.Gray16:
		for y := 0; y < h; y++ {
			row := make([]float64, w)
			off := m.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				i := off + 2*x
				v := uint16(m.Pix[i])<<8 | uint16(m.Pix[i+1])
				if whiteIsZero {
					v = 0xffff - v
				}
				row[x] = float64(v)
			}
			band[y] = row
		}
	case *image.Paletted:
		for y := 0; y < h; y++ {
			row := make([]float64, w)
			off := m.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				row[x] = float64(m.Pix[off+x])
			}
			band[y] = row
		}
	default:
		return nil, Failf(DecodeFailure, "unsupported pixel layout %T (%d bits)", img, bits)
	}

	return band, nil
}

type ifdEntry struct {
	typ   uint16
	count uint32
	raw   []byte
}

type ifdTags struct {
	order   binary.ByteOrder
	entries map[uint16]ifdEntry
}

// readIFD reads the first image file directory of a classic TIFF.
func readIFD(data []byte) (*ifdTags, error) {
	if len(data) < 8 {
		return nil, errShort
	}
	var order binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errNotTIFF
	}
	if magic := order.Uint16(data[2:4]); magic != 42 {
		if magic == 43 {
			return nil, errBigTIFF
		}
		return nil, errNotTIFF
	}

	off := order.Uint32(data[4:8])
	if uint64(off)+2 > uint64(len(data)) {
		return nil, errShort
	}
	n := uint32(order.Uint16(data[off : off+2]))
	start := off + 2
	if uint64(start)+uint64(n)*12 > uint64(len(data)) {
		return nil, errShort
	}

	t := &ifdTags{order: order, entries: make(map[uint16]ifdEntry, n)}
	for i := uint32(0); i < n; i++ {
		e := data[start+i*12 : start+i*12+12]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])
		size, ok := typeSizes[typ]
		if !ok {
			continue
		}
		total := uint64(size) * uint64(count)
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			vo := uint64(order.Uint32(e[8:12]))
			if vo+total > uint64(len(data)) {
				return nil, errShort
			}
			raw = data[vo : vo+total]
		}
		t.entries[tag] = ifdEntry{typ: typ, count: count, raw: raw}
	}
	return t, nil
}

func (t *ifdTags) number(tag uint16, def uint) uint {
	e, ok := t.entries[tag]
	if !ok || e.count == 0 {
		return def
	}
	switch e.typ {
	case dtByte:
		return uint(e.raw[0])
	case dtShort:
		return uint(t.order.Uint16(e.raw))
	case dtLong:
		return uint(t.order.Uint32(e.raw))
	}
	return def
}

func (t *ifdTags) doubles(tag uint16) []float64 {
	e, ok := t.entries[tag]
	if !ok {
		return nil
	}
	out := make([]float64, 0, e.count)
	for i := uint32(0); i < e.count; i++ {
		switch e.typ {
		case dtDouble:
			out = append(out, math.Float64frombits(t.order.Uint64(e.raw[i*8:])))
		case dtFloat:
			out = append(out, float64(math.Float32frombits(t.order.Uint32(e.raw[i*4:]))))
		default:
			return nil
		}
	}
	return out
}

// nodata parses the GDAL_NODATA ASCII tag.
func (t *ifdTags) nodata() *float64 {
	e, ok := t.entries[tagGDALNoData]
	if !ok || e.typ != dtASCII {
		return nil
	}
	s := strings.TrimSpace(strings.TrimRight(string(e.raw), "\x00"))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if strings.EqualFold(s, "nan") {
			v = math.NaN()
		} else {
			return nil
		}
	}
	return &v
}

// bounds derives the geographic rectangle from either the pixel scale and
// tiepoint pair or a non-rotated model transformation.
func (t *ifdTags) bounds(width, height int) (orb.Bound, error) {
	var xmin, ymax, sx, sy float64

	if m := t.doubles(tagModelTransformation); len(m) >= 16 {
		if m[1] != 0 || m[4] != 0 {
			return orb.Bound{}, errRotated
		}
		sx, sy = m[0], -m[5]
		xmin, ymax = m[3], m[7]
	} else {
		scale := t.doubles(tagModelPixelScale)
		tie := t.doubles(tagModelTiepoint)
		if len(scale) < 2 || len(tie) < 6 {
			return orb.Bound{}, errNoGeoref
		}
		sx, sy = scale[0], scale[1]
		xmin = tie[3] - tie[0]*sx
		ymax = tie[4] + tie[1]*sy
	}

	if !(sx > 0) || !(sy > 0) {
		return orb.Bound{}, errBadScale
	}

	return orb.Bound{
		Min: orb.Point{xmin, ymax - float64(height)*sy},
		Max: orb.Point{xmin + float64(width)*sx, ymax},
	}, nil
}
