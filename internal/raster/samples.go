package raster

import (
	"bytes"
	"compress/zlib"
	"io"
	"math"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff/lzw"
)

// Layout tags for reading strips and tiles directly.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagCompression     = 259
	tagStripOffsets    = 273
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
)

const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946
	predictorNone         = 1
	predictorHorizontal   = 2
	sampleFormatSigned    = 2
	sampleFormatIEEEFloat = 3
	maxSamples            = 1 << 28
)

// sampleReader reads one sample from a decompressed chunk.
type sampleReader func(b []byte) float64

// sampleReaderFor returns the reader for a signed or floating point sample
// layout, or nil when the combination is not supported.
func (t *ifdTags) sampleReaderFor(format, bits uint) sampleReader {
	o := t.order
	switch {
	case format == sampleFormatSigned && bits == 8:
		return func(b []byte) float64 { return float64(int8(b[0])) }
	case format == sampleFormatSigned && bits == 16:
		return func(b []byte) float64 { return float64(int16(o.Uint16(b))) }
	case format == sampleFormatSigned && bits == 32:
		return func(b []byte) float64 { return float64(int32(o.Uint32(b))) }
	case format == sampleFormatIEEEFloat && bits == 32:
		return func(b []byte) float64 { return float64(math.Float32frombits(o.Uint32(b))) }
	case format == sampleFormatIEEEFloat && bits == 64:
		return func(b []byte) float64 { return math.Float64frombits(o.Uint64(b)) }
	}
	return nil
}

// numbers returns every value of a SHORT or LONG array tag.
func (t *ifdTags) numbers(tag uint16) []uint {
	e, ok := t.entries[tag]
	if !ok {
		return nil
	}
	out := make([]uint, 0, e.count)
	for i := uint32(0); i < e.count; i++ {
		switch e.typ {
		case dtShort:
			out = append(out, uint(t.order.Uint16(e.raw[i*2:])))
		case dtLong:
			out = append(out, uint(t.order.Uint32(e.raw[i*4:])))
		default:
			return nil
		}
	}
	return out
}

// signedOrFloatBand reads the strips or tiles of a signed integer or
// floating point raster. x/image/tiff only decodes unsigned samples, so these
// layouts are walked from the directory.
func (t *ifdTags) signedOrFloatBand(data []byte, format, bits uint) (band [][]float64, w, h int, err error) {
	read := t.sampleReaderFor(format, bits)
	if read == nil {
		return nil, 0, 0, eris.Errorf("%d-bit samples in format %d are not supported", bits, format)
	}
	bps := int(bits / 8)

	w, h = int(t.number(tagImageWidth, 0)), int(t.number(tagImageLength, 0))
	if w <= 0 || h <= 0 || w*h > maxSamples {
		return nil, 0, 0, eris.Errorf("invalid image size %dx%d", w, h)
	}

	predictor := t.number(tagPredictor, predictorNone)
	if predictor != predictorNone && !(predictor == predictorHorizontal && format == sampleFormatSigned) {
		return nil, 0, 0, eris.Errorf("predictor %d is not supported for sample format %d", predictor, format)
	}

	// Strips are tiles as wide as the image.
	cw, ch := w, int(t.number(tagRowsPerStrip, uint(h)))
	offsets, counts := t.numbers(tagStripOffsets), t.numbers(tagStripByteCounts)
	tiled := false
	if _, ok := t.entries[tagTileWidth]; ok {
		cw, ch = int(t.number(tagTileWidth, 0)), int(t.number(tagTileLength, 0))
		offsets, counts = t.numbers(tagTileOffsets), t.numbers(tagTileByteCounts)
		tiled = true
	}
	if cw <= 0 || ch <= 0 {
		return nil, 0, 0, eris.Errorf("invalid chunk size %dx%d", cw, ch)
	}
	ch = min(ch, h)

	across, down := (w+cw-1)/cw, (h+ch-1)/ch
	if len(offsets) < across*down || len(counts) < len(offsets) {
		return nil, 0, 0, eris.Errorf("expected %d chunks, directory lists %d offsets and %d byte counts",
			across*down, len(offsets), len(counts))
	}

	band = make([][]float64, h)
	for y := range band {
		band[y] = make([]float64, w)
	}

	compression := t.number(tagCompression, compressionNone)
	for i := 0; i < across*down; i++ {
		x0, y0 := (i%across)*cw, (i/across)*ch
		rows := ch
		if !tiled {
			rows = min(ch, h-y0)
		}

		off, n := uint64(offsets[i]), uint64(counts[i])
		if off+n > uint64(len(data)) {
			return nil, 0, 0, errShort
		}
		buf, err := decompress(data[off:off+n], compression)
		if err != nil {
			return nil, 0, 0, eris.Wrapf(err, "chunk %d", i)
		}
		rowBytes := cw * bps
		if len(buf) < rows*rowBytes {
			return nil, 0, 0, eris.Wrapf(errShort, "chunk %d holds %d bytes, want %d", i, len(buf), rows*rowBytes)
		}
		if predictor == predictorHorizontal && compression == compressionNone {
			// the predictor is undone in place; leave the caller's bytes alone
			buf = bytes.Clone(buf)
		}

		for r := 0; r < rows; r++ {
			row := buf[r*rowBytes : (r+1)*rowBytes]
			if predictor == predictorHorizontal {
				t.undoHorizontal(row, bps)
			}
			y := y0 + r
			if y >= h {
				break
			}
			for c := 0; c < cw && x0+c < w; c++ {
				band[y][x0+c] = read(row[c*bps:])
			}
		}
	}
	return band, w, h, nil
}

func decompress(raw []byte, compression uint) ([]byte, error) {
	switch compression {
	case compressionNone:
		return raw, nil
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		return io.ReadAll(rc)
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, eris.Wrap(err, "deflate")
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return nil, eris.Errorf("compression %d is not supported", compression)
}

// undoHorizontal reverses TIFF predictor 2 in place for one row.
func (t *ifdTags) undoHorizontal(row []byte, bps int) {
	o := t.order
	for i := bps; i+bps <= len(row); i += bps {
		switch bps {
		case 1:
			row[i] += row[i-1]
		case 2:
			o.PutUint16(row[i:], o.Uint16(row[i:])+o.Uint16(row[i-2:]))
		case 4:
			o.PutUint32(row[i:], o.Uint32(row[i:])+o.Uint32(row[i-4:]))
		}
	}
}
