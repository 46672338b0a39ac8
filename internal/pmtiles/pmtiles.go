// Package pmtiles writes single-directory PMTiles v3 archives.
//
// Only the writer side is implemented: a clustered archive with one gzip
// root directory, gzip metadata and no leaf directories, which is enough
// for the analysis grid of one city.
//
// Format: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"io"
	"sort"

	"github.com/rotisserie/eris"
)

// Compression is the compression applied to directories, metadata or tiles.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
)

// TileType is the format of the tile contents.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt             TileType = 1
	Png             TileType = 2
)

// HeaderLen is the size of the fixed binary header.
const HeaderLen = 127

const magic = "PMTiles"

// Header is the PMTiles v3 header.
type Header struct {
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafOffset          uint64
	LeafLength          uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTiles      uint64
	TileEntries         uint64
	TileContents        uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// Bytes encodes h little-endian.
func (h Header) Bytes() []byte {
	b := make([]byte, 0, HeaderLen)
	b = append(b, magic...)
	b = append(b, 3)
	for _, v := range []uint64{
		h.RootOffset, h.RootLength,
		h.MetadataOffset, h.MetadataLength,
		h.LeafOffset, h.LeafLength,
		h.TileDataOffset, h.TileDataLength,
		h.AddressedTiles, h.TileEntries, h.TileContents,
	} {
		b = binary.LittleEndian.AppendUint64(b, v)
	}
	var clustered byte
	if h.Clustered {
		clustered = 1
	}
	b = append(b, clustered, byte(h.InternalCompression), byte(h.TileCompression), byte(h.TileType), h.MinZoom, h.MaxZoom)
	for _, v := range []int32{h.MinLonE7, h.MinLatE7, h.MaxLonE7, h.MaxLatE7} {
		b = binary.LittleEndian.AppendUint32(b, uint32(v))
	}
	b = append(b, h.CenterZoom)
	b = binary.LittleEndian.AppendUint32(b, uint32(h.CenterLonE7))
	b = binary.LittleEndian.AppendUint32(b, uint32(h.CenterLatE7))
	return b
}

// ReadHeader decodes the header at the start of d.
func ReadHeader(d []byte) (Header, error) {
	var h Header
	if len(d) < HeaderLen {
		return h, eris.New("pmtiles: short header")
	}
	if string(d[:7]) != magic {
		return h, eris.New("pmtiles: bad magic")
	}
	if d[7] != 3 {
		return h, eris.Errorf("pmtiles: unsupported version %d", d[7])
	}
	u64 := func(off int) uint64 { return binary.LittleEndian.Uint64(d[off:]) }
	i32 := func(off int) int32 { return int32(binary.LittleEndian.Uint32(d[off:])) }

	h.RootOffset, h.RootLength = u64(8), u64(16)
	h.MetadataOffset, h.MetadataLength = u64(24), u64(32)
	h.LeafOffset, h.LeafLength = u64(40), u64(48)
	h.TileDataOffset, h.TileDataLength = u64(56), u64(64)
	h.AddressedTiles, h.TileEntries, h.TileContents = u64(72), u64(80), u64(88)
	h.Clustered = d[96] == 1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom, h.MaxZoom = d[100], d[101]
	h.MinLonE7, h.MinLatE7, h.MaxLonE7, h.MaxLatE7 = i32(102), i32(106), i32(110), i32(114)
	h.CenterZoom = d[118]
	h.CenterLonE7, h.CenterLatE7 = i32(119), i32(123)
	return h, nil
}

// TileID maps z/x/y onto the Hilbert curve ordering used by PMTiles.
func TileID(z uint8, x, y uint32) uint64 {
	if z == 0 {
		return 0
	}
	id := (uint64(1)<<(2*uint(z)) - 1) / 3
	n := uint32(1) << (z - 1)
	for s := n; s > 0; s >>= 1 {
		var rx, ry uint32
		if x&s != 0 {
			rx = 1
		}
		if y&s != 0 {
			ry = 1
		}
		id += uint64(s) * uint64(s) * uint64((3*rx)^ry)
		if ry == 0 {
			if rx == 1 {
				x = s - 1 - x
				y = s - 1 - y
			}
			x, y = y, x
		}
	}
	return id
}

// Entry is one directory record.
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// encodeDirectory writes entries column by column as varints, gzipped.
func encodeDirectory(entries []Entry) ([]byte, error) {
	var raw []byte
	raw = binary.AppendUvarint(raw, uint64(len(entries)))

	var last uint64
	for _, e := range entries {
		raw = binary.AppendUvarint(raw, e.TileID-last)
		last = e.TileID
	}
	for _, e := range entries {
		raw = binary.AppendUvarint(raw, uint64(e.RunLength))
	}
	for _, e := range entries {
		raw = binary.AppendUvarint(raw, uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			raw = binary.AppendUvarint(raw, 0)
			continue
		}
		raw = binary.AppendUvarint(raw, e.Offset+1)
	}
	return gzipBytes(raw)
}

func gzipBytes(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(p); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Tile is one encoded tile to archive.
type Tile struct {
	Z    uint8
	X, Y uint32
	Data []byte
}

// Archive describes the archive being written.
type Archive struct {
	TileType        TileType
	TileCompression Compression
	MinZoom         uint8
	MaxZoom         uint8
	// Bounds in degrees: west, south, east, north.
	Bounds   [4]float64
	Metadata map[string]any
}

// Write writes tiles as a clustered archive to w.
func Write(w io.Writer, a Archive, tiles []Tile) error {
	if len(tiles) == 0 {
		return eris.New("pmtiles: no tiles to write")
	}

	sorted := make([]Tile, len(tiles))
	copy(sorted, tiles)
	sort.Slice(sorted, func(i, j int) bool {
		return TileID(sorted[i].Z, sorted[i].X, sorted[i].Y) < TileID(sorted[j].Z, sorted[j].X, sorted[j].Y)
	})

	entries := make([]Entry, 0, len(sorted))
	var data bytes.Buffer
	for _, t := range sorted {
		entries = append(entries, Entry{
			TileID:    TileID(t.Z, t.X, t.Y),
			Offset:    uint64(data.Len()),
			Length:    uint32(len(t.Data)),
			RunLength: 1,
		})
		data.Write(t.Data)
	}

	root, err := encodeDirectory(entries)
	if err != nil {
		return eris.Wrap(err, "pmtiles: encode directory")
	}
	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return eris.Wrap(err, "pmtiles: encode metadata")
	}
	meta, err := gzipBytes(metaJSON)
	if err != nil {
		return eris.Wrap(err, "pmtiles: compress metadata")
	}

	e7 := func(deg float64) int32 { return int32(deg * 1e7) }
	h := Header{
		RootOffset:          HeaderLen,
		RootLength:          uint64(len(root)),
		MetadataOffset:      HeaderLen + uint64(len(root)),
		MetadataLength:      uint64(len(meta)),
		TileDataOffset:      HeaderLen + uint64(len(root)) + uint64(len(meta)),
		TileDataLength:      uint64(data.Len()),
		AddressedTiles:      uint64(len(entries)),
		TileEntries:         uint64(len(entries)),
		TileContents:        uint64(len(entries)),
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     a.TileCompression,
		TileType:            a.TileType,
		MinZoom:             a.MinZoom,
		MaxZoom:             a.MaxZoom,
		MinLonE7:            e7(a.Bounds[0]),
		MinLatE7:            e7(a.Bounds[1]),
		MaxLonE7:            e7(a.Bounds[2]),
		MaxLatE7:            e7(a.Bounds[3]),
		CenterZoom:          a.MinZoom,
		CenterLonE7:         e7((a.Bounds[0] + a.Bounds[2]) / 2),
		CenterLatE7:         e7((a.Bounds[1] + a.Bounds[3]) / 2),
	}

	for _, part := range [][]byte{h.Bytes(), root, meta, data.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return eris.Wrap(err, "pmtiles: write")
		}
	}
	return nil
}
