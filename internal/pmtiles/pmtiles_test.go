package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileID(t *testing.T) {
	assert.Equal(t, uint64(0), TileID(0, 0, 0))
	assert.Equal(t, uint64(1), TileID(1, 0, 0))
	assert.Equal(t, uint64(2), TileID(1, 0, 1))
	assert.Equal(t, uint64(3), TileID(1, 1, 1))
	assert.Equal(t, uint64(4), TileID(1, 1, 0))
	assert.Equal(t, uint64(5), TileID(2, 0, 0))
	assert.Equal(t, uint64(20), TileID(2, 3, 0))
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		RootOffset: HeaderLen, RootLength: 10, TileDataLength: 99,
		Clustered: true, InternalCompression: Gzip, TileCompression: Gzip, TileType: Mvt,
		MinZoom: 8, MaxZoom: 14, MinLonE7: 193000000, MaxLatE7: 519000000, CenterLatE7: -1,
	}
	b := h.Bytes()
	require.Len(t, b, HeaderLen)

	got, err := ReadHeader(b)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = ReadHeader(b[:20])
	assert.Error(t, err)
	_, err = ReadHeader(append([]byte("NotPMT"), b[6:]...))
	assert.Error(t, err)
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, Archive{
		TileType:        Mvt,
		TileCompression: Gzip,
		MinZoom:         1,
		MaxZoom:         1,
		Bounds:          [4]float64{19.3, 51.6, 19.7, 51.9},
		Metadata:        map[string]any{"name": "grid"},
	}, []Tile{
		{Z: 1, X: 1, Y: 0, Data: []byte("bb")},
		{Z: 1, X: 0, Y: 0, Data: []byte("a")},
	})
	require.NoError(t, err)

	d := buf.Bytes()
	h, err := ReadHeader(d)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.TileEntries)
	assert.Equal(t, int32(193000000), h.MinLonE7)

	// tiles are laid out in TileID order
	data := d[h.TileDataOffset : h.TileDataOffset+h.TileDataLength]
	assert.Equal(t, "abb", string(data))

	zr, err := gzip.NewReader(bytes.NewReader(d[h.MetadataOffset : h.MetadataOffset+h.MetadataLength]))
	require.NoError(t, err)
	meta, err := io.ReadAll(zr)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(meta, &m))
	assert.Equal(t, "grid", m["name"])

	assert.Error(t, Write(&buf, Archive{}, nil))
}
