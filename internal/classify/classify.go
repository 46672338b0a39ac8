// Package classify holds the fixed class-code legends for the vegetation-index
// (NDVI) and land-surface-temperature (LST) rasters.
//
// Each legend is a single table of code, color and range label. Pixel
// coloring, the grid fill and the legend panel all read from these tables.
package classify

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// Kind selects a legend.
type Kind string

const (
	NDVI Kind = "ndvi"
	LST  Kind = "lst"
)

// Kinds lists every raster kind in display order.
var Kinds = []Kind{NDVI, LST}

// ErrUnknownKind is returned when a kind string does not name a legend.
var ErrUnknownKind = errors.New("unknown raster kind")

// ParseKind converts a request value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case NDVI:
		return NDVI, nil
	case LST:
		return LST, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Label is the short human name used in notifications.
func (k Kind) Label() string {
	switch k {
	case NDVI:
		return "NDVI"
	case LST:
		return "LST"
	}
	return string(k)
}

// Class is one legend entry.
type Class struct {
	Code  int        `json:"code" doc:"Integer class code"`
	Hex   string     `json:"color" doc:"Display color (CSS hex)" example:"#440154"`
	Label string     `json:"label" doc:"Human readable range"`
	RGBA  color.RGBA `json:"-"`
}

// Legend is the code to color and label table for one raster kind.
type Legend struct {
	Kind    Kind
	Title   string
	Caption string
	Classes []Class
}

var legends = map[Kind]Legend{
	NDVI: {
		Kind:    NDVI,
		Title:   "NDVI classes (raster)",
		Caption: "0 / NoData = transparent",
		Classes: []Class{
			newClass(1, "#440154", "< 0.10"),
			newClass(2, "#3b528b", "0.10 – 0.30"),
			newClass(3, "#21918c", "0.30 – 0.50"),
			newClass(4, "#5ec962", "0.50 – 0.70"),
			newClass(5, "#fde725", "≥ 0.70"),
		},
	},
	LST: {
		Kind:    LST,
		Title:   "LST classes (raster)",
		Caption: "Other values / NoData = transparent",
		// Code 1 is outside the classification scheme, not "coolest".
		Classes: []Class{
			newClass(2, "#2c7bb6", "Coolest areas"),
			newClass(3, "#abd9e9", "Moderately cool"),
			newClass(4, "#fdae61", "Hot"),
			newClass(5, "#d7191c", "Hottest areas"),
		},
	},
}

func newClass(code int, hex, label string) Class {
	c, err := ParseHex(hex)
	if err != nil {
		panic(err)
	}
	return Class{Code: code, Hex: hex, Label: label, RGBA: c}
}

// LegendFor returns the legend table for kind.
func LegendFor(kind Kind) (Legend, bool) {
	l, ok := legends[kind]
	return l, ok
}

// Lookup returns the class entry for an integer code.
func Lookup(kind Kind, code int) (Class, bool) {
	l, ok := legends[kind]
	if !ok {
		return Class{}, false
	}
	for _, c := range l.Classes {
		if c.Code == code {
			return c, true
		}
	}
	return Class{}, false
}

// ClassColor maps a class code to an opaque color. Codes that are not integers,
// not finite, zero, or outside the legend report false.
func ClassColor(kind Kind, code float64) (color.RGBA, bool) {
	if math.IsNaN(code) || math.IsInf(code, 0) || code != math.Trunc(code) || code == 0 {
		return color.RGBA{}, false
	}
	c, ok := Lookup(kind, int(code))
	if !ok {
		return color.RGBA{}, false
	}
	return c.RGBA, true
}

// ClassHex is ClassColor for CSS consumers.
func ClassHex(kind Kind, code float64) (string, bool) {
	if math.IsNaN(code) || math.IsInf(code, 0) || code != math.Trunc(code) || code == 0 {
		return "", false
	}
	c, ok := Lookup(kind, int(code))
	if !ok {
		return "", false
	}
	return c.Hex, true
}

// NDVI class thresholds, highest first.
var ndviThresholds = []struct {
	min  float64
	code int
}{
	{0.70, 5},
	{0.50, 4},
	{0.30, 3},
	{0.10, 2},
}

// NDVIClass buckets a continuous NDVI value into the raster class codes.
// Non-finite values map to 0, the background code.
func NDVIClass(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	for _, t := range ndviThresholds {
		if v >= t.min {
			return t.code
		}
	}
	return 1
}

// ParseHex parses a #rrggbb color.
func ParseHex(hex string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", hex)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
