package gridstats

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/uhi-map/internal/classify"
)

// NoStatsFill is the fill for cells without a classifiable NDVI median.
const NoStatsFill = "rgba(255,255,255,0.06)"

// Style is the Leaflet path style of a grid cell.
type Style struct {
	Color       string  `json:"color"`
	Weight      float64 `json:"weight"`
	DashArray   string  `json:"dashArray,omitempty"`
	FillOpacity float64 `json:"fillOpacity,omitempty"`
	FillColor   string  `json:"fillColor,omitempty"`
}

// HoverStyle is applied while the pointer is over a cell.
var HoverStyle = Style{Weight: 2.3, Color: "rgba(255,255,255,0.9)"}

// Cell is one grid feature with its joined statistics.
type Cell struct {
	ID         string   `json:"id" doc:"Trimmed OBJECTID_1 of the grid feature" example:"42"`
	Matched    bool     `json:"matched" doc:"Whether the statistics table has a row for this cell"`
	NDVIMedian *float64 `json:"ndviMedian,omitempty" doc:"Median NDVI of the cell"`
	LSTMean    *float64 `json:"lstMean,omitempty" doc:"Mean land surface temperature (°C)"`
	Class      int      `json:"class" doc:"NDVI class of the median, 0 when unclassifiable"`
	Fill       string   `json:"fill" doc:"Fill color (CSS)"`
	Popup      string   `json:"popup" doc:"Popup HTML"`
}

// Style returns the path style for the cell.
func (c Cell) Style() Style {
	return Style{
		Color:       "rgba(0,0,0,0.70)",
		Weight:      1.35,
		DashArray:   "2,2",
		FillOpacity: 0.78,
		FillColor:   c.Fill,
	}
}

// FeatureID is the trimmed key property of f as a string.
func FeatureID(f *geojson.Feature, keyColumn string) string {
	if f == nil || f.Properties == nil {
		return ""
	}
	switch v := f.Properties[keyColumn].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// NewCell joins a single cell id against the table.
func NewCell(id string, t *Table) Cell {
	c := Cell{ID: id, Fill: NoStatsFill}
	row, ok := t.Lookup(id)
	if !ok {
		c.Popup = fmt.Sprintf("<b>Grid cell %s</b><div>No CSV stats found.</div>", html.EscapeString(id))
		return c
	}
	c.Matched = true

	ndvi := ParseNumber(row[NDVIColumn])
	lst := ParseNumber(row[LSTColumn])
	if !math.IsNaN(ndvi) {
		c.NDVIMedian = &ndvi
	}
	if !math.IsNaN(lst) {
		c.LSTMean = &lst
	}

	c.Class = classify.NDVIClass(ndvi)
	if hex, ok := classify.ClassHex(classify.NDVI, float64(c.Class)); ok {
		c.Fill = hex
	}

	c.Popup = fmt.Sprintf(
		`<div style="min-width:220px"><div style="font-weight:800;margin-bottom:6px">Grid cell %s</div>`+
			`<div><b>NDVI (median):</b> %s</div><div><b>LST (mean):</b> %s °C</div></div>`,
		html.EscapeString(id), FormatNumber(ndvi, 3), FormatNumber(lst, 2))
	return c
}

// Join pairs every grid feature with its statistics row, in feature order.
func Join(fc *geojson.FeatureCollection, t *Table) []Cell {
	if fc == nil {
		return nil
	}
	cells := make([]Cell, 0, len(fc.Features))
	for _, f := range fc.Features {
		cells = append(cells, NewCell(FeatureID(f, t.KeyColumn), t))
	}
	return cells
}

// Styled returns a copy of fc whose features carry the joined values plus
// "style", "hoverStyle" and "popup" properties.
func Styled(fc *geojson.FeatureCollection, t *Table) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}
	for i, c := range Join(fc, t) {
		src := fc.Features[i]
		f := geojson.NewFeature(src.Geometry)
		f.ID = src.ID
		f.BBox = src.BBox
		f.Properties = src.Properties.Clone()
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		f.Properties["ndviClass"] = c.Class
		if c.NDVIMedian != nil {
			f.Properties["ndviMedian"] = *c.NDVIMedian
		}
		if c.LSTMean != nil {
			f.Properties["lstMean"] = *c.LSTMean
		}
		f.Properties["style"] = c.Style()
		f.Properties["hoverStyle"] = HoverStyle
		f.Properties["popup"] = c.Popup
		out.Append(f)
	}
	return out
}

// ParseNumber reads the leading decimal number in s, ignoring leading
// whitespace and any trailing text. It returns NaN when there is none.
func ParseNumber(s string) float64 {
	s = strings.TrimLeft(s, " \t\r\n")
	end := numberPrefix(s)
	if end == 0 {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// numberPrefix returns the length of the longest prefix of s shaped like
// [+-]digits[.digits][e[+-]digits], or a signed "Infinity".
func numberPrefix(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	if strings.HasPrefix(s[i:], "Infinity") {
		return i + len("Infinity")
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			frac++
		}
		if digits+frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		exp := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			exp++
		}
		if exp > 0 {
			i = j
		}
	}
	return i
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// FormatNumber prints v with a fixed number of decimals, or an em dash when
// v is not finite.
func FormatNumber(v float64, digits int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "—"
	}
	return strconv.FormatFloat(v, 'f', digits, 64)
}
