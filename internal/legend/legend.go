// Package legend renders the legend panel for the active raster overlay.
package legend

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/templates"
)

// Mode is the legend selector: none, or one of the raster kinds.
type Mode string

const (
	None Mode = ""
	NDVI Mode = Mode(classify.NDVI)
	LST  Mode = Mode(classify.LST)
)

// ModeFor returns the legend mode for a raster kind.
func ModeFor(kind classify.Kind) Mode { return Mode(kind) }

// ParseMode accepts "none" or a raster kind.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "none" {
		return None, nil
	}
	k, err := classify.ParseKind(s)
	if err != nil {
		return None, err
	}
	return ModeFor(k), nil
}

func (m Mode) String() string {
	if m == None {
		return "none"
	}
	return string(m)
}

// HintNone is shown when no raster overlay is active.
const HintNone = "Turn on NDVI/LST to see legend."

// Row is one swatch and label.
type Row struct {
	Code  int    `json:"code" doc:"Class code"`
	Color string `json:"color" doc:"Swatch color (CSS hex)" example:"#21918c"`
	Label string `json:"label" doc:"Row label" example:"Class 3: 0.30 – 0.50"`
}

// View is the presentational description of the legend panel.
type View struct {
	Mode  string `json:"mode" enum:"none,ndvi,lst" doc:"Legend mode"`
	Title string `json:"title,omitempty" doc:"Legend title"`
	Rows  []Row  `json:"rows" doc:"Swatch rows, one per class"`
	Hint  string `json:"hint" doc:"Caption shown under the rows"`
}

// Render describes the legend for mode. It reads the classifier tables so
// the swatches always match the overlay pixels.
func Render(mode Mode) View {
	l, ok := classify.LegendFor(classify.Kind(mode))
	if mode == None || !ok {
		return View{Mode: None.String(), Rows: []Row{}, Hint: HintNone}
	}
	v := View{
		Mode:  mode.String(),
		Title: l.Title,
		Rows:  make([]Row, 0, len(l.Classes)),
		Hint:  l.Caption,
	}
	for _, c := range l.Classes {
		v.Rows = append(v.Rows, Row{
			Code:  c.Code,
			Color: c.Hex,
			Label: fmt.Sprintf("Class %d: %s", c.Code, c.Label),
		})
	}
	return v
}

// HTML renders the view with the "legend" fragment template.
func HTML(r *templates.Renderer, v View) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToBuffer(&buf, "legend", v); err != nil {
		return "", err
	}
	return buf.String(), nil
}
