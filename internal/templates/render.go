// Package templates renders the HTML fragments patched into the viewer page.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"path/filepath"
	"sync"
)

//go:embed fragments/*.html
var embedded embed.FS

var funcMap = template.FuncMap{
	// pct formats an opacity in [0,1] as a whole percentage.
	"pct": func(v float64) string {
		return fmt.Sprintf("%.0f%%", v*100)
	},
	// css marks a palette color as safe for style attributes.
	"css": func(s string) template.CSS {
		return template.CSS(s)
	},
}

// Renderer holds the parsed fragment set.
type Renderer struct {
	mu        sync.RWMutex
	templates *template.Template
}

// Default returns a renderer over the fragments compiled into the binary.
func Default() (*Renderer, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(embedded, "fragments/*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

// Override parses every *.html in dir on top of the current set. A file
// defining "legend" replaces only the legend; the other fragments stay.
// It reports how many files were read.
func (r *Renderer) Override(dir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil || len(files) == 0 {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	tmpl, err := r.templates.Clone()
	if err != nil {
		return 0, err
	}
	if _, err := tmpl.ParseFiles(files...); err != nil {
		return 0, err
	}
	r.templates = tmpl
	return len(files), nil
}

// Render renders a named fragment to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToBuffer(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer renders a named fragment into buf.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates.ExecuteTemplate(buf, name, data)
}
