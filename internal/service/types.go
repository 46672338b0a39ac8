// Package service contains the viewer sessions and the shared data they read.
package service

import (
	"time"

	"github.com/joeblew999/uhi-map/internal/legend"
)

// Bounds is a geographic rectangle in the raster's coordinate system.
type Bounds struct {
	XMin float64 `json:"xmin" doc:"West edge" example:"19.32"`
	YMin float64 `json:"ymin" doc:"South edge" example:"51.68"`
	XMax float64 `json:"xmax" doc:"East edge" example:"19.64"`
	YMax float64 `json:"ymax" doc:"North edge" example:"51.86"`
}

// Leaflet returns [[south, west], [north, east]].
func (b Bounds) Leaflet() [2][2]float64 {
	return [2][2]float64{{b.YMin, b.XMin}, {b.YMax, b.XMax}}
}

// OverlayView is the UI state of one raster kind.
type OverlayView struct {
	Kind       string  `json:"kind" enum:"ndvi,lst" doc:"Raster kind"`
	Checked    bool    `json:"checked" doc:"Checkbox state"`
	Opacity    float64 `json:"opacity" doc:"Slider value"`
	RowVisible bool    `json:"rowVisible" doc:"Whether the opacity row is shown"`
	Active     bool    `json:"active" doc:"Whether the overlay is on the map"`
	Loading    bool    `json:"loading" doc:"Whether a load is in flight"`
}

// ViewSnapshot is a copy of everything the manager has pushed to the UI.
type ViewSnapshot struct {
	Overlays []OverlayView `json:"overlays" doc:"Per-kind UI state in display order"`
	Legend   legend.View   `json:"legend" doc:"Legend panel"`
	Error    string        `json:"error,omitempty" doc:"Last load failure shown to the user"`
}

// Overlay returns the entry for kind.
func (v ViewSnapshot) Overlay(kind string) (OverlayView, bool) {
	for _, o := range v.Overlays {
		if o.Kind == kind {
			return o, true
		}
	}
	return OverlayView{}, false
}

// PlacedLayer describes an image on the map.
type PlacedLayer struct {
	ID          string  `json:"id" doc:"Layer ID" example:"ndvi-3"`
	Kind        string  `json:"kind" enum:"ndvi,lst" doc:"Raster kind"`
	Width       int     `json:"width" doc:"Image width in pixels"`
	Height      int     `json:"height" doc:"Image height in pixels"`
	Bounds      Bounds  `json:"bounds" doc:"Geographic bounds"`
	Opacity     float64 `json:"opacity" doc:"Current opacity"`
	Interactive bool    `json:"interactive" doc:"Always false: overlays do not capture pointer events"`
	ImageURL    string  `json:"imageUrl" doc:"PNG URL"`
	ThumbURL    string  `json:"thumbUrl" doc:"Thumbnail PNG URL"`
}

// FitRequest is the last viewport fit asked of the map.
type FitRequest struct {
	Bounds  Bounds `json:"bounds"`
	Padding [2]int `json:"padding" doc:"Padding in pixels, x then y"`
}

// MapSnapshot is a copy of the map surface state.
type MapSnapshot struct {
	Layers []PlacedLayer `json:"layers" doc:"Placed overlay images"`
	Fit    *FitRequest   `json:"fit,omitempty" doc:"Last fit request"`
}

// SessionSnapshot is the full state of a viewer session.
type SessionSnapshot struct {
	ID        string       `json:"id" doc:"Session ID" format:"uuid"`
	Mode      string       `json:"mode" enum:"none,ndvi,lst" doc:"Active overlay"`
	View      ViewSnapshot `json:"view"`
	Map       MapSnapshot  `json:"map"`
	CreatedAt time.Time    `json:"createdAt"`
	LastSeen  time.Time    `json:"lastSeen"`
}

// DataFile represents a file in the data directory.
type DataFile struct {
	Name     string `json:"name" doc:"File name" example:"lodz_grid.geojson"`
	Size     string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	FileType string `json:"fileType" doc:"File type" example:"GeoJSON"`
}
