package api

import (
	"context"
	"math"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/legend"
)

type ModeInput struct {
	Mode string `path:"mode" enum:"none,ndvi,lst" doc:"Legend mode" example:"ndvi"`
}

type KindInput struct {
	Kind string `path:"kind" enum:"ndvi,lst" doc:"Raster kind" example:"ndvi"`
}

type ClassInput struct {
	KindInput
	Code float64 `path:"code" doc:"Class code as stored in the raster" example:"3"`
}

type ClassesBody struct {
	Kind    string           `json:"kind" doc:"Raster kind"`
	Title   string           `json:"title" doc:"Legend title"`
	Caption string           `json:"caption" doc:"Legend caption"`
	Classes []classify.Class `json:"classes" doc:"Class table in legend order"`
}

// RegisterLegend registers the legend and classifier routes.
func (h *APIHandler) RegisterLegend(api huma.API) {
	huma.Get(api, "/api/v1/legend/{mode}", h.GetLegend, huma.OperationTags("legend"))
	huma.Get(api, "/api/v1/classes/{kind}", h.GetClasses, huma.OperationTags("legend"))
	huma.Get(api, "/api/v1/classes/{kind}/{code}", h.GetClass, huma.OperationTags("legend"))
}

func (h *APIHandler) GetLegend(ctx context.Context, input *ModeInput) (*struct{ Body legend.View }, error) {
	mode, err := legend.ParseMode(input.Mode)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &struct{ Body legend.View }{Body: legend.Render(mode)}, nil
}

func (h *APIHandler) GetClasses(ctx context.Context, input *KindInput) (*struct{ Body ClassesBody }, error) {
	l, ok := classify.LegendFor(classify.Kind(input.Kind))
	if !ok {
		return nil, huma.Error404NotFound("unknown raster kind")
	}
	return &struct{ Body ClassesBody }{Body: ClassesBody{
		Kind:    string(l.Kind),
		Title:   l.Title,
		Caption: l.Caption,
		Classes: l.Classes,
	}}, nil
}

// GetClass probes the classifier: codes without a color are 404.
func (h *APIHandler) GetClass(ctx context.Context, input *ClassInput) (*struct{ Body classify.Class }, error) {
	kind := classify.Kind(input.Kind)
	if _, ok := classify.ClassHex(kind, input.Code); !ok {
		return nil, huma.Error404NotFound("no color for this class code")
	}
	c, _ := classify.Lookup(kind, int(math.Trunc(input.Code)))
	return &struct{ Body classify.Class }{Body: c}, nil
}
