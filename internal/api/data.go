package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/uhi-map/internal/gridstats"
	"github.com/joeblew999/uhi-map/internal/humastar"
	"github.com/joeblew999/uhi-map/internal/raster"
	"github.com/joeblew999/uhi-map/internal/tiler"
)

type CellInput struct {
	ID string `path:"id" doc:"Grid cell OBJECTID_1" example:"42"`
}

type TileInput struct {
	Z uint32 `path:"z" maximum:"22" doc:"Zoom level" example:"12"`
	X uint32 `path:"x" doc:"Tile column" example:"2267"`
	Y uint32 `path:"y" doc:"Tile row" example:"1370"`
}

// TileOutput is a gzipped vector tile; empty tiles are 204 with no body.
type TileOutput struct {
	Status          int
	ContentType     string `header:"Content-Type"`
	ContentEncoding string `header:"Content-Encoding"`
	CacheControl    string `header:"Cache-Control"`
	Body            []byte
}

// CellBody is one joined grid cell with the path styles the map applies.
type CellBody struct {
	gridstats.Cell
	Style      gridstats.Style `json:"style" doc:"Path style"`
	HoverStyle gridstats.Style `json:"hoverStyle" doc:"Path style while hovered"`
}

func cellBody(c gridstats.Cell) CellBody {
	return CellBody{Cell: c, Style: c.Style(), HoverStyle: gridstats.HoverStyle}
}

// RegisterData registers the vector layer routes.
func (h *APIHandler) RegisterData(api huma.API) {
	huma.Get(api, "/api/v1/city", h.GetCity, huma.OperationTags("data"))
	huma.Get(api, "/api/v1/grid", h.GetGrid, huma.OperationTags("data"))
	huma.Get(api, "/api/v1/grid/cells", h.ListCells, huma.OperationTags("data"))
	huma.Get(api, "/api/v1/grid/cells/{id}", h.GetCell, huma.OperationTags("data"))
	huma.Get(api, "/api/v1/grid/tiles/{z}/{x}/{y}", h.GetGridTile, huma.OperationTags("data"))
	huma.Post(api, "/api/v1/data/reload", h.ReloadData, huma.OperationTags("data"))
}

func (h *APIHandler) GetCity(ctx context.Context, input *struct{}) (*struct{ Body *geojson.FeatureCollection }, error) {
	if h.svc.Data == nil {
		return nil, huma.Error503ServiceUnavailable("data not available")
	}
	fc, err := h.svc.Data.City(ctx)
	if err != nil {
		return nil, dataError("Failed to load city boundary", err)
	}
	return &struct{ Body *geojson.FeatureCollection }{Body: fc}, nil
}

// GetGrid returns the grid with ndviClass, ndviMedian, lstMean, style,
// hoverStyle and popup added to every feature's properties.
func (h *APIHandler) GetGrid(ctx context.Context, input *struct{}) (*struct{ Body *geojson.FeatureCollection }, error) {
	if h.svc.Data == nil {
		return nil, huma.Error503ServiceUnavailable("data not available")
	}
	grid, err := h.svc.Data.Grid(ctx)
	if err != nil {
		return nil, dataError("Failed to load grid stats", err)
	}
	return &struct{ Body *geojson.FeatureCollection }{Body: grid.Styled()}, nil
}

func (h *APIHandler) ListCells(ctx context.Context, input *humastar.PageInput) (*struct{ Body humastar.PageBody[CellBody] }, error) {
	if h.svc.Data == nil {
		return nil, huma.Error503ServiceUnavailable("data not available")
	}
	grid, err := h.svc.Data.Grid(ctx)
	if err != nil {
		return nil, dataError("Failed to load grid stats", err)
	}
	page := humastar.Paginate(grid.Cells, input.Offset, input.Limit)
	body := humastar.PageBody[CellBody]{
		Total:  page.Total,
		Offset: page.Offset,
		Limit:  page.Limit,
		Data:   make([]CellBody, len(page.Data)),
	}
	for i, c := range page.Data {
		body.Data[i] = cellBody(c)
	}
	return &struct{ Body humastar.PageBody[CellBody] }{Body: body}, nil
}

func (h *APIHandler) GetCell(ctx context.Context, input *CellInput) (*struct{ Body CellBody }, error) {
	if h.svc.Data == nil {
		return nil, huma.Error503ServiceUnavailable("data not available")
	}
	grid, err := h.svc.Data.Grid(ctx)
	if err != nil {
		return nil, dataError("Failed to load grid stats", err)
	}
	c, ok := grid.Cell(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("grid cell not found")
	}
	return &struct{ Body CellBody }{Body: cellBody(c)}, nil
}

type ReloadBody struct {
	Message  string    `json:"message" doc:"Result message"`
	LoadedAt time.Time `json:"loadedAt" doc:"When the grid was last loaded"`
}

// ReloadData refetches the city and grid. Open viewers are told to redraw
// their vector layers.
func (h *APIHandler) ReloadData(ctx context.Context, input *struct{}) (*struct{ Body ReloadBody }, error) {
	if h.svc.Data == nil {
		return nil, huma.Error503ServiceUnavailable("data not available")
	}
	if err := h.svc.Data.Reload(ctx); err != nil {
		return nil, dataError("Failed to reload data", err)
	}
	return &struct{ Body ReloadBody }{Body: ReloadBody{
		Message:  "Data reloaded",
		LoadedAt: h.svc.Data.LoadedAt(),
	}}, nil
}

// GetGridTile serves the joined grid as Mapbox vector tiles.
func (h *APIHandler) GetGridTile(ctx context.Context, input *TileInput) (*TileOutput, error) {
	if h.svc.Data == nil {
		return nil, huma.Error503ServiceUnavailable("data not available")
	}
	t, err := h.svc.Data.Tiler(ctx)
	if err != nil {
		return nil, dataError("Failed to load grid stats", err)
	}
	data, err := t.Tile(maptile.New(input.X, input.Y, maptile.Zoom(input.Z)))
	switch {
	case errors.Is(err, tiler.ErrZoom):
		return nil, huma.Error404NotFound(err.Error())
	case errors.Is(err, tiler.ErrInvalidTile):
		return nil, huma.Error400BadRequest(err.Error())
	case err != nil:
		return nil, huma.Error500InternalServerError("Failed to encode tile", err)
	}
	if data == nil {
		return &TileOutput{Status: http.StatusNoContent}, nil
	}
	return &TileOutput{
		Status:          http.StatusOK,
		ContentType:     tiler.ContentType,
		ContentEncoding: "gzip",
		CacheControl:    "public, max-age=300",
		Body:            data,
	}, nil
}

func dataError(msg string, err error) error {
	if raster.IsKind(err, raster.FetchFailure) {
		return huma.Error502BadGateway(msg, err)
	}
	return huma.Error500InternalServerError(msg, err)
}
