package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/uhi-map/internal/classify"
)

// Version is reported by /health and /api/v1/info.
const Version = "1.0.0"

type InfoHandler struct {
	dataDir string
	dbOK    bool
}

func NewInfoHandler(dataDir string, dbOK bool) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, dbOK: dbOK}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	DB       bool     `json:"db" doc:"Whether database is available"`
	Kinds    []string `json:"kinds" doc:"Raster overlay kinds"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	kinds := make([]string, len(classify.Kinds))
	for i, k := range classify.Kinds {
		kinds[i] = string(k)
	}
	features := []string{"geotiff", "geojson", "grid-stats", "datastar"}
	if h.dbOK {
		features = append(features, "duckdb")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "uhi-map",
		Version:  Version,
		DataDir:  h.dataDir,
		DB:       h.dbOK,
		Kinds:    kinds,
		Features: features,
	}}, nil
}
