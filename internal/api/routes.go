// Package api defines the Huma API routes and handlers.
package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/uhi-map/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Sessions *service.SessionService
	Data     *service.DataService
	Files    *service.FileService
}

// Types

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	if svc == nil {
		svc = &Services{}
	}
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterSources registers the data file listing.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("data"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []service.DataFile }, error) {
	if h.svc.Files == nil {
		return &struct{ Body []service.DataFile }{Body: []service.DataFile{}}, nil
	}
	files, err := h.svc.Files.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list data files", err)
	}
	return &struct{ Body []service.DataFile }{Body: files}, nil
}
