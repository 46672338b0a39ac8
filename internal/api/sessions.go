package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/humastar"
	"github.com/joeblew999/uhi-map/internal/overlay"
	"github.com/joeblew999/uhi-map/internal/raster"
	"github.com/joeblew999/uhi-map/internal/service"
)

type SessionInput struct {
	ID string `path:"id" format:"uuid" doc:"Session ID"`
}

type OverlayInput struct {
	SessionInput
	Kind string `path:"kind" enum:"ndvi,lst" doc:"Raster kind" example:"ndvi"`
}

type OpacityInput struct {
	OverlayInput
	Body struct {
		Opacity float64 `json:"opacity" doc:"Overlay opacity; not clamped" example:"0.5"`
	}
}

type LayerInput struct {
	SessionInput
	Layer string `path:"layer" doc:"Layer ID" example:"ndvi-1"`
}

type ImageOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

// SessionBody is a session snapshot with its available overlay actions.
type SessionBody struct {
	service.SessionSnapshot
}

var (
	toggleOn  = humastar.ActionDef{Rel: "toggle-on", Pattern: "/api/v1/sessions/%s/overlays/%s", Method: "POST"}
	toggleOff = humastar.ActionDef{Rel: "toggle-off", Pattern: "/api/v1/sessions/%s/overlays/%s", Method: "DELETE"}
	opacity   = humastar.ActionDef{Rel: "opacity", Pattern: "/api/v1/sessions/%s/overlays/%s/opacity", Method: "PUT"}
)

// Actions offers toggle-on for each inactive kind and toggle-off for the
// active one.
func (b SessionBody) Actions() []humastar.Action {
	var actions []humastar.Action
	for _, o := range b.View.Overlays {
		label := classify.Kind(o.Kind).Label()
		if o.Active {
			a := toggleOff.For(b.ID, o.Kind)
			a.Title = "Hide " + label
			actions = append(actions, a)
		} else {
			a := toggleOn.For(b.ID, o.Kind)
			a.Title = "Show " + label
			actions = append(actions, a)
		}
		a := opacity.For(b.ID, o.Kind)
		a.Title = "Set " + label + " opacity"
		actions = append(actions, a)
	}
	return actions
}

// RegisterSessions registers viewer session routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        "POST",
		Path:          "/api/v1/sessions",
		Summary:       "Create a viewer session",
		Tags:          []string{"sessions"},
		DefaultStatus: 201,
	}, h.CreateSession)
	huma.Get(api, "/api/v1/sessions/{id}", h.GetSession, huma.OperationTags("sessions"))
	huma.Delete(api, "/api/v1/sessions/{id}", h.DeleteSession, huma.OperationTags("sessions"))

	huma.Post(api, "/api/v1/sessions/{id}/overlays/{kind}", h.ToggleOn, huma.OperationTags("overlays"))
	huma.Delete(api, "/api/v1/sessions/{id}/overlays/{kind}", h.ToggleOff, huma.OperationTags("overlays"))
	huma.Put(api, "/api/v1/sessions/{id}/overlays/{kind}/opacity", h.SetOpacity, huma.OperationTags("overlays"))

	huma.Get(api, "/api/v1/sessions/{id}/layers/{layer}", h.GetLayerImage, huma.OperationTags("overlays"))
	huma.Get(api, "/api/v1/sessions/{id}/layers/{layer}/thumb", h.GetLayerThumb, huma.OperationTags("overlays"))
}

func (h *APIHandler) session(id string) (*service.Session, error) {
	if h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("sessions not available")
	}
	sess, err := h.svc.Sessions.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return sess, nil
}

func sessionOutput(sess *service.Session) *struct{ Body SessionBody } {
	return &struct{ Body SessionBody }{Body: SessionBody{sess.Snapshot()}}
}

func (h *APIHandler) CreateSession(ctx context.Context, input *struct{}) (*struct{ Body SessionBody }, error) {
	if h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("sessions not available")
	}
	return sessionOutput(h.svc.Sessions.Create()), nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *SessionInput) (*struct{ Body SessionBody }, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return sessionOutput(sess), nil
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionInput) (*struct{ Body MessageBody }, error) {
	if h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("sessions not available")
	}
	if err := h.svc.Sessions.Delete(input.ID); err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Session ended"}}, nil
}

// ToggleOn loads the overlay and returns once it is on the map or the load
// failed. A failed load leaves the session with no overlay.
func (h *APIHandler) ToggleOn(ctx context.Context, input *OverlayInput) (*struct{ Body SessionBody }, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	kind := classify.Kind(input.Kind)
	if err := sess.Manager.ToggleOn(ctx, kind); err != nil {
		return nil, overlayError(kind, err)
	}
	return sessionOutput(sess), nil
}

func (h *APIHandler) ToggleOff(ctx context.Context, input *OverlayInput) (*struct{ Body SessionBody }, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	kind := classify.Kind(input.Kind)
	sess.View.SetChecked(kind, false)
	sess.Manager.ToggleOff(kind)
	return sessionOutput(sess), nil
}

func (h *APIHandler) SetOpacity(ctx context.Context, input *OpacityInput) (*struct{ Body SessionBody }, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if err := sess.Manager.SetOpacity(classify.Kind(input.Kind), input.Body.Opacity); err != nil {
		return nil, overlayError(classify.Kind(input.Kind), err)
	}
	return sessionOutput(sess), nil
}

func (h *APIHandler) GetLayerImage(ctx context.Context, input *LayerInput) (*ImageOutput, error) {
	return h.layerImage(input, false)
}

func (h *APIHandler) GetLayerThumb(ctx context.Context, input *LayerInput) (*ImageOutput, error) {
	return h.layerImage(input, true)
}

func (h *APIHandler) layerImage(input *LayerInput, thumb bool) (*ImageOutput, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	img, ok := sess.Map.Image(input.Layer, thumb)
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("layer %q is not on the map", input.Layer))
	}
	// Layer IDs are never reused within a session.
	return &ImageOutput{ContentType: "image/png", CacheControl: "private, max-age=3600", Body: img}, nil
}

// overlayError maps overlay failures to HTTP errors carrying the message
// the viewer shows.
func overlayError(kind classify.Kind, err error) error {
	switch {
	case errors.Is(err, overlay.ErrSuperseded):
		return huma.Error409Conflict("overlay load was superseded by a later action")
	case errors.Is(err, overlay.ErrInvalidOpacity):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, classify.ErrUnknownKind):
		return huma.Error404NotFound(err.Error())
	}

	msg := overlay.FailureMessage(kind)
	fk, _ := raster.KindOf(err)
	switch fk {
	case raster.FetchFailure:
		return huma.Error502BadGateway(msg, err)
	case raster.DecodeFailure:
		return huma.Error422UnprocessableEntity(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
