// Package viewer contains the Datastar SSE handlers behind the map page.
package viewer

import (
	"context"
	"errors"
	"math"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/uhi-map/internal/classify"
	"github.com/joeblew999/uhi-map/internal/humastar"
	"github.com/joeblew999/uhi-map/internal/overlay"
	"github.com/joeblew999/uhi-map/internal/service"
	"github.com/joeblew999/uhi-map/internal/templates"
)

// OverlayChanged is the DOM event carrying map placement to the page.
const OverlayChanged = "overlay-changed"

// CheckedSignal is the signal bound to kind's checkbox.
func CheckedSignal(kind classify.Kind) string { return string(kind) + "checked" }

// OpacitySignal is the signal bound to kind's opacity slider.
func OpacitySignal(kind classify.Kind) string { return string(kind) + "opacity" }

// Handler serves the viewer page's Datastar actions for one session each.
type Handler struct {
	humastar.Handler
	sessions *service.SessionService
}

// NewHandler creates a new viewer handler.
func NewHandler(sessions *service.SessionService, renderer *templates.Renderer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.L()
	}
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer, Logger: logger.Named("viewer")},
		sessions: sessions,
	}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	huma.Post(api, "/api/v1/viewer/{session}/toggle/{kind}", h.Toggle, huma.OperationTags("viewer"))
	huma.Post(api, "/api/v1/viewer/{session}/opacity/{kind}", h.Opacity, huma.OperationTags("viewer"))
	huma.Post(api, "/api/v1/viewer/{session}/quick/{kind}", h.Quick, huma.OperationTags("viewer"))
	huma.Post(api, "/api/v1/viewer/{session}/dismiss", h.Dismiss, huma.OperationTags("viewer"))
	huma.Get(api, "/api/v1/viewer/{session}/events", h.Events, huma.OperationTags("viewer"))
}

type SessionInput struct {
	Session string `path:"session" doc:"Viewer session ID"`
}

type KindInput struct {
	SessionInput
	Kind string `path:"kind" enum:"ndvi,lst" doc:"Raster kind"`
	humastar.SignalsInput
}

func (h *Handler) session(id string) (*service.Session, error) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound("Viewer session expired, reload the page")
	}
	return sess, nil
}

// Toggle follows the checkbox: checked turns kind on, unchecked turns it off.
func (h *Handler) Toggle(ctx context.Context, input *KindInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	kind := classify.Kind(input.Kind)
	checked := signals.Bool(CheckedSignal(kind))

	return h.Stream(func(sse humastar.SSE) {
		if checked {
			h.toggleOn(ctx, sse, sess, kind)
		} else {
			sess.View.SetChecked(kind, false)
			sess.Manager.ToggleOff(kind)
		}
		h.sync(sse, sess)
	}), nil
}

// Quick is the keyboard shortcut: it only ever turns kind on.
func (h *Handler) Quick(ctx context.Context, input *KindInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	kind := classify.Kind(input.Kind)

	return h.Stream(func(sse humastar.SSE) {
		if !sess.View.Checked(kind) {
			h.toggleOn(ctx, sse, sess, kind)
		}
		h.sync(sse, sess)
	}), nil
}

// Opacity applies the slider value. Values that are not finite numbers
// are ignored.
func (h *Handler) Opacity(ctx context.Context, input *KindInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	kind := classify.Kind(input.Kind)
	v, ok := signals.Float(OpacitySignal(kind))

	return h.Stream(func(sse humastar.SSE) {
		if ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			if err := sess.Manager.SetOpacity(kind, v); err != nil {
				h.Logger.Debug("opacity ignored", zap.String("kind", string(kind)), zap.Error(err))
			}
		}
		h.sync(sse, sess)
	}), nil
}

// Dismiss clears the failure notification.
func (h *Handler) Dismiss(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		sess.View.ClearError()
		h.sync(sse, sess)
	}), nil
}

func (h *Handler) toggleOn(ctx context.Context, sse humastar.SSE, sess *service.Session, kind classify.Kind) {
	err := sess.Manager.ToggleOn(ctx, kind)
	switch {
	case err == nil, errors.Is(err, overlay.ErrSuperseded):
	default:
		sse.Error(overlay.FailureMessage(kind))
	}
}
