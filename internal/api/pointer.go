package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-parcel/internal/engine"
)

// Cursorer is implemented by renderers that report the canvas cursor.
type Cursorer interface {
	Cursor() string
}

type PointerInput struct {
	Body struct {
		Lon float64 `json:"lon" minimum:"-180" maximum:"180" doc:"Longitude" example:"-87.9065"`
		Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude" example:"43.0389"`
	}
}

// PointerBody lists the engine events a pointer action produced.
type PointerBody struct {
	Events []engine.Event `json:"events" doc:"Events published while handling the pointer action"`
	Cursor string         `json:"cursor" doc:"Canvas cursor after the action" example:"pointer"`
}

type SelectionInput struct {
	Body struct {
		ID string `json:"id" minLength:"1" doc:"Feature id on the selectable layer" example:"3610512000"`
	}
}

type HighlightsInput struct {
	Body struct {
		IDs []string `json:"ids" doc:"Feature ids to highlight; replaces the current set"`
	}
}

type ViewportInput struct {
	Body struct {
		MinLon float64 `json:"minLon" minimum:"-180" maximum:"180" doc:"West edge"`
		MinLat float64 `json:"minLat" minimum:"-90" maximum:"90" doc:"South edge"`
		MaxLon float64 `json:"maxLon" minimum:"-180" maximum:"180" doc:"East edge"`
		MaxLat float64 `json:"maxLat" minimum:"-90" maximum:"90" doc:"North edge"`
	}
}

type HighlightsOutput struct {
	Body engine.HighlightState
}

// RegisterPointer registers pointer simulation and selection routes.
func (h *APIHandler) RegisterPointer(api huma.API) {
	huma.Post(api, "/api/v1/pointer/click", h.Click, huma.OperationTags("interaction"))
	huma.Post(api, "/api/v1/pointer/move", h.Move, huma.OperationTags("interaction"))
	huma.Put(api, "/api/v1/selection", h.PutSelection, huma.OperationTags("interaction"))
	huma.Delete(api, "/api/v1/selection", h.DeleteSelection, huma.OperationTags("interaction"))
	huma.Put(api, "/api/v1/highlights", h.PutHighlights, huma.OperationTags("interaction"))
	huma.Delete(api, "/api/v1/highlights", h.DeleteHighlights, huma.OperationTags("interaction"))
	huma.Post(api, "/api/v1/viewport", h.Viewport, huma.OperationTags("interaction"))
}

func (h *APIHandler) Click(ctx context.Context, input *PointerInput) (*struct{ Body PointerBody }, error) {
	return h.pointer(func(pt orb.Point) bool { return h.eng.Click(pt) }, input)
}

func (h *APIHandler) Move(ctx context.Context, input *PointerInput) (*struct{ Body PointerBody }, error) {
	return h.pointer(func(pt orb.Point) bool { return h.eng.Move(pt) }, input)
}

// pointer runs a simulated pointer action and collects what it published.
// Renderer events are delivered synchronously, so everything the action
// caused is buffered once it returns.
func (h *APIHandler) pointer(act func(orb.Point) bool, input *PointerInput) (*struct{ Body PointerBody }, error) {
	ch := h.eng.Bus().Subscribe()
	defer h.eng.Bus().Unsubscribe(ch)

	if !act(orb.Point{input.Body.Lon, input.Body.Lat}) {
		return nil, huma.Error501NotImplemented("renderer cannot simulate pointer events")
	}

	body := PointerBody{Events: []engine.Event{}}
	for done := false; !done; {
		select {
		case ev := <-ch:
			body.Events = append(body.Events, ev)
		default:
			done = true
		}
	}
	if c, ok := h.eng.Renderer().(Cursorer); ok {
		body.Cursor = c.Cursor()
	}
	return &struct{ Body PointerBody }{Body: body}, nil
}

func (h *APIHandler) PutSelection(ctx context.Context, input *SelectionInput) (*HighlightsOutput, error) {
	h.eng.Select(input.Body.ID)
	return &HighlightsOutput{Body: h.eng.Highlights()}, nil
}

func (h *APIHandler) DeleteSelection(ctx context.Context, input *struct{}) (*HighlightsOutput, error) {
	h.eng.ClearSelection()
	return &HighlightsOutput{Body: h.eng.Highlights()}, nil
}

func (h *APIHandler) PutHighlights(ctx context.Context, input *HighlightsInput) (*HighlightsOutput, error) {
	h.eng.Highlight(input.Body.IDs)
	return &HighlightsOutput{Body: h.eng.Highlights()}, nil
}

func (h *APIHandler) DeleteHighlights(ctx context.Context, input *struct{}) (*HighlightsOutput, error) {
	h.eng.ClearHighlights()
	return &HighlightsOutput{Body: h.eng.Highlights()}, nil
}

// Viewport re-queries service layers for the new bounds. Archive mode
// answers immediately.
func (h *APIHandler) Viewport(ctx context.Context, input *ViewportInput) (*EngineStateOutput, error) {
	b := input.Body
	if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat {
		return nil, huma.Error422UnprocessableEntity("viewport min must not exceed max")
	}
	bound := orb.Bound{Min: orb.Point{b.MinLon, b.MinLat}, Max: orb.Point{b.MaxLon, b.MaxLat}}
	if err := h.eng.Refresh(ctx, bound); err != nil {
		return nil, apiError(err)
	}
	return &EngineStateOutput{Body: h.eng.Snapshot()}, nil
}
