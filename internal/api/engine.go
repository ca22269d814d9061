package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-parcel/internal/humastar"
	"github.com/joeblew999/plat-parcel/internal/renderer"
)

// StyleExporter is implemented by renderers that can export their current
// style document.
type StyleExporter interface {
	Style() renderer.StyleDocument
}

// StyleSwapper is implemented by renderers whose base style can be
// replaced. A swap wipes every source and layer; the engine rebuilds them.
type StyleSwapper interface {
	SetStyle(name string)
}

type ThreeDInput struct {
	Body struct {
		Enabled bool `json:"enabled" doc:"Show the extrusion variant instead of the flat fill"`
	}
}

type StyleInput struct {
	Body struct {
		Name string `json:"name" minLength:"1" doc:"Base style name" example:"streets"`
	}
}

// Relations links engine commands that sit outside the resource they act on.
var Relations = []humastar.Relation{
	{From: "/api/v1/engine/state", To: "/api/v1/engine/3d", Rel: "3d"},
	{From: "/api/v1/engine/state", To: "/api/v1/engine/reinitialize", Rel: "reinitialize"},
	{From: "/api/v1/engine/state", To: "/api/v1/style", Rel: "style"},
	{From: "/api/v1/layers", To: "/api/v1/engine/state", Rel: "engine"},
	{From: "/api/v1/layers", To: "/api/v1/selection", Rel: "selection"},
	{From: "/api/v1/layers", To: "/api/v1/highlights", Rel: "highlights"},
}

// RegisterEngine registers engine-wide routes.
func (h *APIHandler) RegisterEngine(api huma.API) {
	huma.Get(api, "/api/v1/engine/state", h.GetState, huma.OperationTags("engine"))
	huma.Put(api, "/api/v1/engine/3d", h.Put3D, huma.OperationTags("engine"))
	huma.Post(api, "/api/v1/engine/reinitialize", h.Reinitialize, huma.OperationTags("engine"))
	huma.Get(api, "/api/v1/style", h.GetStyle, huma.OperationTags("engine"))
	huma.Put(api, "/api/v1/style", h.PutStyle, huma.OperationTags("engine"))
}

func (h *APIHandler) GetState(ctx context.Context, input *struct{}) (*EngineStateOutput, error) {
	return &EngineStateOutput{Body: h.eng.Snapshot()}, nil
}

func (h *APIHandler) Put3D(ctx context.Context, input *ThreeDInput) (*EngineStateOutput, error) {
	if err := h.eng.Set3D(input.Body.Enabled); err != nil {
		return nil, apiError(err)
	}
	return &EngineStateOutput{Body: h.eng.Snapshot()}, nil
}

// Reinitialize rebuilds every layer and waits for the new generation to
// settle. Per-layer failures show up in the returned state.
func (h *APIHandler) Reinitialize(ctx context.Context, input *struct{}) (*EngineStateOutput, error) {
	if err := h.eng.Reinitialize(ctx); err != nil {
		return nil, apiError(err)
	}
	return &EngineStateOutput{Body: h.eng.Snapshot()}, nil
}

func (h *APIHandler) GetStyle(ctx context.Context, input *struct{}) (*struct{ Body renderer.StyleDocument }, error) {
	x, ok := h.eng.Renderer().(StyleExporter)
	if !ok {
		return nil, huma.Error501NotImplemented("renderer cannot export its style")
	}
	return &struct{ Body renderer.StyleDocument }{Body: x.Style()}, nil
}

// PutStyle swaps the base style. The engine reinitializes on the
// renderer's style.load event.
func (h *APIHandler) PutStyle(ctx context.Context, input *StyleInput) (*struct{ Body MessageBody }, error) {
	x, ok := h.eng.Renderer().(StyleSwapper)
	if !ok {
		return nil, huma.Error501NotImplemented("renderer cannot swap its style")
	}
	x.SetStyle(input.Body.Name)
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Style swapped to " + input.Body.Name}}, nil
}
