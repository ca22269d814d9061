package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-parcel/internal/engine"
	"github.com/joeblew999/plat-parcel/internal/humastar"
	"github.com/joeblew999/plat-parcel/internal/layers"
)

// LayerBody is a descriptor with its desired and runtime state.
type LayerBody struct {
	Descriptor layers.Descriptor  `json:"descriptor" doc:"Static layer definition"`
	State      *engine.LayerState `json:"state,omitempty" doc:"Runtime state; absent before initialization"`
	Visible    bool               `json:"visible" doc:"Desired visibility"`
	Opacity    float64            `json:"opacity" doc:"Desired opacity"`
}

// PointLayerBody is a live-feed marker layer.
type PointLayerBody struct {
	Config   layers.PointLayer `json:"config" doc:"Point layer definition"`
	Visible  bool              `json:"visible" doc:"Desired visibility"`
	Opacity  float64           `json:"opacity" doc:"Desired opacity"`
	Records  int               `json:"records" doc:"Cached record count"`
	Selected string            `json:"selected,omitempty" doc:"Selected record id"`
}

type LayersBody struct {
	Layers []LayerBody      `json:"layers" doc:"Layers in configured order, bottom-most last"`
	Points []PointLayerBody `json:"points" doc:"Point-marker layers, always on top"`
}

var layerActions = []humastar.ActionDef{
	{Rel: "opacity", Pattern: "/api/v1/layers/%s/opacity", Method: "PUT", Title: "Set opacity"},
}

// Actions returns the state-dependent actions of a layer.
func (b LayerBody) Actions() []humastar.Action {
	id := b.Descriptor.ID
	vis := humastar.ActionDef{Rel: "show", Pattern: "/api/v1/layers/%s/visibility", Method: "PUT", Title: "Show layer"}
	if b.Visible {
		vis.Rel, vis.Title = "hide", "Hide layer"
	}
	actions := humastar.ActionsFor(id, append([]humastar.ActionDef{vis}, layerActions...))
	if b.State != nil && b.State.Status == engine.StatusError {
		if le := b.State.Err(); le != nil && le.Retryable() {
			actions = append(actions, humastar.Action{
				Rel: "retry", Href: "/api/v1/engine/reinitialize", Method: "POST", Title: "Retry",
			})
		}
	}
	return actions
}

type LayerOutput struct {
	Body LayerBody
}

type VisibilityInput struct {
	IDInput
	Body struct {
		Visible bool `json:"visible" doc:"Whether the layer is shown"`
	}
}

type OpacityInput struct {
	IDInput
	Body struct {
		Opacity float64 `json:"opacity" minimum:"0" maximum:"1" doc:"Layer opacity (0-1)" example:"0.6"`
	}
}

// RegisterLayers registers layer routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/{id}/visibility", h.PutVisibility, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/{id}/opacity", h.PutOpacity, huma.OperationTags("layers"))
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*struct{ Body LayersBody }, error) {
	body := LayersBody{Layers: []LayerBody{}, Points: []PointLayerBody{}}
	for _, d := range h.eng.Registry().Descriptors() {
		body.Layers = append(body.Layers, h.layer(d))
	}
	for _, p := range h.eng.PointLayers() {
		body.Points = append(body.Points, pointLayer(p))
	}
	return &struct{ Body LayersBody }{Body: body}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	d, ok := h.eng.Registry().Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &LayerOutput{Body: h.layer(d)}, nil
}

func (h *APIHandler) PutVisibility(ctx context.Context, input *VisibilityInput) (*LayerOutput, error) {
	if err := h.eng.SetVisibility(input.ID, input.Body.Visible); err != nil {
		return nil, apiError(err)
	}
	return h.layerOutput(input.ID)
}

func (h *APIHandler) PutOpacity(ctx context.Context, input *OpacityInput) (*LayerOutput, error) {
	if err := h.eng.SetOpacity(input.ID, input.Body.Opacity); err != nil {
		return nil, apiError(err)
	}
	return h.layerOutput(input.ID)
}

// layerOutput answers a write; point layers have no descriptor, so they
// echo their desired state only.
func (h *APIHandler) layerOutput(id string) (*LayerOutput, error) {
	if d, ok := h.eng.Registry().Get(id); ok {
		return &LayerOutput{Body: h.layer(d)}, nil
	}
	visible, opacity, _ := h.eng.Desired(id)
	return &LayerOutput{Body: LayerBody{
		Descriptor: layers.Descriptor{ID: id, Kind: layers.KindPoint},
		Visible:    visible,
		Opacity:    opacity,
	}}, nil
}

func (h *APIHandler) layer(d layers.Descriptor) LayerBody {
	visible, opacity, _ := h.eng.Desired(d.ID)
	b := LayerBody{Descriptor: d, Visible: visible, Opacity: opacity}
	if st, ok := h.eng.State(d.ID); ok {
		b.State = &st
	}
	return b
}

func pointLayer(p *engine.PointLayer) PointLayerBody {
	return PointLayerBody{
		Config:   p.Config(),
		Visible:  p.Visible(),
		Opacity:  p.Opacity(),
		Records:  len(p.Records()),
		Selected: p.Selected(),
	}
}
