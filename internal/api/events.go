package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-parcel/internal/engine"
	"github.com/joeblew999/plat-parcel/internal/humastar"
	"github.com/joeblew999/plat-parcel/internal/layers"
)

// EventsHandler streams engine events to the Datastar map page and serves
// the layer panel.
type EventsHandler struct {
	humastar.Handler
	eng *engine.Engine
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(eng *engine.Engine, renderer *humastar.Renderer) *EventsHandler {
	return &EventsHandler{
		Handler: humastar.Handler{Renderer: renderer},
		eng:     eng,
	}
}

func (h *EventsHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/events", h.Events, huma.OperationTags(humastar.StreamTag))
	huma.Get(api, "/api/v1/panel/layers", h.PanelLayers, huma.OperationTags(humastar.StreamTag))
	huma.Post(api, "/api/v1/panel/toggle", h.Toggle, huma.OperationTags(humastar.StreamTag))
}

// layerRow is the view model of the layer-row fragment.
type layerRow struct {
	ID      string
	Name    string
	Status  string
	Visible bool
	Legend  []layers.LegendItem
}

type bannerData struct {
	Category  engine.Category
	Title     string
	Message   string
	Retryable bool
}

// Events streams until the client goes away. Layer errors replace the
// banner; it clears once no layer is failing.
func (h *EventsHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		ch := h.eng.Bus().Subscribe()
		defer h.eng.Bus().Unsubscribe(ch)

		sse.Replace(h.banner(nil), "#layer-banner")
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				h.send(sse, ev)
			}
		}
	}), nil
}

func (h *EventsHandler) send(sse humastar.SSE, ev engine.Event) {
	switch ev.Type {
	case engine.EventLayerError:
		sse.Replace(h.banner(ev.Error), "#layer-banner")
		if ev.LayerID != "" {
			sse.Replace(h.Render("layer-row", h.row(ev.LayerID)), "#layer-"+ev.LayerID)
		}
	case engine.EventLayerReady:
		sse.Replace(h.Render("layer-row", h.row(ev.LayerID)), "#layer-"+ev.LayerID)
		sse.Replace(h.banner(nil), "#layer-banner")
	case engine.EventFeatureClicked:
		sse.Replace(h.Render("record-card", ev.Record), "#record-card")
	case engine.EventFeatureHovered:
		sse.Replace(h.Render("tooltip", h.tooltip(ev)), "#tooltip")
	case engine.EventPointRecordSelected:
		sse.Signals(map[string]any{"point": ev.Point})
	case engine.EventSelectionChanged:
		sse.Signals(map[string]any{
			"selected":    ev.Selection.Selected,
			"highlighted": ev.Selection.Highlighted,
		})
	}
	sse.DispatchCustomEvent("engine-event", map[string]any{
		"type":    ev.Type,
		"layerId": ev.LayerID,
	})
}

// banner renders le, or the first failing layer when le is nil, or the
// cleared banner when nothing is failing.
func (h *EventsHandler) banner(le *engine.LayerError) string {
	if le == nil {
		for _, st := range h.eng.States() {
			if st.Status == engine.StatusError && st.Err() != nil {
				le = st.Err()
				break
			}
		}
	}
	if le == nil {
		return h.Render("banner-clear", nil)
	}
	title := "Map renderer error"
	if le.LayerID != "" {
		title = h.name(le.LayerID) + " unavailable"
	}
	return h.Render("banner", bannerData{
		Category:  le.Category,
		Title:     title,
		Message:   le.Error(),
		Retryable: le.Retryable(),
	})
}

func (h *EventsHandler) tooltip(ev engine.Event) string {
	rec := ev.Record
	switch {
	case rec == nil:
		return ""
	case rec.Address != "":
		return rec.Address
	}
	if name, ok := rec.Attributes["NAME"].(string); ok && name != "" {
		return name
	}
	return h.name(ev.LayerID)
}

func (h *EventsHandler) name(id string) string {
	if d, ok := h.eng.Registry().Get(id); ok {
		return d.Name
	}
	if p, ok := h.eng.PointLayer(id); ok {
		return p.Config().Name
	}
	return id
}

func (h *EventsHandler) row(id string) layerRow {
	if p, ok := h.eng.PointLayer(id); ok {
		return layerRow{ID: id, Name: p.Config().Name, Status: "live", Visible: p.Visible()}
	}
	d, _ := h.eng.Registry().Get(id)
	row := layerRow{ID: id, Name: d.Name, Status: string(engine.StatusUninitialized), Legend: d.Legend}
	if st, ok := h.eng.State(id); ok {
		row.Status = string(st.Status)
	}
	row.Visible, _, _ = h.eng.Desired(id)
	return row
}

// PanelLayers patches the whole layer list.
func (h *EventsHandler) PanelLayers(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	var rows []any
	for _, d := range h.eng.Registry().Descriptors() {
		rows = append(rows, h.row(d.ID))
	}
	for _, p := range h.eng.PointLayers() {
		rows = append(rows, h.row(p.ID()))
	}
	return h.Stream(func(sse humastar.SSE) {
		sse.Patch(h.RenderList("layer-row", rows, "No layers", "No map layers are configured"), "#layer-list")
	}), nil
}

// Toggle flips a layer's visibility from the panel. Signals: layerId, and
// optionally visible to set rather than flip.
func (h *EventsHandler) Toggle(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	id := signals.String("layerId")
	if id == "" {
		return nil, huma.Error400BadRequest("layerId is required")
	}
	visible, _, ok := h.eng.Desired(id)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	if signals.Has("visible") {
		visible = signals.Bool("visible")
	} else {
		visible = !visible
	}
	if err := h.eng.SetVisibility(id, visible); err != nil {
		return nil, apiError(err)
	}

	return h.Stream(func(sse humastar.SSE) {
		sse.Replace(h.Render("layer-row", h.row(id)), "#layer-"+id)
		sse.Signals(map[string]any{"layers": map[string]any{id: visible}})
	}), nil
}
