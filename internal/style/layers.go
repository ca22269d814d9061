package style

import (
	"github.com/joeblew999/plat-parcel/internal/layers"
	"github.com/joeblew999/plat-parcel/internal/renderer"
)

// Handles names the style layers that render one descriptor. Empty fields
// are layers the descriptor does not have.
type Handles struct {
	Fill            string `json:"fill"`
	FillType        string `json:"fillType"`
	Stroke          string `json:"stroke,omitempty"`
	HighlightFill   string `json:"highlightFill,omitempty"`
	HighlightStroke string `json:"highlightStroke,omitempty"`
	Extrusion       string `json:"extrusion,omitempty"`
}

// All returns every non-empty handle, bottom to top.
func (h Handles) All() []string {
	var ids []string
	for _, id := range []string{h.Fill, h.Extrusion, h.Stroke, h.HighlightFill, h.HighlightStroke} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Interactive returns the handles pointer events bind to.
func (h Handles) Interactive() []string {
	if h.Fill == "" {
		return nil
	}
	return []string{h.Fill}
}

// Layer id helpers.
func FillID(layerID string) string            { return layerID + "-fill" }
func StrokeID(layerID string) string          { return layerID + "-stroke" }
func HighlightFillID(layerID string) string   { return layerID + "-highlight-fill" }
func HighlightStrokeID(layerID string) string { return layerID + "-highlight-stroke" }
func ExtrusionID(layerID string) string       { return layerID + "-3d" }

// Build returns the style layers of a descriptor bound to sourceID,
// bottom to top, and their handles. sourceLayer is empty for geojson sources.
func Build(d layers.Descriptor, sourceID, sourceLayer string, visible bool, opacity float64) (Handles, []renderer.LayerSpec) {
	layout := func() map[string]any {
		return map[string]any{"visibility": renderer.VisibilityValue(visible)}
	}
	base := func(id, typ string, paint map[string]any) renderer.LayerSpec {
		return renderer.LayerSpec{
			ID:          id,
			Type:        typ,
			Source:      sourceID,
			SourceLayer: sourceLayer,
			MinZoom:     d.MinZoom,
			Layout:      layout(),
			Paint:       paint,
		}
	}

	var h Handles
	var specs []renderer.LayerSpec

	switch d.Kind {
	case layers.KindLine:
		h.Fill, h.FillType = FillID(d.ID), renderer.LayerLine
		specs = append(specs, base(h.Fill, renderer.LayerLine, LinePaint(d, opacity)))
	case layers.KindPoint:
		h.Fill, h.FillType = FillID(d.ID), renderer.LayerCircle
		specs = append(specs, base(h.Fill, renderer.LayerCircle, map[string]any{
			"circle-color":   FillColor(d),
			"circle-radius":  5,
			"circle-opacity": opacity,
		}))
	default:
		h.Fill, h.FillType = FillID(d.ID), renderer.LayerFill
		h.Stroke = StrokeID(d.ID)
		specs = append(specs,
			base(h.Fill, renderer.LayerFill, FillPaint(d, opacity)),
			base(h.Stroke, renderer.LayerLine, StrokePaint(d, opacity)),
		)
		if d.Selectable {
			h.HighlightFill = HighlightFillID(d.ID)
			h.HighlightStroke = HighlightStrokeID(d.ID)
			specs = append(specs,
				base(h.HighlightFill, renderer.LayerFill, HighlightFillPaint()),
				base(h.HighlightStroke, renderer.LayerLine, HighlightStrokePaint()),
			)
		}
	}
	return h, specs
}

// BuildExtrusion returns the 3D variant layer of an extrudable descriptor.
func BuildExtrusion(d layers.Descriptor, sourceID, sourceLayer string, visible bool, opacity float64) renderer.LayerSpec {
	return renderer.LayerSpec{
		ID:          ExtrusionID(d.ID),
		Type:        renderer.LayerFillExtrusion,
		Source:      sourceID,
		SourceLayer: sourceLayer,
		MinZoom:     d.MinZoom,
		Layout:      map[string]any{"visibility": renderer.VisibilityValue(visible)},
		Paint:       ExtrusionPaint(d, opacity),
	}
}
