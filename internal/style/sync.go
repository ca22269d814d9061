package style

import (
	"github.com/joeblew999/plat-parcel/internal/layers"
	"github.com/joeblew999/plat-parcel/internal/renderer"
)

// Synchronizer writes visibility and opacity to the renderer. Writes to
// layers that do not exist yet are dropped; the next sync pass re-applies
// them once the layer is mounted.
type Synchronizer struct {
	r renderer.Renderer
}

// NewSynchronizer creates a synchronizer writing to r.
func NewSynchronizer(r renderer.Renderer) *Synchronizer {
	return &Synchronizer{r: r}
}

// Visibility shows or hides every layer of h.
func (s *Synchronizer) Visibility(h Handles, visible bool) {
	value := renderer.VisibilityValue(visible)
	for _, id := range h.All() {
		_ = s.r.SetLayoutProperty(id, "visibility", value)
	}
}

// Opacity applies opacity to every opacity-bearing layer of h. Highlight
// layers keep their own feature-state driven opacity.
func (s *Synchronizer) Opacity(h Handles, opacity float64) {
	switch h.FillType {
	case renderer.LayerLine:
		_ = s.r.SetPaintProperty(h.Fill, "line-opacity", opacity)
	case renderer.LayerCircle:
		_ = s.r.SetPaintProperty(h.Fill, "circle-opacity", opacity)
	default:
		_ = s.r.SetPaintProperty(h.Fill, "fill-opacity", opacity)
	}
	if h.Stroke != "" {
		_ = s.r.SetPaintProperty(h.Stroke, "line-opacity", StrokeOpacity(opacity))
	}
	if h.Extrusion != "" {
		_ = s.r.SetPaintProperty(h.Extrusion, "fill-extrusion-opacity", ExtrusionOpacity(opacity))
	}
}

// Apply writes both visibility and opacity.
func (s *Synchronizer) Apply(h Handles, visible bool, opacity float64) {
	s.Visibility(h, visible)
	s.Opacity(h, opacity)
}

// Markers rewrites a point layer's marker paint for the current selection.
func (s *Synchronizer) Markers(layerID string, p layers.PointLayer, selectedID string) {
	_ = s.r.SetPaintProperty(layerID, "circle-color", MarkerColor(p, selectedID))
	_ = s.r.SetPaintProperty(layerID, "circle-radius", MarkerRadius(p, selectedID))
}

// PointOpacity sets a point layer's marker opacity.
func (s *Synchronizer) PointOpacity(layerID string, opacity float64) {
	_ = s.r.SetPaintProperty(layerID, "circle-opacity", opacity)
}

// PointVisibility shows or hides a point layer.
func (s *Synchronizer) PointVisibility(layerID string, visible bool) {
	_ = s.r.SetLayoutProperty(layerID, "visibility", renderer.VisibilityValue(visible))
}
