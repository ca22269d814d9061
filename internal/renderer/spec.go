package renderer

import (
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// GeoJSON is the feature collection type geojson sources carry.
type GeoJSON = geojson.FeatureCollection

// Source types.
const (
	SourceGeoJSON = "geojson"
	SourceVector  = "vector"
)

// Layer types.
const (
	LayerFill          = "fill"
	LayerLine          = "line"
	LayerFillExtrusion = "fill-extrusion"
	LayerCircle        = "circle"
)

// Visibility layout values.
const (
	Visible = "visible"
	Hidden  = "none"
)

// SourceSpec for reference see: https://maplibre.org/maplibre-style-spec/sources/
type SourceSpec struct {
	Type        string   `json:"type"`
	Data        *GeoJSON `json:"data,omitempty"`
	URL         string   `json:"url,omitempty"`
	MinZoom     float64  `json:"minzoom,omitempty"`
	MaxZoom     float64  `json:"maxzoom,omitempty"`
	PromoteID   string   `json:"promoteId,omitempty"`
	Attribution string   `json:"attribution,omitempty"`
}

// LayerSpec for reference see: https://maplibre.org/maplibre-style-spec/layers/
type LayerSpec struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	SourceLayer string         `json:"source-layer,omitempty"`
	MinZoom     float64        `json:"minzoom,omitempty"`
	Filter      any            `json:"filter,omitempty"`
	Layout      map[string]any `json:"layout,omitempty"`
	Paint       map[string]any `json:"paint,omitempty"`
}

// Visible reports the layer's visibility layout property.
func (l LayerSpec) Visible() bool {
	v, ok := l.Layout["visibility"]
	return !ok || v != Hidden
}

// StyleDocument for reference see: https://maplibre.org/maplibre-style-spec/root/
type StyleDocument struct {
	Version int                   `json:"version"` // must be 8
	Name    string                `json:"name,omitempty"`
	Sources map[string]SourceSpec `json:"sources"`
	Layers  []LayerSpec           `json:"layers"`
}

// VisibilityValue maps a bool to the visibility layout value.
func VisibilityValue(visible bool) string {
	if visible {
		return Visible
	}
	return Hidden
}

// PromotedID returns the feature id, taken from the promote attribute when
// set, otherwise from the feature's own id.
func PromotedID(f *geojson.Feature, promote string) string {
	if promote != "" {
		if v, ok := f.Properties[promote]; ok && v != nil {
			return idString(v)
		}
	}
	if f.ID != nil {
		return idString(f.ID)
	}
	return ""
}

func idString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%v", n)
	default:
		return fmt.Sprint(v)
	}
}
