// Package layers is the static catalog of map layers: descriptors, legend
// metadata and the zoning category tables every other package reads from.
package layers

// Kind is the geometry kind a descriptor renders.
type Kind string

const (
	KindPolygon Kind = "polygon"
	KindLine    Kind = "line"
	KindPoint   Kind = "point"
)

// Descriptor is an immutable layer definition.
// Huma reads the tags for OpenAPI docs; yaml tags drive registry files.
type Descriptor struct {
	ID             string          `json:"id" yaml:"id" doc:"Unique layer identifier" example:"zoning"`
	Name           string          `json:"name" yaml:"name" doc:"Display name" example:"Zoning"`
	Description    string          `json:"description,omitempty" yaml:"description,omitempty" doc:"Short description"`
	Kind           Kind            `json:"kind" yaml:"kind" enum:"polygon,line,point" doc:"Geometry kind" example:"polygon"`
	Service        *ServiceLocator `json:"service,omitempty" yaml:"service,omitempty" doc:"Feature service locator (service mode)"`
	SourceLayer    string          `json:"sourceLayer,omitempty" yaml:"sourceLayer,omitempty" doc:"Sub-layer name inside the tile archive" example:"zoning"`
	Style          Style           `json:"style" yaml:"style" doc:"Fill style"`
	Stroke         Stroke          `json:"stroke" yaml:"stroke" doc:"Outline style"`
	DefaultVisible bool            `json:"defaultVisible" yaml:"defaultVisible" doc:"Whether layer is visible by default"`
	DefaultOpacity float64         `json:"defaultOpacity" yaml:"defaultOpacity" minimum:"0" maximum:"1" doc:"Default opacity (0-1)" example:"0.6"`
	Interactive    bool            `json:"interactive" yaml:"interactive" doc:"Whether pointer events are dispatched for this layer"`
	Selectable     bool            `json:"selectable" yaml:"selectable" doc:"Click selects a feature (parcels-style); otherwise hover shows a tooltip"`
	IDProperty     string          `json:"idProperty,omitempty" yaml:"idProperty,omitempty" doc:"Attribute promoted to the feature id" example:"TAXKEY"`
	Extrudable     bool            `json:"extrudable,omitempty" yaml:"extrudable,omitempty" doc:"Layer gets a 3D extrusion variant"`
	MinZoom        float64         `json:"minZoom,omitempty" yaml:"minZoom,omitempty" minimum:"0" maximum:"24" doc:"Minimum zoom the layer renders at"`
	Legend         []LegendItem    `json:"legend,omitempty" yaml:"legend,omitempty" doc:"Legend entries"`
	Attribution    string          `json:"attribution,omitempty" yaml:"attribution,omitempty" doc:"Data attribution"`
}

// ServiceLocator addresses one sublayer of a remote feature service.
type ServiceLocator struct {
	URL      string `json:"url" yaml:"url" doc:"Feature service base URL"`
	Sublayer int    `json:"sublayer" yaml:"sublayer" minimum:"0" doc:"Sublayer index"`
}

// Style is the fill style of a descriptor. Categorized styles color by the
// zoning category of CodeProperty instead of the uniform Color.
type Style struct {
	Color        string `json:"color,omitempty" yaml:"color,omitempty" doc:"Uniform fill color (CSS)" example:"#3388ff"`
	Categorized  bool   `json:"categorized,omitempty" yaml:"categorized,omitempty" doc:"Color by zoning category"`
	CodeProperty string `json:"codeProperty,omitempty" yaml:"codeProperty,omitempty" doc:"Attribute holding the zoning code" example:"Zoning"`
}

// Stroke is the outline style of a descriptor.
type Stroke struct {
	Color string  `json:"color,omitempty" yaml:"color,omitempty" doc:"Stroke color (CSS)" example:"#2266cc"`
	Width float64 `json:"width,omitempty" yaml:"width,omitempty" doc:"Stroke width in pixels" example:"1"`
}

// LegendItem defines a legend entry.
type LegendItem struct {
	Label string `json:"label" yaml:"label" doc:"Legend label"`
	Color string `json:"color" yaml:"color" doc:"Legend color (CSS)"`
}

// Informational reports whether the layer shows hover tooltips rather than
// click selection.
func (d Descriptor) Informational() bool {
	return d.Interactive && !d.Selectable
}

// PointLayer describes a live-feed point-marker layer.
type PointLayer struct {
	ID             string            `json:"id" yaml:"id" doc:"Unique layer identifier" example:"homes"`
	Name           string            `json:"name" yaml:"name" doc:"Display name" example:"Homes For Sale"`
	Collection     string            `json:"collection" yaml:"collection" doc:"Feed collection the layer subscribes to" example:"homes"`
	StatusPalette  map[string]string `json:"statusPalette" yaml:"statusPalette" doc:"Marker color per status"`
	DefaultVisible bool              `json:"defaultVisible" yaml:"defaultVisible" doc:"Whether layer is visible by default"`
	DefaultOpacity float64           `json:"defaultOpacity" yaml:"defaultOpacity" minimum:"0" maximum:"1" doc:"Default opacity (0-1)"`
	Radius         float64           `json:"radius" yaml:"radius" doc:"Marker radius in pixels" example:"6"`
}
