// Package style builds paint/layout specs for configured layers and keeps
// the renderer's visibility and opacity properties in line with the
// desired state.
package style

import (
	"math"
	"slices"

	"github.com/joeblew999/plat-parcel/internal/layers"
)

// Expression is a style-spec expression in its JSON array form.
type Expression = []any

// codePrefix extracts the upper-cased two-character zoning prefix. The
// expression language cannot trim, so codes must reach the renderer already
// passed through layers.NormalizeCode.
func codePrefix(prop string) Expression {
	return Expression{"slice", Expression{"upcase", Expression{"to-string", Expression{"get", prop}}}, 0, 2}
}

// categoryMatch builds a match expression over zoning prefixes, one branch
// per category, falling back to the special category's value.
func categoryMatch(prop string, value func(layers.Category) any) Expression {
	byCat := make(map[layers.Category][]string)
	for prefix, c := range layers.Prefixes() {
		byCat[c] = append(byCat[c], prefix)
	}

	expr := Expression{"match", codePrefix(prop)}
	for _, c := range layers.Categories {
		prefixes := byCat[c]
		if len(prefixes) == 0 {
			continue
		}
		slices.Sort(prefixes)
		labels := make([]any, len(prefixes))
		for i, p := range prefixes {
			labels[i] = p
		}
		expr = append(expr, labels, value(c))
	}
	return append(expr, value(layers.Special))
}

// ZoningColor colors features by the category of their zoning code.
func ZoningColor(prop string) Expression {
	return categoryMatch(prop, func(c layers.Category) any { return layers.CategoryColor(c) })
}

// ZoningHeight extrudes features by the category of their zoning code.
func ZoningHeight(prop string) Expression {
	return categoryMatch(prop, func(c layers.Category) any { return layers.HeightOf(c) })
}

// FillColor returns the fill color of a descriptor: the category match
// for categorized layers, the uniform color otherwise.
func FillColor(d layers.Descriptor) any {
	if d.Style.Categorized {
		return ZoningColor(d.CodeAttribute())
	}
	if d.Style.Color == "" {
		return "#3388ff"
	}
	return d.Style.Color
}

// FillPaint is the base paint of a polygon descriptor.
func FillPaint(d layers.Descriptor, opacity float64) map[string]any {
	return map[string]any{
		"fill-color":   FillColor(d),
		"fill-opacity": opacity,
	}
}

// LinePaint is the base paint of a line descriptor.
func LinePaint(d layers.Descriptor, opacity float64) map[string]any {
	width := d.Stroke.Width
	if width == 0 {
		width = 2
	}
	return map[string]any{
		"line-color":   FillColor(d),
		"line-width":   width,
		"line-opacity": opacity,
	}
}

// StrokeOpacity keeps outlines legible over faint fills.
func StrokeOpacity(opacity float64) float64 {
	if opacity <= 0 {
		return 0
	}
	return math.Min(1, opacity+0.5)
}

// StrokePaint is the outline paint of a polygon descriptor.
func StrokePaint(d layers.Descriptor, opacity float64) map[string]any {
	color := d.Stroke.Color
	if color == "" {
		color = "#2266cc"
	}
	width := d.Stroke.Width
	if width == 0 {
		width = 1
	}
	return map[string]any{
		"line-color":   color,
		"line-width":   width,
		"line-opacity": StrokeOpacity(opacity),
	}
}

func stateFlag(key string) Expression {
	return Expression{"boolean", Expression{"feature-state", key}, false}
}

// HighlightFillPaint paints selected and highlighted features from
// feature-state; everything else is transparent.
func HighlightFillPaint() map[string]any {
	return map[string]any{
		"fill-color": Expression{"case",
			stateFlag("selected"), layers.SelectedColor,
			stateFlag("highlighted"), layers.HighlightColor,
			"rgba(0,0,0,0)",
		},
		"fill-opacity": Expression{"case",
			stateFlag("selected"), 0.45,
			stateFlag("highlighted"), 0.35,
			0,
		},
	}
}

// HighlightStrokePaint outlines selected and highlighted features.
func HighlightStrokePaint() map[string]any {
	return map[string]any{
		"line-color": Expression{"case",
			stateFlag("selected"), layers.SelectedColor,
			stateFlag("highlighted"), layers.HighlightColor,
			"rgba(0,0,0,0)",
		},
		"line-width": Expression{"case",
			stateFlag("selected"), 3,
			stateFlag("highlighted"), 2.5,
			0,
		},
	}
}

// ExtrusionOpacity scales a layer opacity for its 3D variant.
func ExtrusionOpacity(opacity float64) float64 {
	return opacity * layers.ExtrusionOpacityScale
}

// ExtrusionPaint is the 3D massing paint: neutral color, category heights.
func ExtrusionPaint(d layers.Descriptor, opacity float64) map[string]any {
	return map[string]any{
		"fill-extrusion-color":   layers.ExtrusionColor,
		"fill-extrusion-height":  ZoningHeight(d.CodeAttribute()),
		"fill-extrusion-base":    0,
		"fill-extrusion-opacity": ExtrusionOpacity(opacity),
	}
}

// MarkerColor colors point markers by status, with the selected marker
// overriding any status color.
func MarkerColor(p layers.PointLayer, selectedID string) Expression {
	statuses := make([]string, 0, len(p.StatusPalette))
	for s := range p.StatusPalette {
		if s != "unknown" {
			statuses = append(statuses, s)
		}
	}
	slices.Sort(statuses)

	fallback := p.StatusPalette["unknown"]
	if fallback == "" {
		fallback = "#9ca3af"
	}
	match := Expression{"match", Expression{"get", "status"}}
	for _, s := range statuses {
		match = append(match, s, p.StatusPalette[s])
	}
	match = append(match, fallback)
	if len(statuses) == 0 {
		match = Expression{"literal", fallback}
	}

	return Expression{"case", isSelected(selectedID), layers.PointHighlightColor, match}
}

// MarkerRadius bumps the selected marker's radius.
func MarkerRadius(p layers.PointLayer, selectedID string) Expression {
	r := p.Radius
	if r == 0 {
		r = 6
	}
	return Expression{"case", isSelected(selectedID), r + layers.PointHighlightRadiusBump, r}
}

func isSelected(selectedID string) Expression {
	return Expression{"==", Expression{"get", "id"}, selectedID}
}

// CirclePaint is the paint of a point-marker layer.
func CirclePaint(p layers.PointLayer, opacity float64, selectedID string) map[string]any {
	return map[string]any{
		"circle-color":        MarkerColor(p, selectedID),
		"circle-radius":       MarkerRadius(p, selectedID),
		"circle-opacity":      opacity,
		"circle-stroke-color": "#ffffff",
		"circle-stroke-width": 1,
	}
}
