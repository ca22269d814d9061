package layers

import "strings"

// Category groups zoning codes for coloring and 3D massing.
type Category string

const (
	Residential Category = "residential"
	Commercial  Category = "commercial"
	Industrial  Category = "industrial"
	MixedUse    Category = "mixed-use"
	Special     Category = "special"
)

// Categories lists every category in legend order.
var Categories = []Category{Residential, Commercial, Industrial, MixedUse, Special}

// categoryPrefixes maps zoning code prefixes (at most two characters) to
// their category. Milwaukee codes: RS/RT/RM single, two and multi family,
// NS/LB/RB/CS commercial, IO/IL/IM/IH industrial, RO/C9 mixed, PD/PK/TL special.
var categoryPrefixes = map[string]Category{
	"RS": Residential,
	"RT": Residential,
	"RM": Residential,
	"NS": Commercial,
	"LB": Commercial,
	"RB": Commercial,
	"CS": Commercial,
	"CB": Commercial,
	"IO": Industrial,
	"IL": Industrial,
	"IM": Industrial,
	"IH": Industrial,
	"RO": MixedUse,
	"C9": MixedUse,
	"PD": Special,
	"PK": Special,
	"TL": Special,
}

// maxPrefixLen is the longest prefix in categoryPrefixes.
const maxPrefixLen = 2

var palette = map[Category]string{
	Residential: "#f7d26a",
	Commercial:  "#e8685a",
	Industrial:  "#9b7bd4",
	MixedUse:    "#f29e4c",
	Special:     "#7fb77e",
}

// heights in meters; residential < special < mixed-use < commercial < industrial.
var heights = map[Category]float64{
	Residential: 12,
	Special:     18,
	MixedUse:    30,
	Commercial:  45,
	Industrial:  60,
}

const (
	// ExtrusionColor is the neutral 3D massing color, independent of the
	// ground-plane category colors.
	ExtrusionColor = "#c9c4bc"

	// ExtrusionOpacityScale scales a layer's opacity for its 3D variant so
	// the massing stays translucent over the saturated ground plane.
	ExtrusionOpacityScale = 0.6

	// SelectedColor and HighlightColor paint feature-state annotations.
	SelectedColor  = "#1f6feb"
	HighlightColor = "#ffb000"

	// PointHighlightColor and PointHighlightRadiusBump override any status
	// color on the selected point marker.
	PointHighlightColor      = "#1f6feb"
	PointHighlightRadiusBump = 4.0
)

// DefaultCodeProperty holds the zoning code when a categorized layer names
// no CodeProperty.
const DefaultCodeProperty = "Zoning"

// CodeAttribute returns the attribute holding d's zoning code.
func (d Descriptor) CodeAttribute() string {
	if d.Style.CodeProperty == "" {
		return DefaultCodeProperty
	}
	return d.Style.CodeProperty
}

// NormalizeCode trims and upper-cases a zoning code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CategoryOf resolves a zoning code to its category using the longest
// matching prefix. Unknown or empty codes resolve to Special.
func CategoryOf(code string) Category {
	code = NormalizeCode(code)
	n := min(len(code), maxPrefixLen)
	for ; n > 0; n-- {
		if c, ok := categoryPrefixes[code[:n]]; ok {
			return c
		}
	}
	return Special
}

// ColorOf returns the palette color for a zoning code.
func ColorOf(code string) string {
	return palette[CategoryOf(code)]
}

// CategoryColor returns the palette color of a category.
func CategoryColor(c Category) string {
	if col, ok := palette[c]; ok {
		return col
	}
	return palette[Special]
}

// HeightOf returns the extrusion height of a category.
func HeightOf(c Category) float64 {
	if h, ok := heights[c]; ok {
		return h
	}
	return heights[Special]
}

// Prefixes returns the prefix table as prefix → category, for expression
// builders. The returned map is a copy.
func Prefixes() map[string]Category {
	out := make(map[string]Category, len(categoryPrefixes))
	for k, v := range categoryPrefixes {
		out[k] = v
	}
	return out
}

// ZoningLegend builds legend entries for the categorized zoning layer.
func ZoningLegend() []LegendItem {
	items := make([]LegendItem, 0, len(Categories))
	for _, c := range Categories {
		items = append(items, LegendItem{Label: string(c), Color: palette[c]})
	}
	return items
}
