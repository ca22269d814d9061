package layers

const (
	mapsBase    = "https://milwaukeemaps.milwaukee.gov/arcgis/rest/services"
	attribution = "City of Milwaukee Information & Technology Management Division"
)

// defaultDescriptors is the built-in catalog, first entry topmost.
func defaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID:             "parcels",
			Name:           "Parcels",
			Description:    "Tax parcels with ownership and assessment (MPROP)",
			Kind:           KindPolygon,
			Service:        &ServiceLocator{URL: mapsBase + "/property/parcels_mprop/MapServer", Sublayer: 2},
			SourceLayer:    "parcels",
			Style:          Style{Color: "#ffffff"},
			Stroke:         Stroke{Color: "#5a5a5a", Width: 0.5},
			DefaultVisible: true,
			DefaultOpacity: 0.1,
			Interactive:    true,
			Selectable:     true,
			IDProperty:     "TAXKEY",
			MinZoom:        14,
			Attribution:    attribution,
		},
		{
			ID:             "tif",
			Name:           "TIF Districts",
			Description:    "Tax incremental financing districts",
			Kind:           KindPolygon,
			Service:        &ServiceLocator{URL: mapsBase + "/planning/special_districts/MapServer", Sublayer: 8},
			SourceLayer:    "tif",
			Style:          Style{Color: "#2e86de"},
			Stroke:         Stroke{Color: "#1b4f8a", Width: 1.5},
			DefaultVisible: false,
			DefaultOpacity: 0.3,
			Interactive:    true,
			IDProperty:     "OBJECTID",
			Legend:         []LegendItem{{Label: "TIF District", Color: "#2e86de"}},
			Attribution:    attribution,
		},
		{
			ID:             "opportunity-zones",
			Name:           "Opportunity Zones",
			Description:    "Federal qualified opportunity zones",
			Kind:           KindPolygon,
			Service:        &ServiceLocator{URL: mapsBase + "/planning/special_districts/MapServer", Sublayer: 9},
			SourceLayer:    "opportunity_zones",
			Style:          Style{Color: "#10ac84"},
			Stroke:         Stroke{Color: "#0a6b52", Width: 1.5},
			DefaultVisible: false,
			DefaultOpacity: 0.3,
			Interactive:    true,
			IDProperty:     "OBJECTID",
			Legend:         []LegendItem{{Label: "Opportunity Zone", Color: "#10ac84"}},
			Attribution:    attribution,
		},
		{
			ID:             "historic",
			Name:           "Historic Districts",
			Description:    "Locally designated historic districts",
			Kind:           KindPolygon,
			Service:        &ServiceLocator{URL: mapsBase + "/planning/special_districts/MapServer", Sublayer: 17},
			SourceLayer:    "historic",
			Style:          Style{Color: "#a0522d"},
			Stroke:         Stroke{Color: "#6b3410", Width: 1},
			DefaultVisible: false,
			DefaultOpacity: 0.3,
			Interactive:    true,
			IDProperty:     "OBJECTID",
			Legend:         []LegendItem{{Label: "Historic District", Color: "#a0522d"}},
			Attribution:    attribution,
		},
		{
			ID:             "arb",
			Name:           "Architectural Review Boards",
			Description:    "Architectural review board areas",
			Kind:           KindPolygon,
			Service:        &ServiceLocator{URL: mapsBase + "/planning/special_districts/MapServer", Sublayer: 1},
			SourceLayer:    "arb",
			Style:          Style{Color: "#8e44ad"},
			Stroke:         Stroke{Color: "#5b2c6f", Width: 1},
			DefaultVisible: false,
			DefaultOpacity: 0.25,
			Interactive:    true,
			IDProperty:     "OBJECTID",
			Legend:         []LegendItem{{Label: "ARB Area", Color: "#8e44ad"}},
			Attribution:    attribution,
		},
		{
			ID:             "zoning",
			Name:           "Zoning",
			Description:    "Zoning districts colored by category",
			Kind:           KindPolygon,
			Service:        &ServiceLocator{URL: mapsBase + "/planning/zoning/MapServer", Sublayer: 11},
			SourceLayer:    "zoning",
			Style:          Style{Categorized: true, CodeProperty: "Zoning"},
			Stroke:         Stroke{Color: "#666666", Width: 0.5},
			DefaultVisible: true,
			DefaultOpacity: 0.6,
			Interactive:    true,
			IDProperty:     "OBJECTID",
			Extrudable:     true,
			Legend:         ZoningLegend(),
			Attribution:    attribution,
		},
	}
}

var defaultStatusPalette = map[string]string{
	"available": "#22c55e",
	"pending":   "#f59e0b",
	"sold":      "#ef4444",
	"unknown":   "#9ca3af",
}

func defaultPointLayers() []PointLayer {
	mk := func(id, name, collection string) PointLayer {
		p := make(map[string]string, len(defaultStatusPalette))
		for k, v := range defaultStatusPalette {
			p[k] = v
		}
		return PointLayer{
			ID:             id,
			Name:           name,
			Collection:     collection,
			StatusPalette:  p,
			DefaultVisible: true,
			DefaultOpacity: 0.9,
			Radius:         6,
		}
	}
	return []PointLayer{
		mk("homes", "Homes For Sale", "homes"),
		mk("commercial", "Commercial Properties", "commercialProperties"),
		mk("development-sites", "Development Sites", "developmentSites"),
		mk("vacant-lots", "Vacant Lots", "vacantLots"),
	}
}
