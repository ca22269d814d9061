package engine

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/plat-parcel/internal/renderer"
)

// Attribute names of the city parcel schema.
const (
	attrHouseNumber = "HOUSE_NR_LO"
	attrDirection   = "SDIR"
	attrStreet      = "STREET"
	attrStreetType  = "STTYPE"
	attrTaxKey      = "TAXKEY"
	attrZoning      = "ZONING"
	attrOwner       = "OWNER_NAME_1"
	attrAssessed    = "C_A_TOTAL"
)

// FeatureRecord is a clicked or hovered feature, normalized.
type FeatureRecord struct {
	ID            string         `json:"id"`
	LayerID       string         `json:"layerId"`
	Address       string         `json:"address,omitempty"`
	TaxKey        string         `json:"taxKey,omitempty"`
	Zoning        string         `json:"zoning,omitempty"`
	Owner         string         `json:"owner,omitempty"`
	AssessedValue float64        `json:"assessedValue,omitempty"`
	Coordinates   orb.Point      `json:"coordinates"`
	Attributes    map[string]any `json:"attributes"`
}

// NewFeatureRecord normalizes a renderer feature hit at pt.
func NewFeatureRecord(layerID string, f renderer.Feature, pt orb.Point) FeatureRecord {
	props := f.Properties
	rec := FeatureRecord{
		ID:            f.ID,
		LayerID:       layerID,
		Address:       Address(props),
		TaxKey:        str(props[attrTaxKey]),
		Zoning:        str(firstOf(props, attrZoning, "Zoning")),
		Owner:         strings.TrimSpace(str(props[attrOwner])),
		AssessedValue: num(props[attrAssessed]),
		Coordinates:   pt,
		Attributes:    maps.Clone(props),
	}
	if rec.Attributes == nil {
		rec.Attributes = map[string]any{}
	}
	if pt == (orb.Point{}) && f.Geometry != nil {
		rec.Coordinates, _ = planar.CentroidArea(f.Geometry)
	}
	return rec
}

// Address joins house number, direction, street and street type with single
// spaces. Missing parts are skipped.
func Address(props map[string]any) string {
	parts := []string{
		str(props[attrHouseNumber]),
		str(props[attrDirection]),
		str(props[attrStreet]),
		str(props[attrStreetType]),
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func firstOf(props map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := props[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), 64)
		return f
	}
	return 0
}
