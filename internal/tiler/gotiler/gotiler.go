// Package gotiler builds vector archives in pure Go, for hosts without
// tippecanoe. Every input layer is clipped, simplified and encoded as one
// MVT sub-layer per tile.
package gotiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-parcel/internal/pmtiles"
	"github.com/joeblew999/plat-parcel/internal/tiler"
)

// GoTiler implements tiler.Tiler using orb.
type GoTiler struct{}

// New creates a new GoTiler.
func New() *GoTiler {
	return &GoTiler{}
}

func (g *GoTiler) Name() string { return "go" }

// Available always returns true.
func (g *GoTiler) Available() bool { return true }

type input struct {
	name string
	fc   *geojson.FeatureCollection
}

// Build reads every layer and writes one archive.
func (g *GoTiler) Build(ctx context.Context, layers []tiler.Layer, output string, cfg tiler.Config, onProgress tiler.ProgressFunc) error {
	output, cfg = tiler.Normalize(output, cfg)

	inputs := make([]input, 0, len(layers))
	for _, l := range layers {
		data, err := os.ReadFile(l.Path)
		if err != nil {
			return fmt.Errorf("reading geojson: %w", err)
		}
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return fmt.Errorf("parsing geojson %s: %w", l.Path, err)
		}
		inputs = append(inputs, input{name: l.Name, fc: fc})
	}

	archive, err := g.tile(ctx, inputs, cfg, onProgress)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := archive.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(100, "Tiles generated successfully!")
	}
	return nil
}

// tile encodes inputs into an in-memory archive.
func (g *GoTiler) tile(ctx context.Context, inputs []input, cfg tiler.Config, onProgress tiler.ProgressFunc) (*pmtiles.Archive, error) {
	a := &pmtiles.Archive{
		Name:        cfg.Name,
		Attribution: cfg.Attribution,
		MinZoom:     cfg.MinZoom,
		MaxZoom:     cfg.MaxZoom,
		Tiles:       make(map[maptile.Tile][]byte),
	}

	first := true
	for _, in := range inputs {
		for _, f := range in.fc.Features {
			if f.Geometry == nil {
				continue
			}
			if first {
				a.Bound = f.Geometry.Bound()
				first = false
			} else {
				a.Bound = a.Bound.Union(f.Geometry.Bound())
			}
		}
		a.VectorLayers = append(a.VectorLayers, pmtiles.VectorLayer{
			ID:      in.name,
			MinZoom: cfg.MinZoom,
			MaxZoom: cfg.MaxZoom,
			Fields:  fieldTypes(in.fc),
		})
	}

	levels := cfg.MaxZoom - cfg.MinZoom + 1
	for z := cfg.MinZoom; z <= cfg.MaxZoom; z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for t, data := range generateZoomLevel(inputs, maptile.Zoom(z)) {
			a.Tiles[t] = data
		}
		if onProgress != nil {
			onProgress(10+80*(z-cfg.MinZoom+1)/levels, fmt.Sprintf("Zoom %d done", z))
		}
	}
	if len(a.Tiles) == 0 {
		return nil, pmtiles.ErrNoTiles
	}
	return a, nil
}

// generateZoomLevel creates MVT tiles for one zoom level across all inputs.
func generateZoomLevel(inputs []input, zoom maptile.Zoom) map[maptile.Tile][]byte {
	byTile := make(map[maptile.Tile][][]*geojson.Feature)
	for i, in := range inputs {
		for _, f := range in.fc.Features {
			if f.Geometry == nil {
				continue
			}
			for _, t := range tilesInBounds(f.Geometry.Bound(), zoom) {
				if byTile[t] == nil {
					byTile[t] = make([][]*geojson.Feature, len(inputs))
				}
				byTile[t][i] = append(byTile[t][i], f)
			}
		}
	}

	result := make(map[maptile.Tile][]byte, len(byTile))
	for t, perLayer := range byTile {
		var layers mvt.Layers
		for i, features := range perLayer {
			if l := createLayer(t, inputs[i].name, features); l != nil {
				layers = append(layers, l)
			}
		}
		if len(layers) == 0 {
			continue
		}
		data, err := mvt.MarshalGzipped(layers)
		if err != nil {
			continue
		}
		result[t] = data
	}
	return result
}

// createLayer builds one MVT layer of a tile, or nil when nothing survives
// clipping.
func createLayer(tile maptile.Tile, name string, features []*geojson.Feature) *mvt.Layer {
	fc := geojson.NewFeatureCollection()
	tileBound := tile.Bound()
	for _, f := range features {
		if !intersectsTile(f.Geometry, tileBound) {
			continue
		}
		// Clip and ProjectToTile mutate geometry in place.
		clone := geojson.NewFeature(orb.Clone(f.Geometry))
		clone.ID = f.ID
		for k, v := range f.Properties {
			clone.Properties[k] = v
		}
		fc.Append(clone)
	}
	if len(fc.Features) == 0 {
		return nil
	}

	layer := mvt.NewLayer(name, fc)
	if epsilon := simplifyEpsilon(tile.Z); epsilon > 0 {
		layer.Simplify(simplify.DouglasPeucker(epsilon))
	}
	layer.Clip(tileBound)
	layer.ProjectToTile(tile)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil
	}
	return layer
}

// intersectsTile refines a bounding-box test for points and polygons.
// Lines whose bounds intersect the tile are kept.
func intersectsTile(geom orb.Geometry, tileBound orb.Bound) bool {
	if !geom.Bound().Intersects(tileBound) {
		return false
	}
	switch g := geom.(type) {
	case orb.Point:
		return tileBound.Contains(g)
	case orb.MultiPoint:
		for _, p := range g {
			if tileBound.Contains(p) {
				return true
			}
		}
		return false
	case orb.Polygon:
		for _, ring := range g {
			for _, p := range ring {
				if tileBound.Contains(p) {
					return true
				}
			}
		}
		corners := []orb.Point{
			tileBound.Min,
			{tileBound.Max[0], tileBound.Min[1]},
			tileBound.Max,
			{tileBound.Min[0], tileBound.Max[1]},
			tileBound.Center(),
		}
		for _, p := range corners {
			if planar.PolygonContains(g, p) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, poly := range g {
			if intersectsTile(poly, tileBound) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// tilesInBounds returns every tile at zoom that intersects bounds.
func tilesInBounds(bounds orb.Bound, zoom maptile.Zoom) []maptile.Tile {
	minTile := maptile.At(bounds.Min, zoom)
	maxTile := maptile.At(bounds.Max, zoom)

	minX, maxX := min(minTile.X, maxTile.X), max(minTile.X, maxTile.X)
	minY, maxY := min(minTile.Y, maxTile.Y), max(minTile.Y, maxTile.Y)

	tiles := make([]maptile.Tile, 0, (maxX-minX+1)*(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.New(x, y, zoom))
		}
	}
	return tiles
}

// simplifyEpsilon returns the simplification tolerance for a zoom level.
// City parcels are ~0.0003° across, so tolerances stay below that from
// street zooms up.
func simplifyEpsilon(zoom maptile.Zoom) float64 {
	switch {
	case zoom >= 14:
		return 0
	case zoom >= 12:
		return 0.000005
	case zoom >= 10:
		return 0.00002
	case zoom >= 6:
		return 0.0001
	default:
		return 0.0005
	}
}

// fieldTypes infers the vector_layers field types of a collection.
func fieldTypes(fc *geojson.FeatureCollection) map[string]string {
	fields := make(map[string]string)
	for _, f := range fc.Features {
		for k, v := range f.Properties {
			if _, seen := fields[k]; seen {
				continue
			}
			switch v.(type) {
			case float64, int, int64:
				fields[k] = "Number"
			case bool:
				fields[k] = "Boolean"
			case nil:
			default:
				fields[k] = "String"
			}
		}
	}
	return fields
}

var _ tiler.Tiler = (*GoTiler)(nil)
