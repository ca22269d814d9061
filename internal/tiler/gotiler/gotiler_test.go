package gotiler

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-parcel/internal/pmtiles"
	"github.com/joeblew999/plat-parcel/internal/tiler"
)

func parcelCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Polygon{{{-87.9065, 43.0389}, {-87.9062, 43.0389}, {-87.9062, 43.0392}, {-87.9065, 43.0392}, {-87.9065, 43.0389}}})
	f.Properties["TAXKEY"] = "3920001000"
	f.Properties["C_A_TOTAL"] = 125000.0
	fc.Append(f)
	return fc
}

func zoningCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Polygon{{{-87.91, 43.035}, {-87.90, 43.035}, {-87.90, 43.045}, {-87.91, 43.045}, {-87.91, 43.035}}})
	f.Properties["Zoning"] = "RS6"
	f.Properties["OVERLAY"] = false
	fc.Append(f)
	return fc
}

func writeGeoJSON(t *testing.T, dir, name string, fc *geojson.FeatureCollection) string {
	t.Helper()
	data, err := fc.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	layers := []tiler.Layer{
		{Name: "parcels", Path: writeGeoJSON(t, dir, "parcels.geojson", parcelCollection())},
		{Name: "zoning", Path: writeGeoJSON(t, dir, "zoning.geojson", zoningCollection())},
	}

	var last int
	out := filepath.Join(dir, "tiles", "milwaukee")
	err := New().Build(context.Background(), layers, out, tiler.Config{MinZoom: 10, MaxZoom: 12, Attribution: "City of Milwaukee"}, func(p int, _ string) { last = p })
	if err != nil {
		t.Fatal(err)
	}
	if last != 100 {
		t.Errorf("final progress = %d", last)
	}

	data, err := os.ReadFile(out + ".pmtiles")
	if err != nil {
		t.Fatal(err)
	}
	h, err := pmtiles.DeserializeHeader(data[:pmtiles.HeaderV3LenBytes])
	if err != nil {
		t.Fatal(err)
	}
	if h.MinZoom != 10 || h.MaxZoom != 12 || h.TileType != pmtiles.Mvt {
		t.Errorf("unexpected header %+v", h)
	}
	if !h.Bound().Contains(orb.Point{-87.905, 43.04}) {
		t.Errorf("bound %v misses the input", h.Bound())
	}

	meta, err := pmtiles.DeserializeMetadata(data[h.MetadataOffset:h.MetadataOffset+h.MetadataLength], h.InternalCompression)
	if err != nil {
		t.Fatal(err)
	}
	if meta["name"] != "milwaukee" || meta["attribution"] != "City of Milwaukee" {
		t.Errorf("metadata = %v", meta)
	}
	vls, _ := meta["vector_layers"].([]any)
	if len(vls) != 2 {
		t.Fatalf("vector_layers = %v", meta["vector_layers"])
	}
	parcels, _ := vls[0].(map[string]any)
	fields, _ := parcels["fields"].(map[string]any)
	if parcels["id"] != "parcels" || fields["TAXKEY"] != "String" || fields["C_A_TOTAL"] != "Number" {
		t.Errorf("parcels vector layer = %v", parcels)
	}
}

func TestBuildMissingInput(t *testing.T) {
	err := New().Build(context.Background(), []tiler.Layer{{Name: "x", Path: filepath.Join(t.TempDir(), "missing.geojson")}}, filepath.Join(t.TempDir(), "out"), tiler.Config{}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestGenerateZoomLevelMultiLayer(t *testing.T) {
	inputs := []input{
		{name: "parcels", fc: parcelCollection()},
		{name: "zoning", fc: zoningCollection()},
	}
	tiles := generateZoomLevel(inputs, 14)
	if len(tiles) == 0 {
		t.Fatal("no tiles")
	}
	tile := maptile.At(orb.Point{-87.9063, 43.039}, 14)
	data, ok := tiles[tile]
	if !ok {
		t.Fatalf("no tile %v", tile)
	}
	layers, err := mvt.UnmarshalGzipped(data)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, l := range layers {
		names = append(names, l.Name)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"parcels", "zoning"}) {
		t.Errorf("layers = %v", names)
	}

	// the original geometry is untouched by clipping and projection
	if got := inputs[0].fc.Features[0].Geometry.(orb.Polygon)[0][0]; got != (orb.Point{-87.9065, 43.0389}) {
		t.Errorf("input geometry mutated: %v", got)
	}
}

func TestTilesInBounds(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-87.91, 43.035}, Max: orb.Point{-87.90, 43.045}}
	tiles := tilesInBounds(b, 10)
	if len(tiles) != 1 {
		t.Errorf("expected one z10 tile, got %v", tiles)
	}
	if n := len(tilesInBounds(b, 16)); n < 4 {
		t.Errorf("expected several z16 tiles, got %d", n)
	}
}

func TestIntersectsTile(t *testing.T) {
	tile := maptile.At(orb.Point{-87.9063, 43.039}, 14).Bound()
	inside := orb.Point{tile.Center()[0], tile.Center()[1]}
	if !intersectsTile(inside, tile) {
		t.Error("center point should intersect")
	}
	covering := orb.Polygon{{{-88, 43}, {-87, 43}, {-87, 44}, {-88, 44}, {-88, 43}}}
	if !intersectsTile(covering, tile) {
		t.Error("covering polygon should intersect")
	}
	far := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	if intersectsTile(far, tile) {
		t.Error("distant polygon should not intersect")
	}
}
