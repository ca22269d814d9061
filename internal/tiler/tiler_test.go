package tiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

type fakeTiler struct {
	name      string
	available bool
}

func (f fakeTiler) Name() string    { return f.name }
func (f fakeTiler) Available() bool { return f.available }
func (f fakeTiler) Build(context.Context, []Layer, string, Config, ProgressFunc) error {
	return nil
}

func TestChoose(t *testing.T) {
	tippe := fakeTiler{name: "tippecanoe"}
	pure := fakeTiler{name: "go", available: true}

	got, err := Choose("", tippe, pure)
	if err != nil || got.Name() != "go" {
		t.Errorf("Choose() = %v, %v", got, err)
	}
	if _, err := Choose("tippecanoe", tippe, pure); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("unavailable tiler: %v", err)
	}
	if _, err := Choose("mapnik", tippe, pure); err == nil {
		t.Error("unknown tiler accepted")
	}
	if _, err := Choose("", tippe); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("none available: %v", err)
	}
}

func TestParseLayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zoning.geojson")
	if err := os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`), 0644); err != nil {
		t.Fatal(err)
	}

	l, err := ParseLayer("districts=" + path)
	if err != nil || l.Name != "districts" || l.Path != path {
		t.Errorf("ParseLayer(name=path) = %+v, %v", l, err)
	}
	l, err = ParseLayer(path)
	if err != nil || l.Name != "zoning" {
		t.Errorf("ParseLayer(path) = %+v, %v", l, err)
	}
	if _, err := ParseLayer("x=" + filepath.Join(dir, "missing.geojson")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := ParseLayer("x=" + filepath.Join(dir, "data.csv")); err == nil {
		t.Error("csv accepted")
	}
	if _, err := ParseLayer("=" + path); err == nil {
		t.Error("empty name accepted")
	}
}

func TestNormalize(t *testing.T) {
	out, cfg := Normalize("data/milwaukee", Config{MinZoom: 16, MaxZoom: 20})
	if out != "data/milwaukee.pmtiles" || cfg.Name != "milwaukee" {
		t.Errorf("Normalize() = %s %+v", out, cfg)
	}
	if cfg.MaxZoom != 14 || cfg.MinZoom != 14 {
		t.Errorf("zooms = %d..%d", cfg.MinZoom, cfg.MaxZoom)
	}
}

func TestTippecanoeArgs(t *testing.T) {
	tp := &Tippecanoe{}
	args := tp.Args([]Layer{{Name: "parcels", Path: "p.geojson"}, {Name: "zoning", Path: "z.geojson"}}, "out.pmtiles", Config{Name: "milwaukee", MinZoom: 10, MaxZoom: 14})
	for _, want := range []string{"parcels:p.geojson", "zoning:z.geojson", "--force", "milwaukee"} {
		if !slices.Contains(args, want) {
			t.Errorf("args %v missing %q", args, want)
		}
	}
}

func TestTippecanoeMissing(t *testing.T) {
	tp := &Tippecanoe{Binary: filepath.Join(t.TempDir(), "no-such-tippecanoe")}
	if tp.Available() {
		t.Fatal("missing binary reported available")
	}
	err := tp.Build(context.Background(), nil, filepath.Join(t.TempDir(), "out"), Config{}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestParseProgress(t *testing.T) {
	if pct, ok := parseProgress("99.9%  11/14"); !ok || pct != 99.9 {
		t.Errorf("parseProgress = %v %v", pct, ok)
	}
	if _, ok := parseProgress("For layer 0, using name \"parcels\""); ok {
		t.Error("non-progress line parsed")
	}
}
