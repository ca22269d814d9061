package renderer

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func squareFC(id string, x0, y0, x1, y1 float64) *GeoJSON {
	f := geojson.NewFeature(orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}})
	f.Properties["KEY"] = id
	fc := geojson.NewFeatureCollection()
	fc.Append(f)
	return fc
}

func TestMemoryNamespace(t *testing.T) {
	m := NewMemory()
	if err := m.AddSource("s", SourceSpec{Type: SourceGeoJSON}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddSource("s", SourceSpec{Type: SourceGeoJSON}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate source: %v", err)
	}
	if err := m.AddLayer(LayerSpec{ID: "l", Type: LayerFill, Source: "missing"}, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("layer on missing source: %v", err)
	}
	if err := m.AddLayer(LayerSpec{ID: "l", Type: LayerFill, Source: "s"}, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.AddLayer(LayerSpec{ID: "l", Type: LayerFill, Source: "s"}, ""); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate layer: %v", err)
	}
	if err := m.RemoveSource("s"); !errors.Is(err, ErrInUse) {
		t.Errorf("remove in-use source: %v", err)
	}
	if err := m.RemoveLayer("l"); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveLayer("l"); !errors.Is(err, ErrNotFound) {
		t.Errorf("remove missing layer: %v", err)
	}
	if err := m.RemoveSource("s"); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryLayerOrder(t *testing.T) {
	m := NewMemory()
	m.AddSource("s", SourceSpec{Type: SourceGeoJSON})
	m.AddLayer(LayerSpec{ID: "top", Source: "s"}, "")
	m.AddLayer(LayerSpec{ID: "bottom", Source: "s"}, "top")
	m.AddLayer(LayerSpec{ID: "middle", Source: "s"}, "top")
	m.AddLayer(LayerSpec{ID: "above", Source: "s"}, "unknown")

	want := []string{"bottom", "middle", "top", "above"}
	if got := m.LayerIDs(); !slices.Equal(got, want) {
		t.Errorf("LayerIDs() = %v, want %v", got, want)
	}
}

func TestMemoryFeatureStateDroppedOnData(t *testing.T) {
	m := NewMemory()
	m.AddSource("s", SourceSpec{Type: SourceGeoJSON, Data: squareFC("A", 0, 0, 1, 1), PromoteID: "KEY"})
	ref := FeatureRef{Source: "s", ID: "A"}
	m.SetFeatureState(ref, map[string]any{"selected": true})
	m.SetFeatureState(ref, map[string]any{"highlighted": true})
	if st := m.FeatureState(ref); st["selected"] != true || st["highlighted"] != true {
		t.Fatalf("state = %v", st)
	}
	m.RemoveFeatureState(ref, "selected")
	if st := m.FeatureState(ref); len(st) != 1 {
		t.Errorf("state after remove = %v", st)
	}

	var events int
	m.On(EventSourceData, "", func(ev Event) {
		if ev.SourceID == "s" {
			events++
		}
	})
	if err := m.SetSourceData("s", squareFC("A", 0, 0, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if st := m.FeatureState(ref); len(st) != 0 {
		t.Errorf("state survived new data: %v", st)
	}
	if events != 1 {
		t.Errorf("sourcedata events = %d", events)
	}
	if err := m.SetFeatureState(FeatureRef{Source: "missing", ID: "A"}, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("state on missing source: %v", err)
	}
}

func TestMemoryQueries(t *testing.T) {
	m := NewMemory()
	fc := squareFC("A", 0, 0, 2, 2)
	b := squareFC("B", 1, 1, 3, 3)
	fc.Append(b.Features[0])
	m.AddSource("s", SourceSpec{Type: SourceGeoJSON, Data: fc, PromoteID: "KEY"})
	m.AddLayer(LayerSpec{ID: "low", Source: "s"}, "")
	m.AddLayer(LayerSpec{ID: "high", Source: "s", Layout: map[string]any{"visibility": "none"}}, "")

	got := m.QuerySourceFeatures("s", SourceQuery{IDs: []string{"B"}})
	if len(got) != 1 || got[0].ID != "B" {
		t.Errorf("QuerySourceFeatures by id = %+v", got)
	}
	got = m.QuerySourceFeatures("s", SourceQuery{Equals: map[string]any{"KEY": "A"}})
	if len(got) != 1 || got[0].ID != "A" {
		t.Errorf("QuerySourceFeatures by attribute = %+v", got)
	}

	hits := m.QueryRenderedFeatures(orb.Point{1.5, 1.5}, nil)
	if len(hits) != 2 {
		t.Fatalf("expected two hits from the visible layer, got %+v", hits)
	}
	for _, h := range hits {
		if h.LayerID != "low" {
			t.Errorf("hidden layer hit: %+v", h)
		}
	}
	if hits := m.QueryRenderedFeatures(orb.Point{1.5, 1.5}, []string{"high"}); len(hits) != 0 {
		t.Errorf("filtered query hit %+v", hits)
	}
}

func TestMemoryVectorSource(t *testing.T) {
	m := NewMemory()
	m.SetVectorData("tiles", "zoning", squareFC("Z", 0, 0, 1, 1))
	m.AddSource("tiles", SourceSpec{Type: SourceVector, URL: "pmtiles://x.pmtiles", PromoteID: "KEY"})
	m.AddLayer(LayerSpec{ID: "zoning-fill", Source: "tiles", SourceLayer: "zoning"}, "")

	hits := m.QueryRenderedFeatures(orb.Point{0.5, 0.5}, nil)
	if len(hits) != 1 || hits[0].SourceLayer != "zoning" || hits[0].ID != "Z" {
		t.Errorf("vector hit = %+v", hits)
	}
	if got := m.QuerySourceFeatures("tiles", SourceQuery{SourceLayer: "parcels"}); len(got) != 0 {
		t.Errorf("unknown sub-layer returned %+v", got)
	}
}

func TestMemoryLoadDelay(t *testing.T) {
	m := NewMemory()
	m.LoadDelay = 30 * time.Millisecond
	loaded := make(chan string, 1)
	m.On(EventSourceData, "", func(ev Event) { loaded <- ev.SourceID })

	m.AddSource("s", SourceSpec{Type: SourceGeoJSON})
	if m.IsSourceLoaded("s") {
		t.Error("source loaded before its delay")
	}
	select {
	case id := <-loaded:
		if id != "s" {
			t.Errorf("sourcedata for %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("no sourcedata event")
	}
	if !m.IsSourceLoaded("s") {
		t.Error("source not loaded after its delay")
	}
}

func TestMemoryPointerEvents(t *testing.T) {
	m := NewMemory()
	m.AddSource("s", SourceSpec{Type: SourceGeoJSON, Data: squareFC("A", 0, 0, 1, 1), PromoteID: "KEY"})
	m.AddLayer(LayerSpec{ID: "fill", Source: "s"}, "")

	var got []EventType
	for _, typ := range []EventType{EventClick, EventMouseEnter, EventMouseMove, EventMouseLeave} {
		m.On(typ, "fill", func(ev Event) { got = append(got, ev.Type) })
	}
	var mapClicks int
	off := m.On(EventClick, "", func(Event) { mapClicks++ })

	m.Click(orb.Point{0.5, 0.5})
	m.Move(orb.Point{0.5, 0.5})
	m.Move(orb.Point{0.6, 0.6})
	m.Move(orb.Point{5, 5})
	off()
	off()
	m.Click(orb.Point{0.5, 0.5})

	want := []EventType{EventClick, EventMouseEnter, EventMouseMove, EventMouseMove, EventMouseLeave, EventClick}
	if !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if mapClicks != 1 {
		t.Errorf("map-level clicks = %d", mapClicks)
	}
	if m.HandlerCount(EventClick, "") != 0 {
		t.Error("handler not removed")
	}
}

func TestMemorySetStyle(t *testing.T) {
	m := NewMemory()
	m.AddSource("s", SourceSpec{Type: SourceGeoJSON})
	m.AddLayer(LayerSpec{ID: "l", Source: "s"}, "")
	var reloaded bool
	m.On(EventStyleLoad, "", func(Event) {
		// handlers may call back into the renderer
		reloaded = !m.HasSource("s")
	})
	m.SetStyle("dark")
	if !reloaded {
		t.Error("style.load not delivered after the swap")
	}
	doc := m.Style()
	if doc.Name != "dark" || len(doc.Sources) != 0 || len(doc.Layers) != 0 {
		t.Errorf("style after swap = %+v", doc)
	}
}
