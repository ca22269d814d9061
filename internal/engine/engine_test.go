package engine

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-parcel/internal/adapter"
	"github.com/joeblew999/plat-parcel/internal/arcgis"
	"github.com/joeblew999/plat-parcel/internal/feed"
	"github.com/joeblew999/plat-parcel/internal/layers"
	"github.com/joeblew999/plat-parcel/internal/pmtiles"
	"github.com/joeblew999/plat-parcel/internal/renderer"
)

const (
	subParcels = 2
	subTIF     = 8
	subZoning  = 11
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func feature(g orb.Geometry, props geojson.Properties) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.Properties = props
	return f
}

func collection(fs ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range fs {
		fc.Append(f)
	}
	return fc
}

func parcelA() *geojson.Feature {
	return feature(square(0, 0, 1, 1), geojson.Properties{
		"TAXKEY":       "A",
		"HOUSE_NR_LO":  2100.0,
		"SDIR":         "N",
		"STREET":       "MAIN",
		"STTYPE":       "ST",
		"OWNER_NAME_1": "CITY OF MILWAUKEE  ",
		"C_A_TOTAL":    125000.0,
		"ZONING":       "RS6",
	})
}

func parcelB() *geojson.Feature {
	return feature(square(2, 0, 3, 1), geojson.Properties{
		"TAXKEY":      "B",
		"HOUSE_NR_LO": 2110.0,
		"STREET":      "MAIN",
		"STTYPE":      "ST",
	})
}

// Parcels A and B sit inside the TIF district, which sits inside the
// zoning district. (3.5, 0.5) hits the TIF district but no parcel.
func fixtures() map[int]*geojson.FeatureCollection {
	return map[int]*geojson.FeatureCollection{
		subParcels: collection(parcelA(), parcelB()),
		subTIF:     collection(feature(square(0, 0, 4, 1), geojson.Properties{"OBJECTID": 71.0, "NAME": "TID 71"})),
		subZoning:  collection(feature(square(-1, -1, 5, 2), geojson.Properties{"OBJECTID": 1.0, "Zoning": "RS6"})),
	}
}

type stubService struct {
	mu    sync.Mutex
	data  map[int]*geojson.FeatureCollection
	delay map[int]time.Duration
	fail  map[int]error
	calls map[int]int
}

func newStubService() *stubService {
	return &stubService{
		data:  fixtures(),
		delay: make(map[int]time.Duration),
		fail:  make(map[int]error),
		calls: make(map[int]int),
	}
}

func (s *stubService) set(sublayer int, fc *geojson.FeatureCollection) {
	s.mu.Lock()
	s.data[sublayer] = fc
	s.mu.Unlock()
}

func (s *stubService) setDelay(sublayer int, d time.Duration) {
	s.mu.Lock()
	s.delay[sublayer] = d
	s.mu.Unlock()
}

func (s *stubService) callCount(sublayer int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[sublayer]
}

func (s *stubService) QueryAll(ctx context.Context, loc layers.ServiceLocator, q arcgis.Query) (*geojson.FeatureCollection, error) {
	s.mu.Lock()
	s.calls[loc.Sublayer]++
	d, err, fc := s.delay[loc.Sublayer], s.fail[loc.Sublayer], s.data[loc.Sublayer]
	s.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := geojson.NewFeatureCollection()
	out.Features = append(out.Features, fc.Features...)
	return out, nil
}

func testRegistry(t *testing.T) *layers.Registry {
	t.Helper()
	loc := func(n int) *layers.ServiceLocator {
		return &layers.ServiceLocator{URL: "https://maps.example.com/arcgis/rest/services/test/MapServer", Sublayer: n}
	}
	reg, err := layers.New([]layers.Descriptor{
		{
			ID: "parcels", Name: "Parcels", Service: loc(subParcels), SourceLayer: "parcels",
			Style: layers.Style{Color: "#ffffff"}, DefaultVisible: true, DefaultOpacity: 0.1,
			Interactive: true, Selectable: true, IDProperty: "TAXKEY",
		},
		{
			ID: "tif", Name: "TIF Districts", Service: loc(subTIF), SourceLayer: "tif",
			Style: layers.Style{Color: "#2e86de"}, DefaultVisible: true, DefaultOpacity: 0.3,
			Interactive: true, IDProperty: "OBJECTID",
		},
		{
			ID: "zoning", Name: "Zoning", Service: loc(subZoning), SourceLayer: "zoning",
			Style: layers.Style{Categorized: true, CodeProperty: "Zoning"}, DefaultVisible: true, DefaultOpacity: 0.6,
			Interactive: true, IDProperty: "OBJECTID", Extrudable: true,
		},
	}, []layers.PointLayer{{
		ID: "homes", Name: "Homes For Sale", Collection: "homes",
		StatusPalette:  map[string]string{"available": "#22c55e", "sold": "#ef4444"},
		DefaultVisible: true, DefaultOpacity: 0.9, Radius: 6,
	}})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func homes() *feed.Static {
	return feed.NewStatic(map[string][]feed.Record{
		"homes": {{ID: "h1", Status: "available", Lon: 10, Lat: 10, Fields: map[string]any{"price": 189000.0}}},
	})
}

type harness struct {
	e   *Engine
	mem *renderer.Memory
	svc *stubService
}

func newServiceEngine(t *testing.T) *harness {
	t.Helper()
	mem := renderer.NewMemory()
	svc := newStubService()
	ad := adapter.NewService(mem, svc, nil)
	ad.SetReadyTimeout(2 * time.Second)
	e, err := New(Options{Registry: testRegistry(t), Renderer: mem, Adapter: ad, Feed: homes()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return &harness{e: e, mem: mem, svc: svc}
}

func archiveServer(t *testing.T) *httptest.Server {
	t.Helper()
	a := &pmtiles.Archive{
		Name:    "milwaukee",
		MinZoom: 10,
		MaxZoom: 15,
		Tiles:   map[maptile.Tile][]byte{maptile.New(0, 0, 10): []byte("tile")},
	}
	var buf bytes.Buffer
	if err := a.Write(&buf); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[:pmtiles.HeaderV3LenBytes])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newArchiveEngine(t *testing.T) *harness {
	t.Helper()
	srv := archiveServer(t)
	mem := renderer.NewMemory()
	for sub, name := range map[int]string{subParcels: "parcels", subTIF: "tif", subZoning: "zoning"} {
		mem.SetVectorData(adapter.ArchiveSourceID, name, fixtures()[sub])
	}
	ad := adapter.NewArchive(mem, srv.URL+"/milwaukee.pmtiles", srv.Client(), nil).WithPromoteID("TAXKEY")
	ad.SetReadyTimeout(2 * time.Second)
	e, err := New(Options{Registry: testRegistry(t), Renderer: mem, Adapter: ad, Feed: homes()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return &harness{e: e, mem: mem}
}

func initialize(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Initialize(ctx, nil); err != nil {
		t.Fatal(err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitEvent(t *testing.T, ch chan Event, typ EventType, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ && (match == nil || match(ev)) {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
			return Event{}
		}
	}
}

func assertAllReady(t *testing.T, e *Engine, gen uint64) {
	t.Helper()
	states := e.States()
	if len(states) != 3 {
		t.Fatalf("expected 3 layer states, got %d", len(states))
	}
	for _, st := range states {
		if st.Status != StatusReady {
			t.Errorf("layer %s: status %s (%s)", st.ID, st.Status, st.LastError)
		}
		if st.Generation != gen {
			t.Errorf("layer %s: generation %d, want %d", st.ID, st.Generation, gen)
		}
	}
}

// span returns the lowest and highest stack index of layers owned by id.
func span(ids []string, id string) (lo, hi int) {
	lo, hi = -1, -1
	for i, l := range ids {
		if strings.HasPrefix(l, id+"-") {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	return lo, hi
}

// assertStacked checks descriptor layers are grouped bottom to top in the
// given order, with point markers above all of them.
func assertStacked(t *testing.T, ids []string, bottomUp ...string) {
	t.Helper()
	prev := -1
	for _, id := range bottomUp {
		lo, hi := span(ids, id)
		if lo < 0 {
			t.Fatalf("no layers for %s in %v", id, ids)
		}
		if lo <= prev {
			t.Fatalf("%s layers not above the previous group: %v", id, ids)
		}
		prev = hi
	}
	if i := slices.Index(ids, PointLayerID("homes")); i >= 0 && i < prev {
		t.Errorf("point markers below polygon layers: %v", ids)
	}
}

func assertUnique(t *testing.T, ids []string) {
	t.Helper()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate layer %s in %v", id, ids)
		}
		seen[id] = true
	}
}

func selectedState(mem *renderer.Memory, source, sourceLayer, id, key string) bool {
	st := mem.FeatureState(renderer.FeatureRef{Source: source, SourceLayer: sourceLayer, ID: id})
	v, _ := st[key].(bool)
	return v
}

func TestInitializeService(t *testing.T) {
	h := newServiceEngine(t)
	initialize(t, h.e)
	assertAllReady(t, h.e, 1)

	st, _ := h.e.State("parcels")
	if st.SourceID != "parcels" || st.Handles.Fill != "parcels-fill" || st.Handles.HighlightFill == "" {
		t.Errorf("unexpected parcels state %+v", st)
	}
	if h.e.Mode() != adapter.ModeService {
		t.Errorf("mode = %s", h.e.Mode())
	}
	eventually(t, "point layer", func() bool { return h.mem.HasLayer(PointLayerID("homes")) })
	assertStacked(t, h.mem.LayerIDs(), "zoning", "tif", "parcels")
}

func TestZOrderIndependentOfArrival(t *testing.T) {
	h := newServiceEngine(t)
	// parcels attaches first, zoning last
	h.svc.setDelay(subTIF, 60*time.Millisecond)
	h.svc.setDelay(subZoning, 150*time.Millisecond)
	initialize(t, h.e)
	assertAllReady(t, h.e, 1)

	eventually(t, "point layer", func() bool { return h.mem.HasLayer(PointLayerID("homes")) })
	ids := h.mem.LayerIDs()
	assertStacked(t, ids, "zoning", "tif", "parcels")
	assertUnique(t, ids)
}

func TestZOrderArchive(t *testing.T) {
	h := newArchiveEngine(t)
	initialize(t, h.e)
	assertAllReady(t, h.e, 1)

	doc := h.mem.Style()
	if _, ok := doc.Sources[adapter.ArchiveSourceID]; !ok {
		t.Fatalf("no shared archive source: %v", doc.Sources)
	}
	if doc.Sources[adapter.ArchiveSourceID].PromoteID != "TAXKEY" {
		t.Errorf("promote id = %q", doc.Sources[adapter.ArchiveSourceID].PromoteID)
	}
	st, _ := h.e.State("zoning")
	if st.SourceID != adapter.ArchiveSourceID || st.Mode != adapter.ModeArchive {
		t.Errorf("unexpected zoning state %+v", st)
	}
	assertStacked(t, h.mem.LayerIDs(), "zoning", "tif", "parcels")
}

func TestMountIdempotent(t *testing.T) {
	h := newServiceEngine(t)
	initialize(t, h.e)
	ctx := context.Background()
	eventually(t, "point layer", func() bool { return h.mem.HasLayer(PointLayerID("homes")) })

	before := h.mem.LayerIDs()
	calls := h.svc.callCount(subParcels)
	for i := 0; i < 2; i++ {
		if err := h.e.Mount(ctx, "parcels"); err != nil {
			t.Fatal(err)
		}
	}
	if after := h.mem.LayerIDs(); !slices.Equal(before, after) {
		t.Errorf("mount changed the stack:\n%v\n%v", before, after)
	}
	if n := h.svc.callCount(subParcels); n != calls {
		t.Errorf("mount re-queried the service: %d calls, want %d", n, calls)
	}
	if n := len(h.mem.Style().Sources); n != 4 {
		t.Errorf("expected 4 sources, got %d", n)
	}

	if err := h.e.Mount(ctx, "nope"); !errors.Is(err, ErrUnknownLayer) {
		t.Errorf("unknown layer: %v", err)
	}
}

func TestUnmountThenMount(t *testing.T) {
	h := newServiceEngine(t)
	initialize(t, h.e)
	ctx := context.Background()

	if err := h.e.Unmount("tif"); err != nil {
		t.Fatal(err)
	}
	if h.mem.HasSource("tif") || h.mem.HasLayer("tif-fill") {
		t.Fatal("tif resources left behind")
	}
	if _, ok := h.e.State("tif"); ok {
		t.Error("unmounted layer still has state")
	}
	if err := h.e.Mount(ctx, "tif"); err != nil {
		t.Fatal(err)
	}
	st, _ := h.e.State("tif")
	if st.Status != StatusReady {
		t.Fatalf("tif status %s", st.Status)
	}
	ids := h.mem.LayerIDs()
	assertStacked(t, ids, "zoning", "tif", "parcels")
	assertUnique(t, ids)
	if n := h.mem.HandlerCount(renderer.EventClick, "tif-fill"); n != 1 {
		t.Errorf("expected one click handler on tif-fill, got %d", n)
	}
}

func TestHighlightSurvivesRefresh(t *testing.T) {
	h := newServiceEngine(t)
	initialize(t, h.e)
	ctx := context.Background()

	h.e.Highlight([]string{"A", "B"})
	if !selectedState(h.mem, "parcels", "", "A", stateHighlighted) || !selectedState(h.mem, "parcels", "", "B", stateHighlighted) {
		t.Fatal("highlights not applied")
	}

	h.svc.set(subParcels, collection(parcelA()))
	if err := h.e.Refresh(ctx, orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{5, 5}}); err != nil {
		t.Fatal(err)
	}
	if !selectedState(h.mem, "parcels", "", "A", stateHighlighted) {
		t.Error("A lost its highlight across refresh")
	}
	if selectedState(h.mem, "parcels", "", "B", stateHighlighted) {
		t.Error("absent feature B marked highlighted")
	}
	if got := h.e.Highlights().Highlighted; !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("highlighted set = %v", got)
	}

	// B comes back with the next refresh and picks its highlight up again.
	h.svc.set(subParcels, collection(parcelA(), parcelB()))
	if err := h.e.Refresh(ctx, orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{5, 5}}); err != nil {
		t.Fatal(err)
	}
	if !selectedState(h.mem, "parcels", "", "B", stateHighlighted) {
		t.Error("B not re-highlighted")
	}

	h.e.ClearHighlights()
	if selectedState(h.mem, "parcels", "", "A", stateHighlighted) {
		t.Error("clear left A highlighted")
	}
	h.e.ClearHighlights()
}

func TestHighlightReplacesSet(t *testing.T) {
	h := newServiceEngine(t)
	initialize(t, h.e)

	h.e.Highlight([]string{"A"})
	h.e.Highlight([]string{"B", "missing"})
	if selectedState(h.mem, "parcels", "", "A", stateHighlighted) {
		t.Error("previous highlight not cleared")
	}
	if !selectedState(h.mem, "parcels", "", "B", stateHighlighted) {
		t.Error("B not highlighted")
	}
}

func TestSelectionExclusive(t *testing.T) {
	h := newServiceEngine(t)
	initialize(t, h.e)
	ch := h.e.Bus().Subscribe()
	defer h.e.Bus().Unsubscribe(ch)

	h.e.Select("A")
	h.e.Select("B")
	if selectedState(h.mem, "parcels", "", "A", stateSelected) {
		t.Error("A still selected")
	}
	if !selectedState(h.mem, "parcels", "", "B", stateSelected) {
		t.Error("B not selected")
	}
	ev := waitEvent(t, ch, EventSelectionChanged, func(ev Event) bool { return ev.Selection.Selected == "B" })
	if ev.Selection == nil {
		t.Fatal("no selection payload")
	}

	h.e.ClearSelection()
	h.e.ClearSelection()
	if selectedState(h.mem, "parcels", "", "B", stateSelected) {
		t.Error("clear left B selected")
	}
	if h.e.Highlights().Selected != "" {
		t.Error("selection not cleared")
	}
}

func TestSelectionArchive(t *testing.T) {
	h := newArchiveEngine(t)
	initialize(t, h.e)

	h.e.Select("A")
	if !selectedState(h.mem, adapter.ArchiveSourceID, "parcels", "A", stateSelected) {
		t.Fatal("A not selected in the archive sub-layer")
	}
	// new tiles without A, then with A again
	h.mem.SetVectorData(adapter.ArchiveSourceID, "parcels", collection(parcelB()))
	h.mem.SetVectorData(adapter.ArchiveSourceID, "parcels", collection(parcelA(), parcelB()))
	if !selectedState(h.mem, adapter.ArchiveSourceID, "parcels", "A", stateSelected) {
		t.Error("selection not reapplied after tile reload")
	}
}

func TestThreeDIdempotent(t *testing.T) {
	h := newArchiveEngine(t)
	initialize(t, h.e)

	for i := 0; i < 2; i++ {
		if err := h.e.Set3D(true); err != nil {
			t.Fatal(err)
		}
	}
	ids := h.mem.LayerIDs()
	n := 0
	for _, id := range ids {
		if id == "zoning-3d" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected one extrusion layer, got %d: %v", n, ids)
	}
	if !h.mem.HasLayer("zoning-fill") {
		t.Error("flat fill removed under the extrusion")
	}
	assertStacked(t, ids, "zoning", "tif", "parcels")

	// the extrusion is rebuilt by a reinitialize while 3D is on
	if err := h.e.Reinitialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !h.mem.HasLayer("zoning-3d") {
		t.Error("extrusion lost across reinitialize")
	}
	assertStacked(t, h.mem.LayerIDs(), "zoning", "tif", "parcels")

	if err := h.e.Set3D(false); err != nil {
		t.Fatal(err)
	}
	if err := h.e.Set3D(false); err != nil {
		t.Fatal(err)
	}
	if h.mem.HasLayer("zoning-3d") || !h.mem.HasLayer("zoning-fill") {
		t.Error("disable should drop only the extrusion")
	}
	if h.e.ThreeD() {
		t.Error("3D flag still set")
	}
}

func TestThreeDWhileLoading(t *testing.T) {
	h := newArchiveEngine(t)
	h.mem.LoadDelay = 300 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.e.Initialize(ctx, nil) }()
	eventually(t, "zoning mounted and loading", func() bool {
		st, ok := h.e.State("zoning")
		return ok && st.Status == StatusLoading && h.mem.HasLayer("zoning-fill")
	})

	if err := h.e.Set3D(true); err != nil {
		t.Fatal(err)
	}
	if !h.e.ThreeD() {
		t.Error("3D flag not recorded")
	}
	if h.mem.HasLayer("zoning-3d") {
		t.Fatal("extrusion added while zoning is loading")
	}

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, id := range h.mem.LayerIDs() {
		if id == "zoning-3d" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected one extrusion once ready, got %d: %v", n, h.mem.LayerIDs())
	}
	assertStacked(t, h.mem.LayerIDs(), "zoning", "tif", "parcels")
}

func TestReinitializeWhileLoading(t *testing.T) {
	h := newServiceEngine(t)
	h.svc.setDelay(subZoning, 300*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := make(chan error, 1)
	go func() { first <- h.e.Initialize(ctx, nil) }()
	eventually(t, "zoning loading", func() bool {
		st, ok := h.e.State("zoning")
		return ok && st.Status == StatusLoading
	})

	if err := h.e.Reinitialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-first; err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	assertAllReady(t, h.e, 2)
	eventually(t, "point layer", func() bool { return h.mem.HasLayer(PointLayerID("homes")) })

	check := func() {
		t.Helper()
		ids := h.mem.LayerIDs()
		assertUnique(t, ids)
		assertStacked(t, ids, "zoning", "tif", "parcels")
		if n := len(h.mem.Style().Sources); n != 4 {
			t.Errorf("expected 4 sources, got %d", n)
		}
	}
	check()
	// leave time for anything left over from generation 1 to land
	time.Sleep(400 * time.Millisecond)
	check()
	assertAllReady(t, h.e, 2)
	if h.e.Snapshot().Generation != 2 {
		t.Errorf("generation = %d", h.e.Snapshot().Generation)
	}
}

func TestVisibilityWhileLoading(t *testing.T) {
	h := newServiceEngine(t)
	h.svc.setDelay(subZoning, 200*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.e.Initialize(ctx, map[string]bool{"tif": false}) }()
	eventually(t, "zoning loading", func() bool {
		st, ok := h.e.State("zoning")
		return ok && st.Status == StatusLoading
	})
	if err := h.e.SetVisibility("zoning", false); err != nil {
		t.Fatal(err)
	}
	if err := h.e.SetOpacity("zoning", 0.25); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"zoning-fill", "zoning-stroke", "tif-fill"} {
		l, _ := h.mem.Layer(id)
		if l.Visible() {
			t.Errorf("%s should be hidden", id)
		}
	}
	l, _ := h.mem.Layer("zoning-fill")
	if l.Paint["fill-opacity"] != 0.25 {
		t.Errorf("zoning opacity = %v", l.Paint["fill-opacity"])
	}
	if v, o, _ := h.e.Desired("zoning"); v || o != 0.25 {
		t.Errorf("desired = %v %v", v, o)
	}
	if err := h.e.SetVisibility("nope", true); !errors.Is(err, ErrUnknownLayer) {
		t.Errorf("unknown layer: %v", err)
	}
}

func TestLayerErrorIsolated(t *testing.T) {
	h := newServiceEngine(t)
	h.svc.fail[subTIF] = errors.New("connection refused")
	ch := h.e.Bus().Subscribe()
	defer h.e.Bus().Unsubscribe(ch)

	initialize(t, h.e)

	ev := waitEvent(t, ch, EventLayerError, func(ev Event) bool { return ev.LayerID == "tif" })
	if ev.Error == nil || ev.Error.Category != CategoryService || !ev.Error.Retryable() {
		t.Errorf("unexpected error payload %+v", ev.Error)
	}
	st, _ := h.e.State("tif")
	if st.Status != StatusError || st.Category != CategoryService || st.LastError == "" {
		t.Errorf("tif state %+v", st)
	}
	if !errors.Is(st.Err(), ErrBackendUnavailable) {
		t.Errorf("tif err = %v", st.Err())
	}
	for _, id := range []string{"parcels", "zoning"} {
		if st, _ := h.e.State(id); st.Status != StatusReady {
			t.Errorf("%s status %s", id, st.Status)
		}
	}
	if h.mem.HasLayer("tif-fill") {
		t.Error("failed layer has renderer layers")
	}

	// a reinitialize after the backend recovers brings it back
	h.svc.mu.Lock()
	delete(h.svc.fail, subTIF)
	h.svc.mu.Unlock()
	if err := h.e.Reinitialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	assertAllReady(t, h.e, 2)
}

func TestArchiveUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	mem := renderer.NewMemory()
	ad := adapter.NewArchive(mem, srv.URL+"/missing.pmtiles", srv.Client(), nil)
	e, err := New(Options{Registry: testRegistry(t), Renderer: mem, Adapter: ad})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	initialize(t, e)

	for _, st := range e.States() {
		if st.Status != StatusError || st.Category != CategoryArchive {
			t.Errorf("%s: %s %s", st.ID, st.Status, st.Category)
		}
	}
	if len(mem.LayerIDs()) != 0 {
		t.Errorf("layers added without a header: %v", mem.LayerIDs())
	}
}

func TestStyleSwapReinitializes(t *testing.T) {
	h := newServiceEngine(t)
	initialize(t, h.e)
	eventually(t, "point layer", func() bool { return h.mem.HasLayer(PointLayerID("homes")) })
	h.e.Select("A")

	h.mem.SetStyle("dark")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.e.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	assertAllReady(t, h.e, 2)
	if !h.mem.HasLayer(PointLayerID("homes")) {
		t.Error("point layer not rebuilt")
	}
	if !selectedState(h.mem, "parcels", "", "A", stateSelected) {
		t.Error("selection not reapplied after style swap")
	}
	ids := h.mem.LayerIDs()
	assertUnique(t, ids)
	assertStacked(t, ids, "zoning", "tif", "parcels")
	if n := h.mem.HandlerCount(renderer.EventClick, "parcels-fill"); n != 1 {
		t.Errorf("expected one click handler on parcels-fill, got %d", n)
	}
}

func TestClose(t *testing.T) {
	h := newServiceEngine(t)
	initialize(t, h.e)
	h.e.Close()
	h.e.Close()

	if err := h.e.Initialize(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("initialize after close: %v", err)
	}
	if n := h.mem.HandlerCount(renderer.EventStyleLoad, ""); n != 0 {
		t.Errorf("style.load handler still bound")
	}
	if n := h.mem.HandlerCount(renderer.EventClick, "parcels-fill"); n != 0 {
		t.Errorf("click handler still bound")
	}
}
