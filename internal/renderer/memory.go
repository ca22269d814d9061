package renderer

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Memory is a headless Renderer. It keeps the source namespace, the layer
// stack and feature-state in memory, hit-tests with planar geometry, and
// emits events synchronously on the calling goroutine. Handlers are never
// called while Memory holds its lock, so they may call back into it.
type Memory struct {
	mu       sync.Mutex
	name     string
	sources  map[string]*memSource
	layers   []LayerSpec
	states   map[FeatureRef]map[string]any
	vector   map[string]map[string]*GeoJSON
	handlers map[handlerKey]map[int]Handler
	nextID   int
	hovered  map[string]bool
	cursor   string

	// LoadDelay defers a new source's loaded flag (and its sourcedata event).
	LoadDelay time.Duration
	// HitTolerance is the distance, in coordinate units, within which point
	// and line features count as hit.
	HitTolerance float64
}

type memSource struct {
	spec   SourceSpec
	data   *GeoJSON
	loaded bool
}

type handlerKey struct {
	t       EventType
	layerID string
}

// NewMemory creates an empty renderer.
func NewMemory() *Memory {
	return &Memory{
		name:         "default",
		sources:      make(map[string]*memSource),
		states:       make(map[FeatureRef]map[string]any),
		vector:       make(map[string]map[string]*GeoJSON),
		handlers:     make(map[handlerKey]map[int]Handler),
		hovered:      make(map[string]bool),
		HitTolerance: 0.0002,
	}
}

var _ Renderer = (*Memory)(nil)

// AddSource adds a named source.
func (m *Memory) AddSource(id string, spec SourceSpec) error {
	m.mu.Lock()
	if _, exists := m.sources[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("source %q: %w", id, ErrDuplicate)
	}
	src := &memSource{spec: spec, data: spec.Data}
	m.sources[id] = src
	delay := m.LoadDelay
	if delay <= 0 {
		src.loaded = true
	}
	m.mu.Unlock()

	if delay > 0 {
		time.AfterFunc(delay, func() { m.markLoaded(id, src) })
		return nil
	}
	m.emit(Event{Type: EventSourceData, SourceID: id})
	return nil
}

func (m *Memory) markLoaded(id string, src *memSource) {
	m.mu.Lock()
	if m.sources[id] != src {
		m.mu.Unlock()
		return
	}
	src.loaded = true
	m.mu.Unlock()
	m.emit(Event{Type: EventSourceData, SourceID: id})
}

// RemoveSource removes a source. Layers referencing it must be removed first.
func (m *Memory) RemoveSource(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return fmt.Errorf("source %q: %w", id, ErrNotFound)
	}
	for _, l := range m.layers {
		if l.Source == id {
			return fmt.Errorf("source %q used by layer %q: %w", id, l.ID, ErrInUse)
		}
	}
	delete(m.sources, id)
	m.clearStatesLocked(id, "", false)
	return nil
}

// HasSource reports whether a source exists.
func (m *Memory) HasSource(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sources[id]
	return ok
}

// IsSourceLoaded reports whether a source exists and finished loading.
func (m *Memory) IsSourceLoaded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	return ok && src.loaded
}

// SetSourceData replaces a geojson source's data. Feature-state of the
// source is dropped, as a real renderer does when features are re-added.
func (m *Memory) SetSourceData(id string, data *GeoJSON) error {
	m.mu.Lock()
	src, ok := m.sources[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("source %q: %w", id, ErrNotFound)
	}
	src.data = data
	src.loaded = true
	m.clearStatesLocked(id, "", false)
	m.mu.Unlock()

	m.emit(Event{Type: EventSourceData, SourceID: id})
	return nil
}

// SetVectorData stands in for decoded vector tiles: it sets the features
// of one sub-layer of a vector source. The data outlives source removal,
// as tiles outlive a style swap.
func (m *Memory) SetVectorData(sourceID, sourceLayer string, data *GeoJSON) {
	m.mu.Lock()
	if m.vector[sourceID] == nil {
		m.vector[sourceID] = make(map[string]*GeoJSON)
	}
	m.vector[sourceID][sourceLayer] = data
	_, exists := m.sources[sourceID]
	if exists {
		m.clearStatesLocked(sourceID, sourceLayer, true)
	}
	m.mu.Unlock()

	if exists {
		m.emit(Event{Type: EventSourceData, SourceID: sourceID})
	}
}

// AddLayer inserts a style layer below beforeID, or on top when beforeID is
// empty or unknown.
func (m *Memory) AddLayer(spec LayerSpec, beforeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.layerIndexLocked(spec.ID) >= 0 {
		return fmt.Errorf("layer %q: %w", spec.ID, ErrDuplicate)
	}
	if _, ok := m.sources[spec.Source]; !ok {
		return fmt.Errorf("layer %q source %q: %w", spec.ID, spec.Source, ErrNotFound)
	}
	spec.Layout = maps.Clone(spec.Layout)
	spec.Paint = maps.Clone(spec.Paint)

	if i := m.layerIndexLocked(beforeID); beforeID != "" && i >= 0 {
		m.layers = slices.Insert(m.layers, i, spec)
	} else {
		m.layers = append(m.layers, spec)
	}
	return nil
}

// RemoveLayer removes a style layer.
func (m *Memory) RemoveLayer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.layerIndexLocked(id)
	if i < 0 {
		return fmt.Errorf("layer %q: %w", id, ErrNotFound)
	}
	m.layers = slices.Delete(m.layers, i, i+1)
	delete(m.hovered, id)
	return nil
}

// HasLayer reports whether a style layer exists.
func (m *Memory) HasLayer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layerIndexLocked(id) >= 0
}

// LayerIDs returns layer ids bottom to top.
func (m *Memory) LayerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.layers))
	for i, l := range m.layers {
		ids[i] = l.ID
	}
	return ids
}

// Layer returns a copy of a style layer.
func (m *Memory) Layer(id string) (LayerSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.layerIndexLocked(id)
	if i < 0 {
		return LayerSpec{}, false
	}
	l := m.layers[i]
	l.Layout = maps.Clone(l.Layout)
	l.Paint = maps.Clone(l.Paint)
	return l, true
}

// SetLayoutProperty sets a layout property on a layer.
func (m *Memory) SetLayoutProperty(layerID, name string, value any) error {
	return m.setProperty(layerID, func(l *LayerSpec) {
		if l.Layout == nil {
			l.Layout = make(map[string]any)
		}
		l.Layout[name] = value
	})
}

// SetPaintProperty sets a paint property on a layer.
func (m *Memory) SetPaintProperty(layerID, name string, value any) error {
	return m.setProperty(layerID, func(l *LayerSpec) {
		if l.Paint == nil {
			l.Paint = make(map[string]any)
		}
		l.Paint[name] = value
	})
}

func (m *Memory) setProperty(layerID string, fn func(*LayerSpec)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.layerIndexLocked(layerID)
	if i < 0 {
		return fmt.Errorf("layer %q: %w", layerID, ErrNotFound)
	}
	fn(&m.layers[i])
	return nil
}

// SetFeatureState merges state into a feature's ephemeral state.
func (m *Memory) SetFeatureState(ref FeatureRef, state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[ref.Source]; !ok {
		return fmt.Errorf("source %q: %w", ref.Source, ErrNotFound)
	}
	cur := m.states[ref]
	if cur == nil {
		cur = make(map[string]any, len(state))
		m.states[ref] = cur
	}
	maps.Copy(cur, state)
	return nil
}

// RemoveFeatureState removes one key, or all state when key is empty.
func (m *Memory) RemoveFeatureState(ref FeatureRef, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[ref.Source]; !ok {
		return fmt.Errorf("source %q: %w", ref.Source, ErrNotFound)
	}
	if key == "" {
		delete(m.states, ref)
		return nil
	}
	if cur := m.states[ref]; cur != nil {
		delete(cur, key)
		if len(cur) == 0 {
			delete(m.states, ref)
		}
	}
	return nil
}

// FeatureState returns a copy of a feature's state.
func (m *Memory) FeatureState(ref FeatureRef) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.states[ref])
}

// QuerySourceFeatures returns the features of a source matching q.
func (m *Memory) QuerySourceFeatures(sourceID string, q SourceQuery) []Feature {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[sourceID]
	if !ok {
		return nil
	}
	fc := m.dataLocked(sourceID, src, q.SourceLayer)
	if fc == nil {
		return nil
	}

	var out []Feature
	for _, f := range fc.Features {
		feat := m.featureLocked(sourceID, q.SourceLayer, src.spec.PromoteID, f)
		if len(q.IDs) > 0 && !slices.Contains(q.IDs, feat.ID) {
			continue
		}
		if !matches(f.Properties, q.Equals) {
			continue
		}
		out = append(out, feat)
	}
	return out
}

// QueryRenderedFeatures hit-tests pt, topmost layer first.
func (m *Memory) QueryRenderedFeatures(pt orb.Point, layerIDs []string) []Feature {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hitLocked(pt, layerIDs)
}

func (m *Memory) hitLocked(pt orb.Point, layerIDs []string) []Feature {
	var out []Feature
	for i := len(m.layers) - 1; i >= 0; i-- {
		l := m.layers[i]
		if !l.Visible() {
			continue
		}
		if len(layerIDs) > 0 && !slices.Contains(layerIDs, l.ID) {
			continue
		}
		src, ok := m.sources[l.Source]
		if !ok {
			continue
		}
		fc := m.dataLocked(l.Source, src, l.SourceLayer)
		if fc == nil {
			continue
		}
		for _, f := range fc.Features {
			if f.Geometry == nil || !m.contains(f.Geometry, pt) {
				continue
			}
			feat := m.featureLocked(l.Source, l.SourceLayer, src.spec.PromoteID, f)
			feat.LayerID = l.ID
			out = append(out, feat)
		}
	}
	return out
}

func (m *Memory) contains(g orb.Geometry, pt orb.Point) bool {
	switch geom := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geom, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geom, pt)
	case orb.Bound:
		return geom.Contains(pt)
	default:
		return planar.DistanceFrom(g, pt) <= m.HitTolerance
	}
}

func (m *Memory) dataLocked(sourceID string, src *memSource, sourceLayer string) *GeoJSON {
	if src.spec.Type == SourceVector {
		return m.vector[sourceID][sourceLayer]
	}
	return src.data
}

func (m *Memory) featureLocked(sourceID, sourceLayer, promote string, f *geojson.Feature) Feature {
	feat := Feature{
		ID:          PromotedID(f, promote),
		Source:      sourceID,
		SourceLayer: sourceLayer,
		Properties:  maps.Clone(map[string]any(f.Properties)),
		Geometry:    f.Geometry,
	}
	feat.State = maps.Clone(m.states[FeatureRef{Source: sourceID, SourceLayer: sourceLayer, ID: feat.ID}])
	return feat
}

// SetCursor sets the map canvas cursor.
func (m *Memory) SetCursor(cursor string) {
	m.mu.Lock()
	m.cursor = cursor
	m.mu.Unlock()
}

// Cursor returns the current canvas cursor.
func (m *Memory) Cursor() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// On registers an event handler.
func (m *Memory) On(t EventType, layerID string, fn Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := handlerKey{t: t, layerID: layerID}
	if m.handlers[key] == nil {
		m.handlers[key] = make(map[int]Handler)
	}
	id := m.nextID
	m.nextID++
	m.handlers[key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.handlers[key], id)
			m.mu.Unlock()
		})
	}
}

// HandlerCount returns the number of handlers registered for t on layerID.
func (m *Memory) HandlerCount(t EventType, layerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[handlerKey{t: t, layerID: layerID}])
}

// Click simulates a pointer click at pt.
func (m *Memory) Click(pt orb.Point) {
	m.mu.Lock()
	hits := m.hitLocked(pt, nil)
	m.mu.Unlock()

	var events []Event
	for _, id := range layerOrder(hits) {
		events = append(events, Event{Type: EventClick, LayerID: id, Point: pt, Features: byLayer(hits, id)})
	}
	events = append(events, Event{Type: EventClick, Point: pt, Features: hits})
	m.emit(events...)
}

// Move simulates the pointer moving to pt, emitting enter/move/leave.
func (m *Memory) Move(pt orb.Point) {
	m.mu.Lock()
	hits := m.hitLocked(pt, nil)
	now := make(map[string]bool)
	for _, f := range hits {
		now[f.LayerID] = true
	}
	var events []Event
	for id := range m.hovered {
		if !now[id] {
			events = append(events, Event{Type: EventMouseLeave, LayerID: id, Point: pt})
		}
	}
	for _, id := range layerOrder(hits) {
		if !m.hovered[id] {
			events = append(events, Event{Type: EventMouseEnter, LayerID: id, Point: pt, Features: byLayer(hits, id)})
		}
		events = append(events, Event{Type: EventMouseMove, LayerID: id, Point: pt, Features: byLayer(hits, id)})
	}
	m.hovered = now
	m.mu.Unlock()

	m.emit(events...)
}

// SetStyle swaps the base style: every source, layer and feature-state is
// dropped, then a style.load event fires. Handlers survive the swap.
func (m *Memory) SetStyle(name string) {
	m.mu.Lock()
	m.name = name
	m.sources = make(map[string]*memSource)
	m.layers = nil
	m.states = make(map[FeatureRef]map[string]any)
	m.hovered = make(map[string]bool)
	m.mu.Unlock()

	m.emit(Event{Type: EventStyleLoad})
}

// EmitError delivers a renderer error event.
func (m *Memory) EmitError(err error) {
	m.emit(Event{Type: EventError, Err: err})
}

// Style exports the current state as a style document.
func (m *Memory) Style() StyleDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := StyleDocument{
		Version: 8,
		Name:    m.name,
		Sources: make(map[string]SourceSpec, len(m.sources)),
		Layers:  make([]LayerSpec, len(m.layers)),
	}
	for id, src := range m.sources {
		spec := src.spec
		spec.Data = src.data
		doc.Sources[id] = spec
	}
	copy(doc.Layers, m.layers)
	return doc
}

func (m *Memory) emit(events ...Event) {
	for _, ev := range events {
		key := handlerKey{t: ev.Type, layerID: ev.LayerID}
		m.mu.Lock()
		ids := slices.Sorted(maps.Keys(m.handlers[key]))
		fns := make([]Handler, 0, len(ids))
		for _, id := range ids {
			fns = append(fns, m.handlers[key][id])
		}
		m.mu.Unlock()

		for _, fn := range fns {
			fn(ev)
		}
	}
}

func (m *Memory) layerIndexLocked(id string) int {
	return slices.IndexFunc(m.layers, func(l LayerSpec) bool { return l.ID == id })
}

func (m *Memory) clearStatesLocked(sourceID, sourceLayer string, scoped bool) {
	for ref := range m.states {
		if ref.Source == sourceID && (!scoped || ref.SourceLayer == sourceLayer) {
			delete(m.states, ref)
		}
	}
}

func matches(props geojson.Properties, eq map[string]any) bool {
	for k, want := range eq {
		if fmt.Sprint(props[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func layerOrder(hits []Feature) []string {
	var ids []string
	for _, f := range hits {
		if !slices.Contains(ids, f.LayerID) {
			ids = append(ids, f.LayerID)
		}
	}
	return ids
}

func byLayer(hits []Feature, layerID string) []Feature {
	var out []Feature
	for _, f := range hits {
		if f.LayerID == layerID {
			out = append(out, f)
		}
	}
	return out
}
