package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/joeblew999/plat-parcel/internal/adapter"
	"github.com/joeblew999/plat-parcel/internal/layers"
	"github.com/joeblew999/plat-parcel/internal/metrics"
	"github.com/joeblew999/plat-parcel/internal/renderer"
	"github.com/joeblew999/plat-parcel/internal/style"
)

// Status is a layer's lifecycle status.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusLoading       Status = "loading"
	StatusReady         Status = "ready"
	StatusError         Status = "error"
)

// LayerState is the runtime state of one descriptor. A reinitialize
// replaces every LayerState wholesale.
type LayerState struct {
	ID         string          `json:"id" doc:"Layer id"`
	Status     Status          `json:"status" enum:"uninitialized,loading,ready,error" doc:"Lifecycle status"`
	SourceID   string          `json:"sourceId,omitempty" doc:"Renderer source id"`
	Handles    adapter.Handles `json:"handles" doc:"Renderer style layers"`
	LastError  string          `json:"lastError,omitempty" doc:"Last error message"`
	Category   Category        `json:"category,omitempty" doc:"Backend category of the last error"`
	Generation uint64          `json:"generation" doc:"Generation that built this state"`
	Mode       adapter.Mode    `json:"mode" doc:"Backend mode"`

	err     *LayerError
	started time.Time
}

// Err returns the layer error, if the layer failed.
func (s LayerState) Err() *LayerError { return s.err }

// EngineState is a snapshot of the whole engine.
type EngineState struct {
	Mode       adapter.Mode   `json:"mode" doc:"Backend mode"`
	ThreeD     bool           `json:"threeD" doc:"3D extrusion enabled"`
	Generation uint64         `json:"generation" doc:"Reinitialize generation"`
	Layers     []LayerState   `json:"layers" doc:"Per-layer runtime state in configured order"`
	Highlights HighlightState `json:"highlights" doc:"Selection and highlights"`
}

// Initialize mounts every descriptor and blocks until each is ready or has
// failed. visibility overrides default visibility per layer id. Per-layer
// failures are reported as events and in State, not returned.
func (e *Engine) Initialize(ctx context.Context, visibility map[string]bool) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	first := !e.started
	e.started = true
	if first {
		e.ctx, e.cancel = context.WithCancel(context.Background())
	}
	var points []*PointLayer
	var pointVis []bool
	for id, v := range visibility {
		if _, ok := e.reg.Get(id); ok {
			e.visible[id] = v
		} else if p, ok := e.pointsBy[id]; ok {
			points = append(points, p)
			pointVis = append(pointVis, v)
		}
	}
	e.mu.Unlock()

	for i, p := range points {
		p.SetVisibility(pointVis[i])
	}
	if !first {
		return e.Reinitialize(ctx)
	}

	e.bindRenderer()
	e.startFeeds()
	return e.wait(ctx, e.start())
}

// Reinitialize tears down every engine-owned renderer resource and
// rebuilds from scratch in a new generation, then waits for it.
func (e *Engine) Reinitialize(ctx context.Context) error {
	done, err := e.reinitialize()
	if err != nil {
		return err
	}
	return e.wait(ctx, done)
}

func (e *Engine) reinitialize() (chan struct{}, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if !e.started {
		e.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if e.genCancel != nil {
		e.genCancel()
	}
	gen := e.generation
	e.mu.Unlock()

	metrics.ReinitializationsTotal.Inc()
	e.log.Info("reinitialize_start", "generation", gen)

	e.teardown()
	for _, p := range e.points {
		p.unmount()
		if err := p.remount(); err != nil {
			e.log.Warn("point_layer_remount_failed", "layer", p.ID(), "error", err)
		}
	}
	return e.start(), nil
}

// Wait blocks until the current generation has settled.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	return e.wait(ctx, done)
}

func (e *Engine) wait(ctx context.Context, done chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all work and unbinds every handler. Renderer resources are
// left for the host to discard with the map.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	offs := e.offs
	e.offs = nil
	bound := e.bound
	e.bound = make(map[string][]func())
	e.mu.Unlock()

	for _, fn := range offs {
		fn()
	}
	for _, fns := range bound {
		for _, fn := range fns {
			fn()
		}
	}
}

// start opens a new generation and launches its mount run.
func (e *Engine) start() chan struct{} {
	e.mu.Lock()
	if e.genCancel != nil {
		e.genCancel()
	}
	e.generation++
	gen := e.generation
	ctx, cancel := context.WithCancel(e.ctx)
	e.genCtx = ctx
	e.genCancel = cancel
	done := make(chan struct{})
	e.done = done

	descs := e.reg.Descriptors()
	for _, d := range descs {
		e.states[d.ID] = e.newStateLocked(d.ID, gen)
	}
	e.mu.Unlock()

	go e.run(ctx, gen, descs, done)
	return done
}

func (e *Engine) newStateLocked(id string, gen uint64) *LayerState {
	return &LayerState{ID: id, Status: StatusUninitialized, Generation: gen, Mode: e.ad.Mode()}
}

// run mounts descriptors in reverse configured order so the first one ends
// up on top, then waits for every layer to settle.
func (e *Engine) run(ctx context.Context, gen uint64, descs []layers.Descriptor, done chan struct{}) {
	var wg sync.WaitGroup
	defer close(done)

	e.runMu.Lock()
	if err := e.ad.Prepare(ctx); err != nil {
		e.runMu.Unlock()
		for _, d := range descs {
			if st, _, ok := e.beginLoading(gen, d); ok {
				e.finish(ctx, gen, st, d, err)
			}
		}
		return
	}
	for _, d := range slices.Backward(descs) {
		if !e.mountLocked(ctx, gen, d, &wg) {
			break
		}
	}
	e.runMu.Unlock()
	wg.Wait()
}

// mountLocked mounts d and starts waiting for it. runMu must be held.
// It reports false once gen is stale.
func (e *Engine) mountLocked(ctx context.Context, gen uint64, d layers.Descriptor, wg *sync.WaitGroup) bool {
	if ctx.Err() != nil {
		return false
	}
	st, visible, ok := e.beginLoading(gen, d)
	if !ok {
		return false
	}
	h, err := e.ad.Mount(ctx, d, visible, e.placement)
	if err != nil {
		e.finish(ctx, gen, st, d, err)
		return true
	}

	source, _ := adapter.Locate(e.ad.Mode(), d)
	e.mu.Lock()
	st.Handles = h
	st.SourceID = source
	e.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.finish(ctx, gen, st, d, e.ad.AwaitReady(ctx, d))
	}()
	return true
}

// beginLoading moves d's state of generation gen to Loading.
func (e *Engine) beginLoading(gen uint64, d layers.Descriptor) (*LayerState, bool, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return nil, false, false
	}
	st := e.states[d.ID]
	if st == nil || st.Generation != gen {
		st = e.newStateLocked(d.ID, gen)
		e.states[d.ID] = st
	}
	st.Status = StatusLoading
	st.LastError = ""
	st.Category = ""
	st.err = nil
	st.started = time.Now()
	return st, e.visible[d.ID], true
}

// finish takes the Loading → Ready|Error transition, unless st no longer
// belongs to the current generation. A cancelled generation context marks
// the result stale even before the next generation starts.
func (e *Engine) finish(ctx context.Context, gen uint64, st *LayerState, d layers.Descriptor, err error) {
	mode := e.ad.Mode()

	e.mu.Lock()
	if ctx.Err() != nil || e.generation != gen || e.states[d.ID] != st || st.Status != StatusLoading {
		e.mu.Unlock()
		metrics.StaleDiscardsTotal.Inc()
		e.log.Debug("layer_stale", "layer", d.ID, "generation", gen, "error", ErrStaleGeneration)
		return
	}
	metrics.LayerInitDurationMs.WithLabelValues(string(mode)).Observe(float64(time.Since(st.started).Milliseconds()))

	if err != nil {
		le := &LayerError{LayerID: d.ID, Category: categorize(mode, err), Err: err}
		st.Status = StatusError
		st.LastError = err.Error()
		st.Category = le.Category
		st.err = le
		e.mu.Unlock()

		metrics.LayerInitsTotal.WithLabelValues(string(mode), string(StatusError)).Inc()
		e.log.Warn("layer_error", "layer", d.ID, "category", le.Category, "generation", gen, "error", err)
		e.bus.Publish(Event{Type: EventLayerError, LayerID: d.ID, Error: le, Message: le.Error(), Generation: gen})
		return
	}

	st.Status = StatusReady
	// Writes issued while loading were dropped; re-drive the desired state.
	e.ad.SetVisibility(d, e.visible[d.ID])
	e.ad.SetOpacity(d, e.opacity[d.ID])
	e.bindLayerLocked(d, st.Handles)
	if d.Extrudable {
		if err := e.apply3DLocked(); err != nil {
			e.log.Warn("layer_3d_failed", "layer", d.ID, "error", err)
		}
	}
	e.mu.Unlock()

	if d.Selectable {
		source, sourceLayer := adapter.Locate(mode, d)
		e.hl.setTarget(&target{Source: source, SourceLayer: sourceLayer})
		e.hl.Reapply()
	}

	metrics.LayerInitsTotal.WithLabelValues(string(mode), string(StatusReady)).Inc()
	e.log.Info("layer_ready", "layer", d.ID, "mode", mode, "generation", gen)
	e.bus.Publish(Event{Type: EventLayerReady, LayerID: d.ID, Generation: gen})
}

// teardown removes every descriptor's layers and sources. Renderer
// "already removed" errors are swallowed by the adapter.
func (e *Engine) teardown() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.mu.Lock()
	old := e.states
	e.states = make(map[string]*LayerState)
	bound := e.bound
	e.bound = make(map[string][]func())
	clear(e.hovered)
	e.mu.Unlock()

	e.hl.setTarget(nil)
	e.r.SetCursor("")
	for _, fns := range bound {
		for _, fn := range fns {
			fn()
		}
	}
	for _, d := range e.reg.Descriptors() {
		if _, ok := old[d.ID]; !ok {
			continue
		}
		if err := e.ad.Unmount(d); err != nil {
			e.log.Debug("layer_unmount_failed", "layer", d.ID, "error", err)
		}
	}
	e.ad.Destroy()
}

// Mount mounts one descriptor in the current generation. A layer that is
// loading, or ready with its source present, only gets its visibility
// reconciled.
func (e *Engine) Mount(ctx context.Context, id string) error {
	d, ok := e.reg.Get(id)
	if !ok {
		return ErrUnknownLayer
	}

	e.mu.Lock()
	if !e.started || e.closed {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	gen, genCtx := e.generation, e.genCtx
	st := e.states[id]
	if st != nil && st.Status == StatusLoading {
		e.mu.Unlock()
		return nil
	}
	if st != nil && st.Status == StatusReady {
		source, _ := adapter.Locate(e.ad.Mode(), d)
		if e.r.HasSource(source) {
			e.ad.SetVisibility(d, e.visible[id])
			e.mu.Unlock()
			return nil
		}
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	e.runMu.Lock()
	e.mountLocked(genCtx, gen, d, &wg)
	e.runMu.Unlock()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	if err := e.wait(ctx, done); err != nil {
		return err
	}
	if st, ok := e.State(id); ok && st.err != nil {
		return st.err
	}
	return nil
}

// Unmount permanently removes a descriptor's renderer resources.
func (e *Engine) Unmount(id string) error {
	d, ok := e.reg.Get(id)
	if !ok {
		return ErrUnknownLayer
	}
	e.mu.Lock()
	delete(e.states, id)
	offs := e.bound[style.FillID(d.ID)]
	delete(e.bound, style.FillID(d.ID))
	e.mu.Unlock()

	for _, fn := range offs {
		fn()
	}
	if d.Selectable {
		e.hl.setTarget(nil)
	}
	return e.ad.Unmount(d)
}

// State returns one layer's runtime state.
func (e *Engine) State(id string) (LayerState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[id]
	if !ok {
		return LayerState{}, false
	}
	return *st, true
}

// States returns every layer's runtime state in configured order.
func (e *Engine) States() []LayerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []LayerState
	for _, d := range e.reg.Descriptors() {
		if st, ok := e.states[d.ID]; ok {
			out = append(out, *st)
		}
	}
	return out
}

// Snapshot returns the whole engine state.
func (e *Engine) Snapshot() EngineState {
	states := e.States()
	e.mu.Lock()
	s := EngineState{
		Mode:       e.ad.Mode(),
		ThreeD:     e.threeD,
		Generation: e.generation,
		Layers:     states,
	}
	e.mu.Unlock()
	s.Highlights = e.hl.State()
	return s
}

// Desired returns the desired visibility and opacity of a layer.
func (e *Engine) Desired(id string) (visible bool, opacity float64, ok bool) {
	if p, found := e.pointsBy[id]; found {
		return p.Visible(), p.Opacity(), true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	visible, ok = e.visible[id]
	return visible, e.opacity[id], ok
}

func (e *Engine) readyLocked(id string) bool {
	st, ok := e.states[id]
	return ok && st.Status == StatusReady
}

// placement inserts a descriptor's layers below the lowest layer of any
// descriptor configured before it; point markers count as configured
// before every descriptor.
func (e *Engine) placement(descriptorID string) string {
	idx := e.reg.Index(descriptorID)
	for _, id := range e.r.LayerIDs() {
		if owner, ok := e.owners[id]; ok && owner < idx {
			return id
		}
	}
	return ""
}

// bindRenderer registers the map-level handlers once.
func (e *Engine) bindRenderer() {
	offs := []func(){
		e.r.On(renderer.EventStyleLoad, "", func(renderer.Event) {
			if _, err := e.reinitialize(); err != nil && !errors.Is(err, ErrClosed) {
				e.log.Warn("reinitialize_failed", "error", err)
			}
		}),
		e.r.On(renderer.EventSourceData, "", func(ev renderer.Event) {
			if src, ok := e.hl.source(); ok && src == ev.SourceID {
				e.hl.Reapply()
			}
		}),
		e.r.On(renderer.EventError, "", func(ev renderer.Event) {
			le := &LayerError{Category: CategoryRenderer, Err: ev.Err}
			e.log.Warn("renderer_error", "error", ev.Err)
			e.bus.Publish(Event{Type: EventLayerError, Error: le, Message: le.Error()})
		}),
	}
	offs = append(offs, e.bindPoints()...)

	e.mu.Lock()
	e.offs = append(e.offs, offs...)
	e.mu.Unlock()
}

func (e *Engine) startFeeds() {
	if e.feed == nil {
		return
	}
	for _, p := range e.points {
		if err := p.run(e.ctx, e.feed); err != nil {
			le := &LayerError{LayerID: p.ID(), Category: CategoryFeed, Err: err}
			e.log.Warn("layer_error", "layer", p.ID(), "category", CategoryFeed, "error", err)
			e.bus.Publish(Event{Type: EventLayerError, LayerID: p.ID(), Error: le, Message: le.Error()})
		}
	}
}
