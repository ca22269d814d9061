// Package engine keeps configured map layers mounted, styled and
// interactive in a renderer. It owns every write to the renderer's source
// and layer namespace.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-parcel/internal/adapter"
	"github.com/joeblew999/plat-parcel/internal/feed"
	"github.com/joeblew999/plat-parcel/internal/layers"
	"github.com/joeblew999/plat-parcel/internal/logger"
	"github.com/joeblew999/plat-parcel/internal/renderer"
	"github.com/joeblew999/plat-parcel/internal/style"
)

// Options configures an Engine.
type Options struct {
	Registry *layers.Registry
	Renderer renderer.Renderer
	Adapter  adapter.Adapter
	// Feed backs the point layers; nil leaves them empty.
	Feed   feed.Feed
	Bus    *EventBus
	Logger *slog.Logger
}

// Engine is the layer synchronization engine for one mounted map.
type Engine struct {
	reg  *layers.Registry
	r    renderer.Renderer
	ad   adapter.Adapter
	feed feed.Feed
	bus  *EventBus
	log  *slog.Logger
	hl   *highlighter

	points   []*PointLayer
	pointsBy map[string]*PointLayer
	owners   map[string]int

	// runMu serializes mount phases and teardowns.
	runMu sync.Mutex

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	genCtx     context.Context
	genCancel  context.CancelFunc
	generation uint64
	started    bool
	closed     bool
	states     map[string]*LayerState
	visible    map[string]bool
	opacity    map[string]float64
	threeD     bool
	done       chan struct{}
	bound      map[string][]func()
	offs       []func()
	hovered    map[string]bool
}

// New creates an engine. Nothing touches the renderer until Initialize.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil || opts.Renderer == nil || opts.Adapter == nil {
		return nil, errors.New("engine: registry, renderer and adapter are required")
	}
	bus := opts.Bus
	if bus == nil {
		bus = NewEventBus()
	}
	log := logger.Or(opts.Logger)

	e := &Engine{
		reg:      opts.Registry,
		r:        opts.Renderer,
		ad:       opts.Adapter,
		feed:     opts.Feed,
		bus:      bus,
		log:      log,
		hl:       newHighlighter(opts.Renderer),
		pointsBy: make(map[string]*PointLayer),
		owners:   make(map[string]int),
		states:   make(map[string]*LayerState),
		visible:  make(map[string]bool),
		opacity:  make(map[string]float64),
		bound:    make(map[string][]func()),
		hovered:  make(map[string]bool),
	}

	for i, d := range e.reg.Descriptors() {
		e.visible[d.ID] = d.DefaultVisible
		e.opacity[d.ID] = d.DefaultOpacity
		h, _ := style.Build(d, "", "", false, 0)
		for _, id := range h.All() {
			e.owners[id] = i
		}
		e.owners[style.ExtrusionID(d.ID)] = i
	}
	for _, cfg := range e.reg.Points() {
		p := newPointLayer(cfg, e.r, bus, log)
		e.points = append(e.points, p)
		e.pointsBy[cfg.ID] = p
		e.owners[p.LayerID()] = -1
	}

	closed := make(chan struct{})
	close(closed)
	e.done = closed
	return e, nil
}

// Bus returns the event bus.
func (e *Engine) Bus() *EventBus { return e.bus }

// Registry returns the layer registry.
func (e *Engine) Registry() *layers.Registry { return e.reg }

// Renderer returns the renderer the engine drives.
func (e *Engine) Renderer() renderer.Renderer { return e.r }

// Mode returns the backend mode chosen at construction.
func (e *Engine) Mode() adapter.Mode { return e.ad.Mode() }

// PointLayers returns the point-layer managers in configured order.
func (e *Engine) PointLayers() []*PointLayer { return e.points }

// PointLayer returns a point-layer manager by id.
func (e *Engine) PointLayer(id string) (*PointLayer, bool) {
	p, ok := e.pointsBy[id]
	return p, ok
}

// SetVisibility records the desired visibility and writes it through.
// Layers still loading pick it up when they become ready.
func (e *Engine) SetVisibility(id string, visible bool) error {
	if p, ok := e.pointsBy[id]; ok {
		p.SetVisibility(visible)
		return nil
	}
	d, ok := e.reg.Get(id)
	if !ok {
		return ErrUnknownLayer
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.visible[id] = visible
	if e.readyLocked(id) {
		e.ad.SetVisibility(d, visible)
	}
	return nil
}

// SetOpacity records the desired opacity and writes it through.
func (e *Engine) SetOpacity(id string, opacity float64) error {
	if p, ok := e.pointsBy[id]; ok {
		p.SetOpacity(opacity)
		return nil
	}
	d, ok := e.reg.Get(id)
	if !ok {
		return ErrUnknownLayer
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opacity[id] = opacity
	if e.readyLocked(id) {
		e.ad.SetOpacity(d, opacity)
	}
	return nil
}

// Set3D toggles the extrusion variant. Until the extrudable layer is Ready
// only the flag is recorded; finish applies it. Backends without a variant
// only record the flag.
func (e *Engine) Set3D(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threeD = enabled
	return e.apply3DLocked()
}

// apply3DLocked brings the extrusion in line with the flag once the
// extrudable layer is Ready.
func (e *Engine) apply3DLocked() error {
	x, ok := e.ad.(adapter.Extruder)
	if !ok {
		return nil
	}
	d, ok := e.reg.Extrudable()
	if !ok || !e.readyLocked(d.ID) {
		return nil
	}
	return x.Set3D(e.threeD)
}

// ThreeD reports the 3D flag.
func (e *Engine) ThreeD() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threeD
}

// Select marks a feature of the selectable layer as selected.
func (e *Engine) Select(id string) {
	e.hl.Select(id)
	e.publishSelection()
}

// ClearSelection clears the selected feature and any selected marker.
func (e *Engine) ClearSelection() {
	e.hl.ClearSelection()
	for _, p := range e.points {
		p.ClearSelection()
	}
	e.publishSelection()
}

// Highlight replaces the highlighted feature set.
func (e *Engine) Highlight(ids []string) {
	e.hl.Highlight(ids)
	e.publishSelection()
}

// ClearHighlights clears every highlight.
func (e *Engine) ClearHighlights() {
	e.hl.ClearHighlights()
	e.publishSelection()
}

// Highlights returns the selection and highlighted set.
func (e *Engine) Highlights() HighlightState { return e.hl.State() }

func (e *Engine) publishSelection() {
	st := e.hl.State()
	e.bus.Publish(Event{Type: EventSelectionChanged, Selection: &st})
}

// SelectPoint selects a cached point record.
func (e *Engine) SelectPoint(layerID, recordID string) (feed.Record, error) {
	p, ok := e.pointsBy[layerID]
	if !ok {
		return feed.Record{}, ErrUnknownLayer
	}
	return p.Select(recordID)
}

// Refresher is implemented by adapters that re-query on viewport changes.
type Refresher interface {
	Refresh(ctx context.Context, b orb.Bound) error
}

// Refresh re-queries service layers for a new viewport. Archive mode has
// nothing to refresh.
func (e *Engine) Refresh(ctx context.Context, b orb.Bound) error {
	if rf, ok := e.ad.(Refresher); ok {
		return rf.Refresh(ctx, b)
	}
	return nil
}
