package engine

import (
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-parcel/internal/adapter"
	"github.com/joeblew999/plat-parcel/internal/layers"
	"github.com/joeblew999/plat-parcel/internal/renderer"
)

// Canvas cursors.
const (
	cursorPointer = "pointer"
	cursorDefault = ""
)

// bindLayerLocked binds pointer handlers to the base layer of an
// interactive descriptor, once per constructed layer. e.mu must be held.
func (e *Engine) bindLayerLocked(d layers.Descriptor, h adapter.Handles) {
	if !d.Interactive || h.Fill == "" {
		return
	}
	if _, ok := e.bound[h.Fill]; ok {
		return
	}
	offs := []func(){
		e.r.On(renderer.EventClick, h.Fill, func(ev renderer.Event) { e.onClick(d, ev) }),
		e.r.On(renderer.EventMouseEnter, h.Fill, e.onEnter),
		e.r.On(renderer.EventMouseLeave, h.Fill, func(ev renderer.Event) { e.onLeave(d.Informational(), d.ID, ev) }),
	}
	if d.Informational() {
		offs = append(offs, e.r.On(renderer.EventMouseMove, h.Fill, func(ev renderer.Event) { e.onMove(d, ev) }))
	}
	e.bound[h.Fill] = offs
}

// bindPoints binds the point-marker layers. Their ids are stable across
// reinitializes, so this happens once.
func (e *Engine) bindPoints() []func() {
	var offs []func()
	for _, p := range e.points {
		id := p.LayerID()
		offs = append(offs,
			e.r.On(renderer.EventClick, id, func(ev renderer.Event) { e.onPointClick(p, ev) }),
			e.r.On(renderer.EventMouseEnter, id, e.onEnter),
			e.r.On(renderer.EventMouseLeave, id, func(ev renderer.Event) { e.onLeave(false, p.ID(), ev) }),
		)
	}
	return offs
}

// interactiveLayers returns every bound style layer.
func (e *Engine) interactiveLayers() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.bound)+len(e.points))
	for id := range e.bound {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	for _, p := range e.points {
		ids = append(ids, p.LayerID())
	}
	return ids
}

// topmost resolves the topmost interactive feature under pt.
func (e *Engine) topmost(pt orb.Point) (renderer.Feature, bool) {
	hits := e.r.QueryRenderedFeatures(pt, e.interactiveLayers())
	if len(hits) == 0 {
		return renderer.Feature{}, false
	}
	return hits[0], true
}

// onClick handles a click on a descriptor's base layer. Only the topmost
// interactive layer under the pointer reacts.
func (e *Engine) onClick(d layers.Descriptor, ev renderer.Event) {
	top, ok := e.topmost(ev.Point)
	if !ok || top.LayerID != ev.LayerID {
		return
	}
	rec := NewFeatureRecord(d.ID, top, ev.Point)
	if d.Selectable && rec.ID != "" {
		e.Select(rec.ID)
	}
	e.bus.Publish(Event{Type: EventFeatureClicked, LayerID: d.ID, Record: &rec})
}

func (e *Engine) onPointClick(p *PointLayer, ev renderer.Event) {
	top, ok := e.topmost(ev.Point)
	if !ok || top.LayerID != ev.LayerID {
		return
	}
	if _, err := p.Select(top.ID); err != nil {
		e.log.Debug("point_record_missing", "layer", p.ID(), "id", top.ID)
	}
}

func (e *Engine) onEnter(ev renderer.Event) {
	e.mu.Lock()
	e.hovered[ev.LayerID] = true
	e.mu.Unlock()
	e.r.SetCursor(cursorPointer)
}

func (e *Engine) onLeave(informational bool, layerID string, ev renderer.Event) {
	e.mu.Lock()
	delete(e.hovered, ev.LayerID)
	idle := len(e.hovered) == 0
	e.mu.Unlock()
	if idle {
		e.r.SetCursor(cursorDefault)
	}
	if informational {
		e.bus.Publish(Event{Type: EventFeatureHovered, LayerID: layerID})
	}
}

// onMove publishes tooltip payloads for informational layers.
func (e *Engine) onMove(d layers.Descriptor, ev renderer.Event) {
	top, ok := e.topmost(ev.Point)
	if !ok || top.LayerID != ev.LayerID {
		return
	}
	rec := NewFeatureRecord(d.ID, top, ev.Point)
	e.bus.Publish(Event{Type: EventFeatureHovered, LayerID: d.ID, Record: &rec})
}

// Click dispatches a pointer click to the renderer, when it can simulate
// one.
func (e *Engine) Click(pt orb.Point) bool {
	if s, ok := e.r.(interface{ Click(orb.Point) }); ok {
		s.Click(pt)
		return true
	}
	return false
}

// Move dispatches a pointer move to the renderer, when it can simulate one.
func (e *Engine) Move(pt orb.Point) bool {
	if s, ok := e.r.(interface{ Move(orb.Point) }); ok {
		s.Move(pt)
		return true
	}
	return false
}
