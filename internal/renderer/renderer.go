// Package renderer defines the map renderer contract the engine drives and
// an in-memory implementation of it.
//
// The contract mirrors a Mapbox/MapLibre style map: a flat namespace of
// named sources and an ordered stack of style layers, per-feature ephemeral
// state, feature queries and pointer/load/error events.
package renderer

import (
	"errors"

	"github.com/paulmach/orb"
)

var (
	// ErrDuplicate is returned when a source or layer id is already in use.
	ErrDuplicate = errors.New("renderer: duplicate id")
	// ErrNotFound is returned when a source or layer id does not exist.
	ErrNotFound = errors.New("renderer: not found")
	// ErrInUse is returned when removing a source that layers still reference.
	ErrInUse = errors.New("renderer: source in use")
)

// EventType names a renderer event.
type EventType string

const (
	EventClick      EventType = "click"
	EventMouseEnter EventType = "mouseenter"
	EventMouseMove  EventType = "mousemove"
	EventMouseLeave EventType = "mouseleave"
	EventSourceData EventType = "sourcedata"
	EventStyleLoad  EventType = "style.load"
	EventError      EventType = "error"
)

// Event is delivered to handlers registered with On.
type Event struct {
	Type     EventType
	LayerID  string
	SourceID string
	Point    orb.Point
	Features []Feature
	Err      error
}

// Handler receives renderer events.
type Handler func(Event)

// Feature is a feature as the renderer sees it: promoted id, raw
// attributes and the style layer that produced it (for rendered queries).
type Feature struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	SourceLayer string         `json:"sourceLayer,omitempty"`
	LayerID     string         `json:"layer,omitempty"`
	Properties  map[string]any `json:"properties"`
	Geometry    orb.Geometry   `json:"-"`
	State       map[string]any `json:"state,omitempty"`
}

// FeatureRef addresses a feature for feature-state writes.
type FeatureRef struct {
	Source      string `json:"source"`
	SourceLayer string `json:"sourceLayer,omitempty"`
	ID          string `json:"id"`
}

// SourceQuery filters QuerySourceFeatures results.
type SourceQuery struct {
	SourceLayer string
	// IDs restricts results to these promoted ids when non-empty.
	IDs []string
	// Equals restricts results to features whose attributes equal every entry.
	Equals map[string]any
}

// Renderer is the map renderer contract.
type Renderer interface {
	AddSource(id string, spec SourceSpec) error
	RemoveSource(id string) error
	HasSource(id string) bool
	IsSourceLoaded(id string) bool
	SetSourceData(id string, data *GeoJSON) error

	AddLayer(spec LayerSpec, beforeID string) error
	RemoveLayer(id string) error
	HasLayer(id string) bool
	// LayerIDs returns style layer ids bottom to top.
	LayerIDs() []string

	SetLayoutProperty(layerID, name string, value any) error
	SetPaintProperty(layerID, name string, value any) error

	SetFeatureState(ref FeatureRef, state map[string]any) error
	RemoveFeatureState(ref FeatureRef, key string) error
	FeatureState(ref FeatureRef) map[string]any

	QuerySourceFeatures(sourceID string, q SourceQuery) []Feature
	// QueryRenderedFeatures hit-tests pt against visible layers, topmost
	// first. An empty layerIDs means every layer.
	QueryRenderedFeatures(pt orb.Point, layerIDs []string) []Feature

	SetCursor(cursor string)

	// On registers fn for events of type t. A non-empty layerID scopes
	// pointer events to that style layer. The returned func unregisters.
	On(t EventType, layerID string, fn Handler) (off func())
}
