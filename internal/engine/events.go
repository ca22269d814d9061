package engine

import (
	"sync"

	"github.com/joeblew999/plat-parcel/internal/feed"
)

// EventType names an engine event.
type EventType string

const (
	EventLayerError          EventType = "layerError"
	EventLayerReady          EventType = "layerReady"
	EventFeatureClicked      EventType = "featureClicked"
	EventFeatureHovered      EventType = "featureHovered"
	EventPointRecordSelected EventType = "pointRecordSelected"
	EventSelectionChanged    EventType = "selectionChanged"
)

// Event is published to UI collaborators. Record is nil on a hover that
// ended.
type Event struct {
	Type       EventType       `json:"type"`
	LayerID    string          `json:"layerId,omitempty"`
	Record     *FeatureRecord  `json:"record,omitempty"`
	Point      *feed.Record    `json:"point,omitempty"`
	Error      *LayerError     `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
	Generation uint64          `json:"generation,omitempty"`
	Selection  *HighlightState `json:"selection,omitempty"`
}

// EventBus is a fan-out pub/sub for engine events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
