package engine

import (
	"errors"
	"testing"

	"github.com/joeblew999/plat-parcel/internal/adapter"
	"github.com/joeblew999/plat-parcel/internal/renderer"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(Event{Type: EventLayerReady, LayerID: "zoning"})
	for _, ch := range []chan Event{a, b} {
		if ev := <-ch; ev.LayerID != "zoning" {
			t.Errorf("got %+v", ev)
		}
	}

	bus.Unsubscribe(a)
	bus.Unsubscribe(a)
	if _, ok := <-a; ok {
		t.Error("unsubscribed channel still open")
	}
	bus.Publish(Event{Type: EventLayerReady})
	if len(b) != 1 {
		t.Errorf("remaining subscriber got %d events", len(b))
	}
}

func TestLayerError(t *testing.T) {
	tests := []struct {
		mode      adapter.Mode
		err       error
		category  Category
		retryable bool
	}{
		{adapter.ModeService, adapter.ErrTimeout, CategoryService, true},
		{adapter.ModeArchive, adapter.ErrUnavailable, CategoryArchive, true},
		{adapter.ModeService, renderer.ErrNotFound, CategoryRenderer, false},
		{adapter.ModeArchive, errors.New("bad header"), CategoryArchive, false},
	}
	for _, tt := range tests {
		le := &LayerError{LayerID: "tif", Category: categorize(tt.mode, tt.err), Err: tt.err}
		if le.Category != tt.category {
			t.Errorf("%v in %s: category %s, want %s", tt.err, tt.mode, le.Category, tt.category)
		}
		if le.Retryable() != tt.retryable {
			t.Errorf("%v: retryable = %v", tt.err, le.Retryable())
		}
		if !errors.Is(le, tt.err) {
			t.Errorf("%v not unwrapped", tt.err)
		}
	}
}
