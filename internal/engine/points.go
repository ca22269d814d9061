package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/joeblew999/plat-parcel/internal/feed"
	"github.com/joeblew999/plat-parcel/internal/layers"
	"github.com/joeblew999/plat-parcel/internal/renderer"
	"github.com/joeblew999/plat-parcel/internal/style"
)

// PointLayerID is the source and style layer id of a point layer.
func PointLayerID(id string) string { return "points-" + id }

// PointLayer keeps one live-feed marker layer mounted. The latest snapshot
// is cached by record id so clicks resolve to full records.
type PointLayer struct {
	cfg  layers.PointLayer
	r    renderer.Renderer
	sync *style.Synchronizer
	bus  *EventBus
	log  *slog.Logger

	mu       sync.Mutex
	records  []feed.Record
	byID     map[string]feed.Record
	selected string
	visible  bool
	opacity  float64
	loaded   bool
}

func newPointLayer(cfg layers.PointLayer, r renderer.Renderer, bus *EventBus, log *slog.Logger) *PointLayer {
	return &PointLayer{
		cfg:     cfg,
		r:       r,
		sync:    style.NewSynchronizer(r),
		bus:     bus,
		log:     log,
		byID:    make(map[string]feed.Record),
		visible: cfg.DefaultVisible,
		opacity: cfg.DefaultOpacity,
	}
}

// ID returns the configured id.
func (p *PointLayer) ID() string { return p.cfg.ID }

// LayerID returns the renderer layer id.
func (p *PointLayer) LayerID() string { return PointLayerID(p.cfg.ID) }

// Config returns the layer configuration.
func (p *PointLayer) Config() layers.PointLayer { return p.cfg }

// run applies snapshots until the subscription ends.
func (p *PointLayer) run(ctx context.Context, f feed.Feed) error {
	ch, err := f.Subscribe(ctx, feed.Query{Collection: p.cfg.Collection})
	if err != nil {
		return err
	}
	go func() {
		for records := range ch {
			p.apply(records)
		}
	}()
	return nil
}

// apply replaces the cached snapshot and the source data.
func (p *PointLayer) apply(records []feed.Record) {
	p.mu.Lock()
	p.records = slices.Clone(records)
	p.byID = make(map[string]feed.Record, len(records))
	for _, r := range records {
		p.byID[r.ID] = r
	}
	p.loaded = true
	p.mu.Unlock()

	if p.r.HasSource(p.LayerID()) {
		if err := p.r.SetSourceData(p.LayerID(), feed.Collection(records)); err != nil {
			p.log.Warn("point_layer_update_failed", "layer", p.cfg.ID, "error", err)
		}
		return
	}
	if err := p.mount(); err != nil {
		p.log.Warn("point_layer_mount_failed", "layer", p.cfg.ID, "error", err)
	}
}

// mount adds the source and circle layer from the cached records. Existing
// resources are kept.
func (p *PointLayer) mount() error {
	p.mu.Lock()
	records := slices.Clone(p.records)
	visible, opacity, selected := p.visible, p.opacity, p.selected
	p.mu.Unlock()

	id := p.LayerID()
	err := p.r.AddSource(id, renderer.SourceSpec{
		Type:      renderer.SourceGeoJSON,
		Data:      feed.Collection(records),
		PromoteID: "id",
	})
	if err != nil && !errors.Is(err, renderer.ErrDuplicate) {
		return err
	}
	err = p.r.AddLayer(renderer.LayerSpec{
		ID:     id,
		Type:   renderer.LayerCircle,
		Source: id,
		Layout: map[string]any{"visibility": renderer.VisibilityValue(visible)},
		Paint:  style.CirclePaint(p.cfg, opacity, selected),
	}, "")
	if err != nil && !errors.Is(err, renderer.ErrDuplicate) {
		return err
	}
	return nil
}

// remount rebuilds the layer after a style swap, if data ever arrived.
func (p *PointLayer) remount() error {
	p.mu.Lock()
	loaded := p.loaded
	p.mu.Unlock()
	if !loaded {
		return nil
	}
	return p.mount()
}

func (p *PointLayer) unmount() {
	_ = p.r.RemoveLayer(p.LayerID())
	_ = p.r.RemoveSource(p.LayerID())
}

// Select marks a cached record and publishes it.
func (p *PointLayer) Select(id string) (feed.Record, error) {
	p.mu.Lock()
	rec, ok := p.byID[id]
	if ok {
		p.selected = id
	}
	p.mu.Unlock()
	if !ok {
		return feed.Record{}, ErrUnknownRecord
	}
	p.sync.Markers(p.LayerID(), p.cfg, id)
	p.bus.Publish(Event{Type: EventPointRecordSelected, LayerID: p.cfg.ID, Point: &rec})
	return rec, nil
}

// ClearSelection resets the selected marker.
func (p *PointLayer) ClearSelection() {
	p.mu.Lock()
	p.selected = ""
	p.mu.Unlock()
	p.sync.Markers(p.LayerID(), p.cfg, "")
}

// Selected returns the selected record id.
func (p *PointLayer) Selected() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

func (p *PointLayer) SetVisibility(visible bool) {
	p.mu.Lock()
	p.visible = visible
	p.mu.Unlock()
	p.sync.PointVisibility(p.LayerID(), visible)
}

func (p *PointLayer) SetOpacity(opacity float64) {
	p.mu.Lock()
	p.opacity = opacity
	p.mu.Unlock()
	p.sync.PointOpacity(p.LayerID(), opacity)
}

// Visible returns the desired visibility.
func (p *PointLayer) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// Opacity returns the desired opacity.
func (p *PointLayer) Opacity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opacity
}

// Record returns a cached record.
func (p *PointLayer) Record(id string) (feed.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.byID[id]
	return r, ok
}

// Records returns the latest snapshot.
func (p *PointLayer) Records() []feed.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.records)
}
