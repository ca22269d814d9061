// Package adapter materializes configured layers in a renderer from one of
// two backends: a remote feature service or a vector tile archive.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joeblew999/plat-parcel/internal/layers"
	"github.com/joeblew999/plat-parcel/internal/logger"
	"github.com/joeblew999/plat-parcel/internal/renderer"
	"github.com/joeblew999/plat-parcel/internal/style"
)

// Mode names a backend.
type Mode string

const (
	ModeService Mode = "service"
	ModeArchive Mode = "archive"
)

// Handles are the style layers rendering one descriptor.
type Handles = style.Handles

var (
	// ErrTimeout is returned when a source does not become ready in time.
	ErrTimeout = errors.New("backend timed out")
	// ErrUnavailable is returned when the backend cannot serve a layer.
	ErrUnavailable = errors.New("backend unavailable")
)

// Readiness polling.
const (
	PollInterval = 100 * time.Millisecond
	ReadyTimeout = 10 * time.Second
)

// Placement returns the layer id a descriptor's style layers are inserted
// before. An empty id appends to the top.
type Placement func(descriptorID string) string

// Adapter mounts descriptors in a renderer.
type Adapter interface {
	Mode() Mode
	// Prepare runs one-time backend setup.
	Prepare(ctx context.Context) error
	// Mount starts attaching d. The returned handles name the layers that
	// will exist once the layer is ready. Mounting an already-attached
	// source only returns its handles.
	Mount(ctx context.Context, d layers.Descriptor, visible bool, place Placement) (Handles, error)
	// AwaitReady blocks until d's source is usable or attaching failed.
	AwaitReady(ctx context.Context, d layers.Descriptor) error
	SetVisibility(d layers.Descriptor, visible bool)
	SetOpacity(d layers.Descriptor, opacity float64)
	Unmount(d layers.Descriptor) error
	// Destroy forgets all mounts; the renderer's style is assumed gone.
	Destroy()
}

// Extruder is implemented by adapters that support the 3D zoning variant.
type Extruder interface {
	Set3D(enabled bool) error
}

// mount is the adapter-side record of a mounted descriptor.
type mount struct {
	d       layers.Descriptor
	h       Handles
	visible bool
	opacity float64
}

// base holds what both adapters share: the renderer, a synchronizer and
// the mount table.
type base struct {
	r    renderer.Renderer
	sync *style.Synchronizer
	log  *slog.Logger

	mu     sync.Mutex
	mounts map[string]*mount
}

func newBase(r renderer.Renderer, log *slog.Logger) base {
	return base{
		r:      r,
		sync:   style.NewSynchronizer(r),
		log:    logger.Or(log),
		mounts: make(map[string]*mount),
	}
}

func (b *base) track(d layers.Descriptor, h Handles, visible bool) *mount {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.mounts[d.ID]
	if !ok {
		m = &mount{d: d, opacity: d.DefaultOpacity}
		b.mounts[d.ID] = m
	}
	m.h = h
	m.visible = visible
	return m
}

func (b *base) lookup(id string) (mount, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.mounts[id]
	if !ok {
		return mount{}, false
	}
	return *m, true
}

// SetVisibility writes visibility to every mounted layer of d.
func (b *base) SetVisibility(d layers.Descriptor, visible bool) {
	b.mu.Lock()
	m, ok := b.mounts[d.ID]
	if ok {
		m.visible = visible
	}
	var h Handles
	if ok {
		h = m.h
	}
	b.mu.Unlock()
	if ok {
		b.sync.Visibility(h, visible)
	}
}

// SetOpacity writes opacity to every mounted layer of d.
func (b *base) SetOpacity(d layers.Descriptor, opacity float64) {
	b.mu.Lock()
	m, ok := b.mounts[d.ID]
	if ok {
		m.opacity = opacity
	}
	var h Handles
	if ok {
		h = m.h
	}
	b.mu.Unlock()
	if ok {
		b.sync.Opacity(h, opacity)
	}
}

// addLayers inserts specs that do not exist yet, keeping their relative
// order, before place(d.ID).
func (b *base) addLayers(d layers.Descriptor, specs []renderer.LayerSpec, place Placement) error {
	before := ""
	if place != nil {
		before = place(d.ID)
	}
	for _, spec := range specs {
		if b.r.HasLayer(spec.ID) {
			continue
		}
		if err := b.r.AddLayer(spec, before); err != nil && !errors.Is(err, renderer.ErrDuplicate) {
			return fmt.Errorf("adding layer %s: %w", spec.ID, err)
		}
	}
	return nil
}

func (b *base) removeLayers(h Handles) {
	for _, id := range h.All() {
		if err := b.r.RemoveLayer(id); err != nil && !errors.Is(err, renderer.ErrNotFound) {
			b.log.Warn("layer_remove_failed", "layer", id, "error", err)
		}
	}
}

func (b *base) forget(id string) (mount, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.mounts[id]
	if !ok {
		return mount{}, false
	}
	delete(b.mounts, id)
	return *m, true
}

func (b *base) reset() {
	b.mu.Lock()
	b.mounts = make(map[string]*mount)
	b.mu.Unlock()
}

// poll checks cond every PollInterval until it reports done, returns an
// error, ctx ends, or ReadyTimeout elapses.
func poll(ctx context.Context, timeout time.Duration, cond func() (bool, error)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(PollInterval)
	defer tick.Stop()
	for {
		done, err := cond()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrTimeout
		case <-tick.C:
		}
	}
}

// Locate returns the source and sub-layer holding d's features in mode.
func Locate(mode Mode, d layers.Descriptor) (source, layer string) {
	if mode == ModeArchive {
		return ArchiveSourceID, sourceLayer(d)
	}
	return d.ID, ""
}
