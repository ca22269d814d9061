package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/joeblew999/plat-parcel/internal/layers"
	"github.com/joeblew999/plat-parcel/internal/pmtiles"
	"github.com/joeblew999/plat-parcel/internal/renderer"
	"github.com/joeblew999/plat-parcel/internal/style"
)

// ArchiveSourceID is the single vector source every archive layer shares.
const ArchiveSourceID = "archive"

// Archive renders all descriptors from one vector tile archive. The header
// is fetched once per process.
type Archive struct {
	base
	location string
	client   *http.Client
	timeout  time.Duration
	promote  string

	headerMu sync.Mutex
	header   *pmtiles.HeaderV3

	threeD bool
}

// NewArchive creates an archive-mode adapter for the archive at location.
func NewArchive(r renderer.Renderer, location string, client *http.Client, log *slog.Logger) *Archive {
	return &Archive{
		base:     newBase(r, log),
		location: location,
		client:   client,
		timeout:  ReadyTimeout,
	}
}

// WithPromoteID promotes attr to the feature id of every archive feature.
func (a *Archive) WithPromoteID(attr string) *Archive {
	a.promote = attr
	return a
}

// SetReadyTimeout overrides ReadyTimeout.
func (a *Archive) SetReadyTimeout(d time.Duration) { a.timeout = d }

func (a *Archive) Mode() Mode { return ModeArchive }

// Prepare fetches the archive header for its zoom range.
func (a *Archive) Prepare(ctx context.Context) error {
	a.headerMu.Lock()
	defer a.headerMu.Unlock()
	if a.header != nil {
		return nil
	}
	h, err := pmtiles.FetchHeader(ctx, a.client, a.location)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	a.header = &h
	a.log.Info("archive_header", "location", a.location, "min_zoom", h.MinZoom, "max_zoom", h.MaxZoom)
	return nil
}

// Header returns the fetched header, if any.
func (a *Archive) Header() (pmtiles.HeaderV3, bool) {
	a.headerMu.Lock()
	defer a.headerMu.Unlock()
	if a.header == nil {
		return pmtiles.HeaderV3{}, false
	}
	return *a.header, true
}

func (a *Archive) ensureSource() error {
	if a.r.HasSource(ArchiveSourceID) {
		return nil
	}
	h, ok := a.Header()
	if !ok {
		return fmt.Errorf("archive header not loaded: %w", ErrUnavailable)
	}
	err := a.r.AddSource(ArchiveSourceID, renderer.SourceSpec{
		Type:      renderer.SourceVector,
		URL:       pmtiles.SourceURL(a.location),
		MinZoom:   float64(h.MinZoom),
		MaxZoom:   float64(h.MaxZoom),
		PromoteID: a.promote,
	})
	if err != nil && !errors.Is(err, renderer.ErrDuplicate) {
		return err
	}
	return nil
}

func sourceLayer(d layers.Descriptor) string {
	if d.SourceLayer != "" {
		return d.SourceLayer
	}
	return d.ID
}

func (a *Archive) Mount(ctx context.Context, d layers.Descriptor, visible bool, place Placement) (Handles, error) {
	if err := a.ensureSource(); err != nil {
		return Handles{}, err
	}
	h, specs := style.Build(d, ArchiveSourceID, sourceLayer(d), visible, d.DefaultOpacity)

	a.mu.Lock()
	threeD := a.threeD
	a.mu.Unlock()
	if threeD && d.Extrudable {
		h.Extrusion = style.ExtrusionID(d.ID)
		ext := style.BuildExtrusion(d, ArchiveSourceID, sourceLayer(d), visible, d.DefaultOpacity)
		// extrusion sits directly above the flat fill
		specs = append(specs[:1], append([]renderer.LayerSpec{ext}, specs[1:]...)...)
	}
	a.track(d, h, visible)
	return h, a.addLayers(d, specs, place)
}

// AwaitReady waits for the shared source to finish loading.
func (a *Archive) AwaitReady(ctx context.Context, d layers.Descriptor) error {
	return poll(ctx, a.timeout, func() (bool, error) {
		return a.r.IsSourceLoaded(ArchiveSourceID) && a.r.HasLayer(style.FillID(d.ID)), nil
	})
}

// Set3D adds or removes the extrusion layer of the extrudable descriptor.
// The flat layer stays underneath either way. Repeated calls are no-ops.
func (a *Archive) Set3D(enabled bool) error {
	a.mu.Lock()
	a.threeD = enabled
	var target *mount
	for _, m := range a.mounts {
		if m.d.Extrudable {
			target = m
			break
		}
	}
	var m mount
	if target != nil {
		if enabled {
			target.h.Extrusion = style.ExtrusionID(target.d.ID)
		} else {
			target.h.Extrusion = ""
		}
		m = *target
	}
	a.mu.Unlock()

	if target == nil {
		return nil
	}
	id := style.ExtrusionID(m.d.ID)
	if !enabled {
		if err := a.r.RemoveLayer(id); err != nil && !errors.Is(err, renderer.ErrNotFound) {
			return err
		}
		return nil
	}
	if a.r.HasLayer(id) {
		return nil
	}
	ext := style.BuildExtrusion(m.d, ArchiveSourceID, sourceLayer(m.d), m.visible, m.opacity)
	if err := a.r.AddLayer(ext, m.h.Stroke); err != nil && !errors.Is(err, renderer.ErrDuplicate) {
		return fmt.Errorf("adding extrusion: %w", err)
	}
	return nil
}

func (a *Archive) Unmount(d layers.Descriptor) error {
	m, ok := a.forget(d.ID)
	if !ok {
		return nil
	}
	a.removeLayers(m.h)
	a.removeLayers(Handles{Extrusion: style.ExtrusionID(d.ID)})

	a.mu.Lock()
	empty := len(a.mounts) == 0
	a.mu.Unlock()
	if empty {
		if err := a.r.RemoveSource(ArchiveSourceID); err != nil && !errors.Is(err, renderer.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Destroy forgets mounts but keeps the fetched header and the 3D flag.
func (a *Archive) Destroy() {
	a.reset()
}

var (
	_ Adapter  = (*Archive)(nil)
	_ Extruder = (*Archive)(nil)
)
