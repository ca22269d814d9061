package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-parcel/internal/arcgis"
	"github.com/joeblew999/plat-parcel/internal/layers"
	"github.com/joeblew999/plat-parcel/internal/renderer"
	"github.com/joeblew999/plat-parcel/internal/style"
)

// Fetcher loads every feature of a service sublayer.
type Fetcher interface {
	QueryAll(ctx context.Context, loc layers.ServiceLocator, q arcgis.Query) (*geojson.FeatureCollection, error)
}

// Service attaches one geojson source per descriptor, fed by a feature
// service. Attaching runs in the background; AwaitReady polls for it.
type Service struct {
	base
	fetch   Fetcher
	timeout time.Duration

	attachMu sync.Mutex
	failed   map[string]error
	// attempts holds the token of each layer's latest Mount; only that
	// attach may record a failure.
	attempts map[string]uint64
	seq      uint64
	viewport *orb.Bound
}

// NewService creates a service-mode adapter.
func NewService(r renderer.Renderer, fetch Fetcher, log *slog.Logger) *Service {
	return &Service{
		base:     newBase(r, log),
		fetch:    fetch,
		timeout:  ReadyTimeout,
		failed:   make(map[string]error),
		attempts: make(map[string]uint64),
	}
}

// SetReadyTimeout overrides ReadyTimeout.
func (s *Service) SetReadyTimeout(d time.Duration) { s.timeout = d }

func (s *Service) Mode() Mode { return ModeService }

// Prepare is a no-op; every service layer is independent.
func (s *Service) Prepare(context.Context) error { return nil }

func (s *Service) build(d layers.Descriptor, visible bool) (Handles, []renderer.LayerSpec) {
	return style.Build(d, d.ID, "", visible, d.DefaultOpacity)
}

func (s *Service) Mount(ctx context.Context, d layers.Descriptor, visible bool, place Placement) (Handles, error) {
	if d.Service == nil {
		return Handles{}, fmt.Errorf("layer %s has no service locator: %w", d.ID, ErrUnavailable)
	}
	h, specs := s.build(d, visible)
	s.track(d, h, visible)

	if s.r.HasSource(d.ID) {
		// Already attached: make sure the layers exist and stop.
		return h, s.addLayers(d, specs, place)
	}

	s.attachMu.Lock()
	delete(s.failed, d.ID)
	s.seq++
	token := s.seq
	s.attempts[d.ID] = token
	bound := s.viewport
	s.attachMu.Unlock()

	go s.attach(ctx, token, d, specs, place, bound)
	return h, nil
}

func (s *Service) attach(ctx context.Context, token uint64, d layers.Descriptor, specs []renderer.LayerSpec, place Placement, bound *orb.Bound) {
	fail := func(err error) { s.fail(ctx, token, d.ID, err) }

	fc, err := s.fetch.QueryAll(ctx, *d.Service, arcgis.Query{Bound: bound})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		fail(fmt.Errorf("%w: %w", ErrUnavailable, err))
		return
	}
	normalizeCodes(d, fc)

	err = s.r.AddSource(d.ID, renderer.SourceSpec{
		Type:        renderer.SourceGeoJSON,
		Data:        fc,
		PromoteID:   d.IDProperty,
		Attribution: d.Attribution,
	})
	if err != nil && !errors.Is(err, renderer.ErrDuplicate) {
		fail(err)
		return
	}
	// A reinitialize may have started while the source was being added.
	if ctx.Err() != nil {
		return
	}
	if err := s.addLayers(d, specs, place); err != nil {
		fail(err)
	}
}

// normalizeCodes rewrites the zoning codes of a categorized layer in place
// so the renderer's prefix match sees them as CategoryOf does.
func normalizeCodes(d layers.Descriptor, fc *geojson.FeatureCollection) {
	if !d.Style.Categorized || fc == nil {
		return
	}
	prop := d.CodeAttribute()
	for _, f := range fc.Features {
		if code, ok := f.Properties[prop].(string); ok {
			f.Properties[prop] = layers.NormalizeCode(code)
		}
	}
}

// fail records err for the attach identified by token. Failures of a
// cancelled or superseded attach are dropped: a newer Mount owns the layer.
func (s *Service) fail(ctx context.Context, token uint64, id string, err error) {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	if ctx.Err() != nil || s.attempts[id] != token {
		s.log.Debug("service_attach_stale", "layer", id, "error", err)
		return
	}
	s.log.Warn("service_attach_failed", "layer", id, "error", err)
	s.failed[id] = err
}

// AwaitReady polls for the source and the descriptor's base layer.
func (s *Service) AwaitReady(ctx context.Context, d layers.Descriptor) error {
	return poll(ctx, s.timeout, func() (bool, error) {
		s.attachMu.Lock()
		err := s.failed[d.ID]
		s.attachMu.Unlock()
		if err != nil {
			return false, err
		}
		return s.r.HasSource(d.ID) && s.r.HasLayer(style.FillID(d.ID)), nil
	})
}

// Refresh re-queries every mounted layer for the viewport b and replaces
// the source data. Later mounts also use b.
func (s *Service) Refresh(ctx context.Context, b orb.Bound) error {
	s.attachMu.Lock()
	s.viewport = &b
	s.attachMu.Unlock()

	s.mu.Lock()
	ds := make([]layers.Descriptor, 0, len(s.mounts))
	for _, m := range s.mounts {
		ds = append(ds, m.d)
	}
	s.mu.Unlock()

	var errs []error
	for _, d := range ds {
		if !s.r.HasSource(d.ID) {
			continue
		}
		fc, err := s.fetch.QueryAll(ctx, *d.Service, arcgis.Query{Bound: &b})
		if err != nil {
			errs = append(errs, fmt.Errorf("refreshing %s: %w", d.ID, err))
			continue
		}
		normalizeCodes(d, fc)
		if err := s.r.SetSourceData(d.ID, fc); err != nil {
			errs = append(errs, fmt.Errorf("refreshing %s: %w", d.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) Unmount(d layers.Descriptor) error {
	s.attachMu.Lock()
	delete(s.attempts, d.ID)
	delete(s.failed, d.ID)
	s.attachMu.Unlock()

	m, ok := s.forget(d.ID)
	if !ok {
		return nil
	}
	s.removeLayers(m.h)
	if err := s.r.RemoveSource(d.ID); err != nil && !errors.Is(err, renderer.ErrNotFound) {
		return err
	}
	return nil
}

func (s *Service) Destroy() {
	s.reset()
	s.attachMu.Lock()
	s.failed = make(map[string]error)
	s.attempts = make(map[string]uint64)
	s.attachMu.Unlock()
}

var _ Adapter = (*Service)(nil)
