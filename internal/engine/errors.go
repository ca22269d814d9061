package engine

import (
	"errors"
	"fmt"

	"github.com/joeblew999/plat-parcel/internal/adapter"
	"github.com/joeblew999/plat-parcel/internal/renderer"
)

var (
	// ErrBackendTimeout: a layer did not become ready in time. Retryable.
	ErrBackendTimeout = adapter.ErrTimeout
	// ErrBackendUnavailable: the backend could not be reached. Retryable.
	ErrBackendUnavailable = adapter.ErrUnavailable
	// ErrDuplicateResource is recovered locally and never surfaced.
	ErrDuplicateResource = renderer.ErrDuplicate
	// ErrStaleGeneration marks a result discarded after a reinitialize.
	ErrStaleGeneration = errors.New("stale generation")
	// ErrUnknownLayer is returned for ids the registry does not know.
	ErrUnknownLayer = errors.New("unknown layer")
	// ErrUnknownRecord is returned when a point record is not cached.
	ErrUnknownRecord = errors.New("unknown point record")
	// ErrNotInitialized is returned by operations that need Initialize first.
	ErrNotInitialized = errors.New("engine not initialized")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// Category names the backend a layer error came from.
type Category string

const (
	CategoryService  Category = "service"
	CategoryArchive  Category = "archive"
	CategoryRenderer Category = "renderer"
	CategoryFeed     Category = "feed"
)

// LayerError is a per-layer failure. It never stops other layers.
type LayerError struct {
	LayerID  string   `json:"layerId"`
	Category Category `json:"category"`
	Err      error    `json:"-"`
}

func (e *LayerError) Error() string {
	if e.LayerID == "" {
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("layer %s (%s): %v", e.LayerID, e.Category, e.Err)
}

func (e *LayerError) Unwrap() error { return e.Err }

// Retryable reports whether a reinitialize may fix the error.
func (e *LayerError) Retryable() bool {
	return errors.Is(e.Err, ErrBackendTimeout) || errors.Is(e.Err, ErrBackendUnavailable)
}

// categorize attributes err to the active backend unless it came from the
// renderer itself.
func categorize(mode adapter.Mode, err error) Category {
	switch {
	case errors.Is(err, ErrBackendTimeout), errors.Is(err, ErrBackendUnavailable):
		if mode == adapter.ModeArchive {
			return CategoryArchive
		}
		return CategoryService
	case errors.Is(err, renderer.ErrNotFound), errors.Is(err, renderer.ErrInUse), errors.Is(err, renderer.ErrDuplicate):
		return CategoryRenderer
	}
	if mode == adapter.ModeArchive {
		return CategoryArchive
	}
	return CategoryService
}
