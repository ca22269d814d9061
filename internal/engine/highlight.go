package engine

import (
	"slices"
	"sync"

	"github.com/joeblew999/plat-parcel/internal/renderer"
)

// Feature-state keys driving the highlight paint.
const (
	stateSelected    = "selected"
	stateHighlighted = "highlighted"
)

// HighlightState is the current selection and highlighted set. Both are
// rendering annotations: they outlive data refreshes and reinitializes.
type HighlightState struct {
	Selected    string   `json:"selected,omitempty" doc:"Selected feature id"`
	Highlighted []string `json:"highlighted" doc:"Highlighted feature ids"`
}

// target locates the selectable layer's features in the renderer.
type target struct {
	Source      string
	SourceLayer string
}

// highlighter owns selection and highlight feature-state on the selectable
// layer. It has its own lock so renderer sourcedata handlers never wait on
// the engine.
type highlighter struct {
	r renderer.Renderer

	mu          sync.Mutex
	tgt         *target
	selected    string
	highlighted map[string]struct{}
}

func newHighlighter(r renderer.Renderer) *highlighter {
	return &highlighter{r: r, highlighted: make(map[string]struct{})}
}

func (h *highlighter) ref(id string) renderer.FeatureRef {
	return renderer.FeatureRef{Source: h.tgt.Source, SourceLayer: h.tgt.SourceLayer, ID: id}
}

// setTarget points the highlighter at the selectable layer's source; nil
// detaches it while the layer is being rebuilt.
func (h *highlighter) setTarget(t *target) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tgt = t
}

// source returns the source id state is written to, if attached.
func (h *highlighter) source() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tgt == nil {
		return "", false
	}
	return h.tgt.Source, true
}

// Select replaces the selection. The previous feature's selected state is
// removed before the new one is set.
func (h *highlighter) Select(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tgt != nil && h.selected != "" && h.selected != id {
		_ = h.r.RemoveFeatureState(h.ref(h.selected), stateSelected)
	}
	h.selected = id
	if h.tgt != nil && id != "" && h.presentLocked(id) {
		_ = h.r.SetFeatureState(h.ref(id), map[string]any{stateSelected: true})
	}
}

// ClearSelection is a no-op when nothing is selected.
func (h *highlighter) ClearSelection() {
	h.Select("")
}

// Highlight replaces the highlighted set: every previous id is cleared
// before the new ids are applied.
func (h *highlighter) Highlight(ids []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tgt != nil {
		for id := range h.highlighted {
			_ = h.r.RemoveFeatureState(h.ref(id), stateHighlighted)
		}
	}
	h.highlighted = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			h.highlighted[id] = struct{}{}
		}
	}
	h.applyHighlightsLocked()
}

// ClearHighlights is a no-op when nothing is highlighted.
func (h *highlighter) ClearHighlights() {
	h.Highlight(nil)
}

// Reapply re-marks every selected and highlighted id still present in the
// source. Absent ids are kept for later passes.
func (h *highlighter) Reapply() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tgt == nil {
		return
	}
	if h.selected != "" && h.presentLocked(h.selected) {
		_ = h.r.SetFeatureState(h.ref(h.selected), map[string]any{stateSelected: true})
	}
	h.applyHighlightsLocked()
}

func (h *highlighter) applyHighlightsLocked() {
	if h.tgt == nil || len(h.highlighted) == 0 {
		return
	}
	ids := make([]string, 0, len(h.highlighted))
	for id := range h.highlighted {
		ids = append(ids, id)
	}
	for _, f := range h.r.QuerySourceFeatures(h.tgt.Source, renderer.SourceQuery{SourceLayer: h.tgt.SourceLayer, IDs: ids}) {
		_ = h.r.SetFeatureState(h.ref(f.ID), map[string]any{stateHighlighted: true})
	}
}

func (h *highlighter) presentLocked(id string) bool {
	return len(h.r.QuerySourceFeatures(h.tgt.Source, renderer.SourceQuery{SourceLayer: h.tgt.SourceLayer, IDs: []string{id}})) > 0
}

// State returns a copy of the current selection and highlights.
func (h *highlighter) State() HighlightState {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.highlighted))
	for id := range h.highlighted {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return HighlightState{Selected: h.selected, Highlighted: ids}
}
