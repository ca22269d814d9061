package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joeblew999/plat-parcel/internal/adapter"
	"github.com/joeblew999/plat-parcel/internal/engine"
)

// stream opens the event stream and returns a function that reads lines
// until one contains want.
func stream(t *testing.T, env *testEnv) func(want string) {
	t.Helper()
	srv := httptest.NewServer(env.mux)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	return func(want string) {
		t.Helper()
		for sc.Scan() {
			if strings.Contains(sc.Text(), want) {
				return
			}
		}
		t.Fatalf("stream ended before %q: %v", want, sc.Err())
	}
}

func TestEventsBanner(t *testing.T) {
	env := newTestEnv(t, nil)
	expect := stream(t, env)

	// Nothing failing yet: the banner is cleared once subscribed.
	expect("banner-hidden")

	env.eng.Bus().Publish(engine.Event{
		Type:    engine.EventLayerError,
		LayerID: "tif",
		Error:   &engine.LayerError{LayerID: "tif", Category: engine.CategoryService, Err: adapter.ErrTimeout},
	})
	expect("banner-service")
	expect("TIF Districts unavailable")
	expect("reinitialize")
	expect("datastar-patch-elements")
}

func TestEventsRecordCard(t *testing.T) {
	env := newTestEnv(t, nil)
	expect := stream(t, env)
	expect("banner-hidden")

	resp := env.api.Post("/api/v1/pointer/click", map[string]any{"lon": 0.5, "lat": 0.5})
	if resp.Code != http.StatusOK {
		t.Fatalf("click: %d", resp.Code)
	}
	// Selection changes before the click event is published.
	expect(`"selected":"A"`)
	expect("2100 N MAIN ST")
	expect("$125,000")
}

func TestPanelLayers(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.api.Get("/api/v1/panel/layers")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	for _, want := range []string{"#layer-list", `id="layer-parcels"`, `id="layer-tif"`, `id="layer-homes"`} {
		if !strings.Contains(body, want) {
			t.Errorf("panel missing %s:\n%s", want, body)
		}
	}
}

func TestToggle(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.api.Post("/api/v1/panel/toggle", map[string]any{"layerId": "tif"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `id="layer-tif"`) {
		t.Errorf("toggle did not patch the row:\n%s", resp.Body.String())
	}
	if visible, _, _ := env.eng.Desired("tif"); visible {
		t.Error("tif still visible after toggle")
	}

	env.api.Post("/api/v1/panel/toggle", map[string]any{"layerId": "tif", "visible": false})
	if visible, _, _ := env.eng.Desired("tif"); visible {
		t.Error("explicit visible=false flipped the layer")
	}

	if resp := env.api.Post("/api/v1/panel/toggle", map[string]any{}); resp.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without layerId, got %d", resp.Code)
	}
	if resp := env.api.Post("/api/v1/panel/toggle", map[string]any{"layerId": "nope"}); resp.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.Code)
	}
}

func TestTooltip(t *testing.T) {
	h := &EventsHandler{}
	rec := &engine.FeatureRecord{Attributes: map[string]any{"NAME": "TID 71"}}
	if got := h.tooltip(engine.Event{LayerID: "tif", Record: rec}); got != "TID 71" {
		t.Errorf("tooltip = %q", got)
	}
	rec.Address = "2100 N MAIN ST"
	if got := h.tooltip(engine.Event{Record: rec}); got != "2100 N MAIN ST" {
		t.Errorf("tooltip = %q", got)
	}
	if got := h.tooltip(engine.Event{}); got != "" {
		t.Errorf("ended hover tooltip = %q", got)
	}
}
