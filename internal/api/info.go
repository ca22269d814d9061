package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// Info is the static part of /api/v1/info, filled in by the server.
type Info struct {
	Name    string
	Version string
	DataDir string
	// Feed names the live feed backing point layers ("websocket", "duckdb",
	// "static" or "").
	Feed string
}

type InfoBody struct {
	Name        string   `json:"name" doc:"Service name"`
	Version     string   `json:"version" doc:"Service version"`
	DataDir     string   `json:"data_dir" doc:"Data directory path"`
	Mode        string   `json:"mode" doc:"Backend mode" enum:"service,archive"`
	Feed        string   `json:"feed,omitempty" doc:"Live feed backing point layers"`
	Layers      int      `json:"layers" doc:"Configured layer count"`
	PointLayers int      `json:"point_layers" doc:"Configured point-layer count"`
	Features    []string `json:"features" doc:"Available features"`
}

// RegisterInfo registers the service info route.
func (h *APIHandler) RegisterInfo(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	name := h.info.Name
	if name == "" {
		name = "plat-parcel"
	}
	mode := string(h.eng.Mode())
	features := []string{mode, "selection", "highlights"}
	if _, ok := h.eng.Registry().Extrudable(); ok {
		features = append(features, "3d")
	}
	if h.info.Feed != "" {
		features = append(features, "live-points")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:        name,
		Version:     h.info.Version,
		DataDir:     h.info.DataDir,
		Mode:        mode,
		Feed:        h.info.Feed,
		Layers:      len(h.eng.Registry().Descriptors()),
		PointLayers: len(h.eng.PointLayers()),
		Features:    features,
	}}, nil
}
