// Package api defines the Huma API routes and handlers over the layer
// engine.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-parcel/internal/adapter"
	"github.com/joeblew999/plat-parcel/internal/engine"
)

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"zoning"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status     string `json:"status" doc:"Health status" example:"ok"`
	Version    string `json:"version" doc:"API version" example:"1.0.0"`
	Mode       string `json:"mode" doc:"Backend mode" example:"service"`
	Generation uint64 `json:"generation" doc:"Reinitialize generation"`
}

type EngineStateOutput struct {
	Body engine.EngineState
}

// APIHandler holds the JSON API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	eng  *engine.Engine
	info Info
}

func NewAPIHandler(eng *engine.Engine, info Info) *APIHandler {
	if info.Version == "" {
		info.Version = "1.0.0"
	}
	return &APIHandler{eng: eng, info: info}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	st := h.eng.Snapshot()
	return &struct{ Body HealthBody }{Body: HealthBody{
		Status:     health(st),
		Version:    h.info.Version,
		Mode:       string(st.Mode),
		Generation: st.Generation,
	}}, nil
}

// health is "ok" when every layer is ready, "degraded" when some failed
// and "starting" while any is still loading.
func health(st engine.EngineState) string {
	status := "ok"
	for _, l := range st.Layers {
		switch l.Status {
		case engine.StatusLoading, engine.StatusUninitialized:
			return "starting"
		case engine.StatusError:
			status = "degraded"
		}
	}
	return status
}

// apiError maps engine and backend errors onto HTTP statuses.
func apiError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrUnknownLayer), errors.Is(err, engine.ErrUnknownRecord):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, engine.ErrNotInitialized):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, engine.ErrClosed):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, adapter.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	case errors.Is(err, adapter.ErrUnavailable):
		return huma.Error502BadGateway(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
