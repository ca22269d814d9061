package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-parcel/internal/feed"
	"github.com/joeblew999/plat-parcel/internal/humastar"
)

type PointsInput struct {
	ID     string `path:"id" doc:"Point layer ID" example:"homes"`
	Offset int    `query:"offset" minimum:"0" default:"0" doc:"Records to skip"`
	Limit  int    `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Page size"`
	Status string `query:"status" doc:"Only records with this status" example:"available"`
}

type PointSelectInput struct {
	ID     string `path:"id" doc:"Point layer ID" example:"homes"`
	Record string `path:"record" doc:"Record ID" example:"h1"`
}

// RegisterPoints registers point-layer routes.
func (h *APIHandler) RegisterPoints(api huma.API) {
	huma.Get(api, "/api/v1/points/{id}", h.GetPoints, huma.OperationTags("points"))
	huma.Put(api, "/api/v1/points/{id}/selection/{record}", h.SelectPoint, huma.OperationTags("points"))
}

// GetPoints pages through the layer's latest cached snapshot.
func (h *APIHandler) GetPoints(ctx context.Context, input *PointsInput) (*struct {
	Body humastar.PageBody[feed.Record]
}, error) {
	p, ok := h.eng.PointLayer(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("point layer not found")
	}
	records := p.Records()
	if input.Status != "" {
		kept := records[:0:0]
		for _, r := range records {
			if r.Status == input.Status {
				kept = append(kept, r)
			}
		}
		records = kept
	}

	start := min(input.Offset, len(records))
	end := min(start+input.Limit, len(records))
	page := humastar.PageBody[feed.Record]{
		Total:  len(records),
		Offset: input.Offset,
		Limit:  input.Limit,
		Data:   append([]feed.Record{}, records[start:end]...),
	}
	return &struct {
		Body humastar.PageBody[feed.Record]
	}{Body: page}, nil
}

func (h *APIHandler) SelectPoint(ctx context.Context, input *PointSelectInput) (*struct{ Body feed.Record }, error) {
	rec, err := h.eng.SelectPoint(input.ID, input.Record)
	if err != nil {
		return nil, apiError(err)
	}
	return &struct{ Body feed.Record }{Body: rec}, nil
}
