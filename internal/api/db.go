package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-parcel/internal/feed"
)

// Upserter is a feed that accepts writes, such as the DuckDB-polled feed.
type Upserter interface {
	Upsert(ctx context.Context, collection string, records []feed.Record) error
}

// FeedHandler ingests point records into a writable feed. Point layers
// pick the rows up on the feed's next poll.
type FeedHandler struct {
	feed Upserter
}

// NewFeedHandler creates a feed handler. A nil feed answers 503.
func NewFeedHandler(f Upserter) *FeedHandler {
	return &FeedHandler{feed: f}
}

// RegisterRoutes registers feed ingest routes with Huma.
func (h *FeedHandler) RegisterRoutes(api huma.API) {
	huma.Put(api, "/api/v1/feeds/{collection}", h.Upsert, huma.OperationTags("points"))
}

type UpsertInput struct {
	Collection string `path:"collection" doc:"Feed collection" example:"homes"`
	Body       struct {
		Records []feed.Record `json:"records" minItems:"1" doc:"Records to insert or replace"`
	}
}

type UpsertOutput struct {
	Body struct {
		Collection string `json:"collection" doc:"Feed collection"`
		Count      int    `json:"count" doc:"Records written"`
	}
}

// Upsert writes records into a collection.
func (h *FeedHandler) Upsert(ctx context.Context, input *UpsertInput) (*UpsertOutput, error) {
	if h.feed == nil {
		return nil, huma.Error503ServiceUnavailable("Live feed is not writable")
	}
	for _, r := range input.Body.Records {
		if r.ID == "" {
			return nil, huma.Error422UnprocessableEntity("record id is required")
		}
	}
	if err := h.feed.Upsert(ctx, input.Collection, input.Body.Records); err != nil {
		return nil, huma.Error500InternalServerError("upsert failed", err)
	}
	out := &UpsertOutput{}
	out.Body.Collection = input.Collection
	out.Body.Count = len(input.Body.Records)
	return out, nil
}
