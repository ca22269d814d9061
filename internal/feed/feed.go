// Package feed supplies live point records to point-marker layers. A feed
// delivers whole snapshots per collection; consumers replace, never merge.
package feed

import (
	"context"
	"maps"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Record is one live point record.
type Record struct {
	ID     string         `json:"id" doc:"Record identifier"`
	Status string         `json:"status" doc:"Availability status" example:"available"`
	Lon    float64        `json:"lon" doc:"Longitude"`
	Lat    float64        `json:"lat" doc:"Latitude"`
	Fields map[string]any `json:"fields,omitempty" doc:"Additional attributes"`
}

// Point returns the record location.
func (r Record) Point() orb.Point { return orb.Point{r.Lon, r.Lat} }

// Feature converts the record to a point feature. id and status are copied
// into the properties for paint expressions.
func (r Record) Feature() *geojson.Feature {
	f := geojson.NewFeature(r.Point())
	f.ID = r.ID
	maps.Copy(f.Properties, r.Fields)
	f.Properties["id"] = r.ID
	f.Properties["status"] = r.Status
	return f
}

// Collection converts a snapshot to a feature collection.
func Collection(records []Record) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range records {
		fc.Append(r.Feature())
	}
	return fc
}

// Query selects the records a subscription receives.
type Query struct {
	Collection string `json:"collection"`
}

// Feed streams snapshots. The channel closes when ctx is cancelled.
type Feed interface {
	Subscribe(ctx context.Context, q Query) (<-chan []Record, error)
}

// offer delivers the latest snapshot, replacing an unread older one.
// Each channel has exactly one sender.
func offer(ch chan []Record, records []Record) {
	for {
		select {
		case ch <- records:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
