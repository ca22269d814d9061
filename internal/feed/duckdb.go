package feed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/joeblew999/plat-parcel/internal/logger"
	"github.com/joeblew999/plat-parcel/internal/metrics"
)

// Schema creates the table DuckDB feeds poll.
const Schema = `CREATE TABLE IF NOT EXISTS point_records (
	collection VARCHAR NOT NULL,
	id VARCHAR NOT NULL,
	status VARCHAR NOT NULL DEFAULT 'unknown',
	lon DOUBLE NOT NULL,
	lat DOUBLE NOT NULL,
	fields VARCHAR,
	PRIMARY KEY (collection, id)
)`

// DuckDB polls the point_records table and emits a snapshot whenever a
// collection's rows change.
type DuckDB struct {
	DB       *sql.DB
	Interval time.Duration
	Log      *slog.Logger
}

// NewDuckDB creates the schema and returns a polling feed.
func NewDuckDB(ctx context.Context, db *sql.DB, interval time.Duration) (*DuckDB, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("creating feed schema: %w", err)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DuckDB{DB: db, Interval: interval}, nil
}

// Upsert writes records into a collection.
func (d *DuckDB) Upsert(ctx context.Context, collection string, records []Record) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range records {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return fmt.Errorf("encoding fields of %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO point_records (collection, id, status, lon, lat, fields) VALUES (?, ?, ?, ?, ?, ?)`,
			collection, r.ID, r.Status, r.Lon, r.Lat, string(fields)); err != nil {
			return fmt.Errorf("upserting %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Subscribe polls the collection until ctx ends.
func (d *DuckDB) Subscribe(ctx context.Context, q Query) (<-chan []Record, error) {
	records, sum, err := d.load(ctx, q.Collection)
	if err != nil {
		return nil, err
	}
	ch := make(chan []Record, 1)
	offer(ch, records)
	metrics.FeedSnapshotsTotal.WithLabelValues(q.Collection).Inc()

	go func() {
		defer close(ch)
		log := logger.Or(d.Log)
		ticker := time.NewTicker(d.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			records, next, err := d.load(ctx, q.Collection)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("feed_poll_failed", "collection", q.Collection, "error", err)
				}
				continue
			}
			if next == sum {
				continue
			}
			sum = next
			metrics.FeedSnapshotsTotal.WithLabelValues(q.Collection).Inc()
			offer(ch, records)
		}
	}()
	return ch, nil
}

func (d *DuckDB) load(ctx context.Context, collection string) ([]Record, uint64, error) {
	rows, err := d.DB.QueryContext(ctx,
		`SELECT id, status, lon, lat, fields FROM point_records WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, 0, fmt.Errorf("polling %s: %w", collection, err)
	}
	defer rows.Close()

	h := fnv.New64a()
	var out []Record
	for rows.Next() {
		var r Record
		var fields sql.NullString
		if err := rows.Scan(&r.ID, &r.Status, &r.Lon, &r.Lat, &fields); err != nil {
			return nil, 0, fmt.Errorf("scanning %s: %w", collection, err)
		}
		fmt.Fprintf(h, "%s|%s|%g|%g|%s\n", r.ID, r.Status, r.Lon, r.Lat, fields.String)
		if fields.Valid && fields.String != "" && fields.String != "null" {
			if err := json.Unmarshal([]byte(fields.String), &r.Fields); err != nil {
				return nil, 0, fmt.Errorf("decoding fields of %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, h.Sum64(), rows.Err()
}
