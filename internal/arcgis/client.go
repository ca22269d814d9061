// Package arcgis queries ArcGIS REST feature services as GeoJSON.
package arcgis

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-parcel/internal/layers"
	"github.com/joeblew999/plat-parcel/internal/logger"
	"github.com/joeblew999/plat-parcel/internal/metrics"
)

// DefaultPageSize is the record count requested per page.
const DefaultPageSize = 2000

// ErrService is returned for error payloads the service reports with a
// success status.
var ErrService = errors.New("arcgis: service error")

// Query narrows a feature-service request.
type Query struct {
	Where     string
	Bound     *orb.Bound
	OutFields []string
	Offset    int
	Count     int
}

// Page is one page of query results.
type Page struct {
	Features              *geojson.FeatureCollection
	ExceededTransferLimit bool
}

// Client queries feature-service sublayers.
type Client struct {
	http     *http.Client
	cache    Cache
	pageSize int
	maxPages int
	log      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for queries.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithCache caches pages by request URL.
func WithCache(cache Cache) Option { return func(c *Client) { c.cache = cache } }

// WithPageSize overrides DefaultPageSize.
func WithPageSize(n int) Option { return func(c *Client) { c.pageSize = n } }

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// NewClient creates a feature-service client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		pageSize: DefaultPageSize,
		maxPages: 50,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = logger.Or(c.log)
	return c
}

// QueryURL builds the query URL of one page.
func QueryURL(loc layers.ServiceLocator, q Query) string {
	v := url.Values{}
	where := q.Where
	if where == "" {
		where = "1=1"
	}
	v.Set("where", where)
	fields := "*"
	if len(q.OutFields) > 0 {
		fields = strings.Join(q.OutFields, ",")
	}
	v.Set("outFields", fields)
	v.Set("outSR", "4326")
	v.Set("returnGeometry", "true")
	v.Set("f", "geojson")
	if q.Bound != nil {
		b := *q.Bound
		v.Set("geometry", fmt.Sprintf("%g,%g,%g,%g", b.Min[0], b.Min[1], b.Max[0], b.Max[1]))
		v.Set("geometryType", "esriGeometryEnvelope")
		v.Set("inSR", "4326")
		v.Set("spatialRel", "esriSpatialRelIntersects")
	}
	if q.Offset > 0 {
		v.Set("resultOffset", strconv.Itoa(q.Offset))
	}
	if q.Count > 0 {
		v.Set("resultRecordCount", strconv.Itoa(q.Count))
	}
	return fmt.Sprintf("%s/%d/query?%s", strings.TrimRight(loc.URL, "/"), loc.Sublayer, v.Encode())
}

// Query fetches one page.
func (c *Client) Query(ctx context.Context, loc layers.ServiceLocator, q Query) (*Page, error) {
	u := QueryURL(loc, q)
	key := cacheKey(u)

	if c.cache != nil {
		if data, ok := c.cache.Get(ctx, key); ok {
			if page, err := decodePage(data); err == nil {
				metrics.CacheHitsTotal.Inc()
				return page, nil
			}
		}
		metrics.CacheMissesTotal.Inc()
	}

	start := time.Now()
	data, err := c.fetch(ctx, u)
	metrics.ServiceQueryDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.ServicePagesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	page, err := decodePage(data)
	if err != nil {
		metrics.ServicePagesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ServicePagesTotal.WithLabelValues("ok").Inc()

	if c.cache != nil {
		c.cache.Set(ctx, key, data)
	}
	return page, nil
}

// QueryAll pages through every result, following exceededTransferLimit.
func (c *Client) QueryAll(ctx context.Context, loc layers.ServiceLocator, q Query) (*geojson.FeatureCollection, error) {
	out := geojson.NewFeatureCollection()
	q.Count = c.pageSize
	for i := 0; i < c.maxPages; i++ {
		page, err := c.Query(ctx, loc, q)
		if err != nil {
			return nil, err
		}
		out.Features = append(out.Features, page.Features.Features...)
		if !page.ExceededTransferLimit || len(page.Features.Features) == 0 {
			return out, nil
		}
		q.Offset += len(page.Features.Features)
	}
	c.log.Warn("service_page_limit", "url", loc.URL, "sublayer", loc.Sublayer, "features", len(out.Features))
	return out, nil
}

func (c *Client) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying feature service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying feature service: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading feature service response: %w", err)
	}
	return data, nil
}

// envelope holds the non-GeoJSON members of a query response.
type envelope struct {
	ExceededTransferLimit bool `json:"exceededTransferLimit"`
	Properties            struct {
		ExceededTransferLimit bool `json:"exceededTransferLimit"`
	} `json:"properties"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodePage(data []byte) (*Page, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding feature service response: %w", err)
	}
	if env.Error != nil {
		return nil, fmt.Errorf("%w: %d %s", ErrService, env.Error.Code, env.Error.Message)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decoding feature service response: %w", err)
	}
	return &Page{
		Features:              fc,
		ExceededTransferLimit: env.ExceededTransferLimit || env.Properties.ExceededTransferLimit,
	}, nil
}

func cacheKey(u string) string {
	sum := sha1.Sum([]byte(u))
	return "arcgis:" + hex.EncodeToString(sum[:])
}
