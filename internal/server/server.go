package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/redis/go-redis/v9"

	"github.com/joeblew999/plat-parcel/internal/adapter"
	"github.com/joeblew999/plat-parcel/internal/api"
	"github.com/joeblew999/plat-parcel/internal/arcgis"
	"github.com/joeblew999/plat-parcel/internal/db"
	"github.com/joeblew999/plat-parcel/internal/engine"
	"github.com/joeblew999/plat-parcel/internal/feed"
	"github.com/joeblew999/plat-parcel/internal/humastar"
	"github.com/joeblew999/plat-parcel/internal/layers"
	"github.com/joeblew999/plat-parcel/internal/logger"
	"github.com/joeblew999/plat-parcel/internal/metrics"
	"github.com/joeblew999/plat-parcel/internal/renderer"
	"github.com/joeblew999/plat-parcel/internal/templates"
	"github.com/joeblew999/plat-parcel/internal/tiler"
	"github.com/joeblew999/plat-parcel/internal/tiler/gotiler"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	// LayersFile overrides the built-in layer catalog.
	LayersFile string
	// ArchiveURL selects archive mode. Relative names resolve under
	// DataDir/tiles; empty selects service mode.
	ArchiveURL string
	// FeedURL is a websocket feed; FeedDB names a DuckDB database polled
	// every PollInterval. Neither leaves point layers on a static feed.
	FeedURL      string
	FeedDB       string
	PollInterval time.Duration
	// RedisAddr enables the feature-service page cache.
	RedisAddr   string
	CacheTTL    time.Duration
	InitTimeout time.Duration
	// TemplatesDir overrides the built-in HTML fragments.
	TemplatesDir string
	Logger       *slog.Logger
}

// Server is the parcel map HTTP server. It owns the engine and the headless
// renderer it drives.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	log      *slog.Logger
	eng      *engine.Engine
	renderer *renderer.Memory
	fragment *templates.Renderer
	db       *sql.DB
	redis    *redis.Client
	feed     feed.Feed
	feedKind string
}

// New assembles the engine and its backends and registers every route.
// Nothing is fetched until Start.
func New(cfg Config) (*Server, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = ".data"
	}
	s := &Server{
		config:   cfg,
		mux:      http.NewServeMux(),
		log:      logger.Or(cfg.Logger),
		renderer: renderer.NewMemory(),
	}

	reg := layers.Default()
	if cfg.LayersFile != "" {
		var err error
		if reg, err = layers.Load(cfg.LayersFile); err != nil {
			return nil, err
		}
	}

	if err := s.openFeed(); err != nil {
		s.Close()
		return nil, err
	}

	eng, err := engine.New(engine.Options{
		Registry: reg,
		Renderer: s.renderer,
		Adapter:  s.adapter(reg),
		Feed:     s.feed,
		Logger:   s.log,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.eng = eng

	if cfg.TemplatesDir != "" {
		r, err := templates.New(cfg.TemplatesDir)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("loading fragment templates: %w", err)
		}
		s.fragment = r
		s.log.Info("templates_loaded", "dir", cfg.TemplatesDir)
	} else {
		s.fragment = templates.Default()
	}

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-parcel API", "1.0.0")
	humaConfig.Info.Description = "Layer synchronization engine for the city parcel map: layer state, interaction and live point feeds."
	if cfg.Host != "" && cfg.Port != "" {
		humaConfig.Servers = []*huma.Server{
			{URL: fmt.Sprintf("http://%s:%s", displayHost(cfg.Host), cfg.Port), Description: "Local server"},
		}
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, humastar.LinkTransformer())

	s.humaAPI = humago.New(s.mux, humaConfig)
	s.routes()
	return s, nil
}

// adapter picks the backend: archive mode when an archive is configured,
// otherwise the feature service, cached in redis when an address is set.
func (s *Server) adapter(reg *layers.Registry) adapter.Adapter {
	if loc := s.config.ArchiveURL; loc != "" {
		if !strings.Contains(loc, "://") && !filepath.IsAbs(loc) {
			loc = filepath.Join(s.config.DataDir, "tiles", loc)
		}
		a := adapter.NewArchive(s.renderer, loc, &http.Client{Timeout: 30 * time.Second}, s.log)
		for _, d := range reg.Descriptors() {
			if d.Selectable && d.IDProperty != "" {
				a.WithPromoteID(d.IDProperty)
				break
			}
		}
		return a
	}

	opts := []arcgis.Option{arcgis.WithLogger(s.log)}
	if s.config.RedisAddr != "" {
		ttl := s.config.CacheTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		s.redis = arcgis.OpenRedis(s.config.RedisAddr, "", 0)
		opts = append(opts, arcgis.WithCache(arcgis.NewRedisCache(s.redis, ttl)))
	}
	return adapter.NewService(s.renderer, arcgis.NewClient(opts...), s.log)
}

func (s *Server) openFeed() error {
	switch {
	case s.config.FeedURL != "":
		s.feed, s.feedKind = feed.NewWebSocket(s.config.FeedURL), "websocket"
	case s.config.FeedDB != "":
		conn, err := db.Open(db.Config{DataDir: s.config.DataDir, DBName: s.config.FeedDB})
		if err != nil {
			return err
		}
		s.db = conn
		d, err := feed.NewDuckDB(context.Background(), conn, s.config.PollInterval)
		if err != nil {
			return err
		}
		d.Log = s.log
		s.feed, s.feedKind = d, "duckdb"
	default:
		s.feed, s.feedKind = feed.NewStatic(nil), "static"
	}
	return nil
}

// Start initializes the engine, waiting at most InitTimeout for the first
// generation. Layers still loading after that keep loading.
func (s *Server) Start(ctx context.Context) error {
	if s.config.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.InitTimeout)
		defer cancel()
	}
	err := s.eng.Initialize(ctx, nil)
	if errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("initialize_slow", "timeout", s.config.InitTimeout)
		return nil
	}
	return err
}

// Engine returns the layer engine.
func (s *Server) Engine() *engine.Engine { return s.eng }

// Renderer returns the headless renderer the engine drives.
func (s *Server) Renderer() *renderer.Memory { return s.renderer }

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI { return s.humaAPI.OpenAPI() }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close stops the engine and closes server resources.
func (s *Server) Close() error {
	if s.eng != nil {
		s.eng.Close()
	}
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.eng, api.Info{
		Name:    "plat-parcel",
		DataDir: s.config.DataDir,
		Feed:    s.feedKind,
	}))

	// Feed ingest only works against a writable feed.
	var up api.Upserter
	if d, ok := s.feed.(*feed.DuckDB); ok {
		up = d
	}
	api.NewFeedHandler(up).RegisterRoutes(s.humaAPI)

	// Local archives and the archive builder
	api.NewArchiveHandler(s.config.DataDir, &tiler.Tippecanoe{}, gotiler.New()).RegisterRoutes(s.humaAPI)

	// Datastar SSE routes
	api.NewEventsHandler(s.eng, s.fragment).RegisterRoutes(s.humaAPI)

	humastar.AutoLinks(s.humaAPI, api.Relations...)

	s.mux.Handle("/metrics", metrics.Handler())
	tilesDir := filepath.Join(s.config.DataDir, "tiles")
	s.mux.Handle("/tiles/", http.StripPrefix("/tiles/", s.handleTiles(tilesDir)))
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range humastar.RootLinks() {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-parcel",
		"status":  "running",
		"mode":    string(s.eng.Mode()),
	})
}

// handleTiles serves local archives to map clients, which read them with
// HTTP range requests.
func (s *Server) handleTiles(tilesDir string) http.Handler {
	files := http.FileServer(http.Dir(tilesDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		files.ServeHTTP(w, r)
	})
}

func displayHost(host string) string {
	if host == "0.0.0.0" || host == "" {
		return "localhost"
	}
	return host
}
