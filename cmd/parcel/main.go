package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-parcel/internal/logger"
	"github.com/joeblew999/plat-parcel/internal/server"
	"github.com/joeblew999/plat-parcel/internal/tiler"
	"github.com/joeblew999/plat-parcel/internal/tiler/gotiler"
)

// Options defines all CLI flags and env vars for the parcel server.
// Flags: --host, --port, --data-dir, --layers-file, --archive-url, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_LAYERS_FILE, ...
type Options struct {
	Host         string        `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int           `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir      string        `doc:"Directory for tiles and feed databases" default:".data"`
	LayersFile   string        `doc:"YAML or JSON layer catalog replacing the built-in one"`
	ArchiveURL   string        `doc:"Vector tile archive (URL, or file under <data-dir>/tiles); empty uses the feature services"`
	FeedURL      string        `doc:"WebSocket URL of the live point feed"`
	FeedDB       string        `doc:"DuckDB database name polled for live points"`
	RedisAddr    string        `doc:"Redis address for the feature-service page cache"`
	PollInterval time.Duration `doc:"DuckDB feed poll interval" default:"5s"`
	InitTimeout  time.Duration `doc:"How long startup waits for layers to load" default:"30s"`
	TemplatesDir string        `doc:"Directory of HTML fragments overriding the built-in ones"`
}

func newServer(opts *Options) (*server.Server, error) {
	return server.New(server.Config{
		Host:         opts.Host,
		Port:         fmt.Sprintf("%d", opts.Port),
		DataDir:      opts.DataDir,
		LayersFile:   opts.LayersFile,
		ArchiveURL:   opts.ArchiveURL,
		FeedURL:      opts.FeedURL,
		FeedDB:       opts.FeedDB,
		RedisAddr:    opts.RedisAddr,
		PollInterval: opts.PollInterval,
		InitTimeout:  opts.InitTimeout,
		TemplatesDir: opts.TemplatesDir,
	})
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	log := logger.Setup()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var srv *server.Server
		var httpSrv *http.Server

		hooks.OnStart(func() {
			var err error
			if srv, err = newServer(opts); err != nil {
				fatal("Error creating server", err)
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-parcel API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Mode:    %s\n", srv.Engine().Mode())
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Events:  %s/api/v1/events\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			httpSrv = &http.Server{Addr: addr, Handler: srv}
			go func() {
				if err := srv.Start(context.Background()); err != nil {
					log.Error("initialize_failed", "error", err)
				}
			}()
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fatal("Server error", err)
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if httpSrv != nil {
				httpSrv.Shutdown(ctx)
			}
			if srv != nil {
				srv.Close()
			}
		})
	})

	cli.Root().Use = "parcel"
	cli.Root().Short = "City parcel map layer engine"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, err := newServer(opts)
			if err != nil {
				fatal("Error creating server", err)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fatal("Error marshaling spec", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Root().AddCommand(buildArchiveCmd())

	cli.Run()
}

// buildArchiveCmd packs GeoJSON layers into one vector tile archive, with
// tippecanoe when installed and the pure-Go tiler otherwise.
func buildArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build-archive name=file.geojson...",
		Short: "Build a multi-layer PMTiles archive from GeoJSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			output, _ := flags.GetString("output")
			which, _ := flags.GetString("tiler")
			cfg := tiler.Config{}
			cfg.Name, _ = flags.GetString("name")
			cfg.Attribution, _ = flags.GetString("attribution")
			cfg.MinZoom, _ = flags.GetInt("min-zoom")
			cfg.MaxZoom, _ = flags.GetInt("max-zoom")

			var inputs []tiler.Layer
			for _, arg := range args {
				l, err := tiler.ParseLayer(arg)
				if err != nil {
					return err
				}
				inputs = append(inputs, l)
			}

			t, err := tiler.Choose(which, &tiler.Tippecanoe{}, gotiler.New())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out, _ := tiler.Normalize(output, cfg)
			fmt.Printf("Building %s with %s\n", out, t.Name())
			return t.Build(ctx, inputs, output, cfg, func(progress int, status string) {
				fmt.Printf("  [%3d%%] %s\n", progress, status)
			})
		},
	}
	cmd.Flags().StringP("output", "o", ".data/tiles/milwaukee.pmtiles", "Output archive path")
	cmd.Flags().StringP("name", "n", "", "Archive name (defaults to the output file name)")
	cmd.Flags().String("attribution", "City of Milwaukee", "Data attribution")
	cmd.Flags().Int("min-zoom", 10, "Minimum zoom level")
	cmd.Flags().Int("max-zoom", 14, "Maximum zoom level")
	cmd.Flags().String("tiler", "", "Force a tiler: tippecanoe or go")
	return cmd
}
