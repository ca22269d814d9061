package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-parcel/internal/humastar"
	"github.com/joeblew999/plat-parcel/internal/pmtiles"
	"github.com/joeblew999/plat-parcel/internal/tiler"
)

// ArchiveFile is a local vector tile archive.
type ArchiveFile struct {
	Name    string     `json:"name" doc:"File name under the tiles directory" example:"milwaukee.pmtiles"`
	Size    string     `json:"size" doc:"Human-readable size" example:"12.4 MB"`
	MinZoom uint8      `json:"minZoom" doc:"Minimum zoom in the archive"`
	MaxZoom uint8      `json:"maxZoom" doc:"Maximum zoom in the archive"`
	Bounds  [4]float64 `json:"bounds" doc:"West, south, east, north"`
	Error   string     `json:"error,omitempty" doc:"Why the header could not be read"`
}

// SourceFile is a GeoJSON input an archive can be built from.
type SourceFile struct {
	Name string `json:"name" doc:"File name under the sources directory" example:"parcels.geojson"`
	Size string `json:"size" doc:"Human-readable size"`
}

// ArchiveHandler lists local archives and builds new ones from GeoJSON
// sources.
type ArchiveHandler struct {
	humastar.Handler
	tilesDir   string
	sourcesDir string
	tilers     []tiler.Tiler
}

// NewArchiveHandler creates an archive handler over dataDir. tilers are
// tried in order when a build names none.
func NewArchiveHandler(dataDir string, tilers ...tiler.Tiler) *ArchiveHandler {
	return &ArchiveHandler{
		tilesDir:   filepath.Join(dataDir, "tiles"),
		sourcesDir: filepath.Join(dataDir, "sources"),
		tilers:     tilers,
	}
}

func (h *ArchiveHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/archives", h.List, huma.OperationTags("archives"))
	huma.Get(api, "/api/v1/sources", h.Sources, huma.OperationTags("archives"))
	huma.Post(api, "/api/v1/archives/build", h.Build, huma.OperationTags(humastar.StreamTag))
}

// List returns every .pmtiles file with its header summary.
func (h *ArchiveHandler) List(ctx context.Context, input *struct{}) (*struct{ Body []ArchiveFile }, error) {
	files := []ArchiveFile{}
	err := h.each(h.tilesDir, func(name string, size int64) {
		if filepath.Ext(name) != ".pmtiles" {
			return
		}
		f := ArchiveFile{Name: name, Size: formatSize(size)}
		hdr, err := pmtiles.FetchHeader(ctx, nil, filepath.Join(h.tilesDir, name))
		if err != nil {
			f.Error = err.Error()
		} else {
			b := hdr.Bound()
			f.MinZoom, f.MaxZoom = hdr.MinZoom, hdr.MaxZoom
			f.Bounds = [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
		}
		files = append(files, f)
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("listing archives", err)
	}
	return &struct{ Body []ArchiveFile }{Body: files}, nil
}

// Sources returns the GeoJSON files available as build inputs.
func (h *ArchiveHandler) Sources(ctx context.Context, input *struct{}) (*struct{ Body []SourceFile }, error) {
	files := []SourceFile{}
	err := h.each(h.sourcesDir, func(name string, size int64) {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".geojson", ".json":
			files = append(files, SourceFile{Name: name, Size: formatSize(size)})
		}
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("listing sources", err)
	}
	return &struct{ Body []SourceFile }{Body: files}, nil
}

func (h *ArchiveHandler) each(dir string, fn func(name string, size int64)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		fn(entry.Name(), info.Size())
	}
	return nil
}

type BuildLayer struct {
	Name   string `json:"name" minLength:"1" doc:"Sub-layer name inside the archive" example:"parcels"`
	Source string `json:"source" minLength:"1" doc:"GeoJSON file under the sources directory" example:"parcels.geojson"`
}

type BuildInput struct {
	Body struct {
		Output      string       `json:"output" minLength:"1" doc:"Archive file name" example:"milwaukee"`
		Layers      []BuildLayer `json:"layers" minItems:"1" doc:"Inputs, one sub-layer each"`
		Attribution string       `json:"attribution,omitempty" doc:"Data attribution"`
		MinZoom     int          `json:"minZoom,omitempty" minimum:"0" maximum:"22" doc:"Minimum zoom level"`
		MaxZoom     int          `json:"maxZoom,omitempty" minimum:"0" maximum:"22" doc:"Maximum zoom level"`
		Tiler       string       `json:"tiler,omitempty" enum:"tippecanoe,go" doc:"Force a tiler"`
	}
}

// Build tiles the named sources into one archive, streaming progress as
// Datastar signals (archiveProgress, archiveStatus, then success or error).
func (h *ArchiveHandler) Build(ctx context.Context, input *BuildInput) (*huma.StreamResponse, error) {
	b := input.Body
	if !safeName(b.Output) {
		return nil, huma.Error400BadRequest("invalid output name")
	}
	layers := make([]tiler.Layer, 0, len(b.Layers))
	for _, l := range b.Layers {
		if !safeName(l.Source) {
			return nil, huma.Error400BadRequest("invalid source name: " + l.Source)
		}
		path := filepath.Join(h.sourcesDir, l.Source)
		if err := tiler.ValidateInput(path); err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		layers = append(layers, tiler.Layer{Name: l.Name, Path: path})
	}
	t, err := tiler.Choose(b.Tiler, h.tilers...)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	cfg := tiler.Config{Attribution: b.Attribution, MinZoom: b.MinZoom, MaxZoom: b.MaxZoom}
	output, cfg := tiler.Normalize(filepath.Join(h.tilesDir, b.Output), cfg)

	return h.Stream(func(sse humastar.SSE) {
		sse.Signals(map[string]any{"archiveStatus": "Building with " + t.Name(), "archiveProgress": 0})
		err := t.Build(ctx, layers, output, cfg, func(progress int, status string) {
			sse.Signals(map[string]any{"archiveStatus": status, "archiveProgress": progress})
		})
		if err != nil {
			sse.Error("Archive build failed: " + err.Error())
			return
		}
		sse.Success(fmt.Sprintf("Archive built: %s", filepath.Base(output)))
	}), nil
}

func safeName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
