// Package tiler builds the single-file vector archive archive-mode maps
// read from. Each configured layer becomes one sub-layer of the archive.
package tiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotInstalled is returned when an external tiler binary is missing.
var ErrNotInstalled = errors.New("tiler not installed")

// Layer is one GeoJSON input and the sub-layer name it is written under.
type Layer struct {
	Name string `json:"name" doc:"Sub-layer name inside the archive" example:"parcels"`
	Path string `json:"path" doc:"GeoJSON file" example:"data/parcels.geojson"`
}

// Config controls an archive build.
type Config struct {
	Name        string `json:"name" doc:"Archive name" example:"milwaukee"`
	Attribution string `json:"attribution,omitempty" doc:"Data attribution"`
	MinZoom     int    `json:"minZoom" minimum:"0" maximum:"22" doc:"Minimum zoom level"`
	MaxZoom     int    `json:"maxZoom" minimum:"0" maximum:"22" doc:"Maximum zoom level"`
}

// ProgressFunc is called with progress updates during a build.
type ProgressFunc func(progress int, status string)

// Tiler converts GeoJSON layers into a vector archive.
type Tiler interface {
	Name() string
	Available() bool
	Build(ctx context.Context, layers []Layer, output string, cfg Config, onProgress ProgressFunc) error
}

// Choose returns the named tiler, or the first available one when name is
// empty.
func Choose(name string, candidates ...Tiler) (Tiler, error) {
	for _, t := range candidates {
		if name != "" && t.Name() != name {
			continue
		}
		if !t.Available() {
			if name != "" {
				return nil, fmt.Errorf("%s: %w", name, ErrNotInstalled)
			}
			continue
		}
		return t, nil
	}
	if name != "" {
		return nil, fmt.Errorf("unknown tiler %q", name)
	}
	return nil, ErrNotInstalled
}

// ParseLayer parses "name=path". A bare path is named after its file.
func ParseLayer(arg string) (Layer, error) {
	name, path, ok := strings.Cut(arg, "=")
	if !ok {
		path = arg
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	name, path = strings.TrimSpace(name), strings.TrimSpace(path)
	if name == "" || path == "" {
		return Layer{}, fmt.Errorf("invalid layer %q: want name=path", arg)
	}
	if err := ValidateInput(path); err != nil {
		return Layer{}, err
	}
	return Layer{Name: name, Path: path}, nil
}

// ValidateInput checks an input file exists and is GeoJSON.
func ValidateInput(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".geojson" && ext != ".json" {
		return fmt.Errorf("unsupported file type: %s", ext)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("input %s: %w", path, err)
	}
	return nil
}

// Normalize applies defaults and ensures the .pmtiles extension.
func Normalize(output string, cfg Config) (string, Config) {
	if !strings.HasSuffix(output, ".pmtiles") {
		output += ".pmtiles"
	}
	if cfg.Name == "" {
		cfg.Name = strings.TrimSuffix(filepath.Base(output), ".pmtiles")
	}
	if cfg.MinZoom < 0 {
		cfg.MinZoom = 0
	}
	if cfg.MaxZoom <= 0 || cfg.MaxZoom > 14 {
		cfg.MaxZoom = 14
	}
	if cfg.MinZoom > cfg.MaxZoom {
		cfg.MinZoom = cfg.MaxZoom
	}
	return output, cfg
}
