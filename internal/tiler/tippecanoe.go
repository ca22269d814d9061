package tiler

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Tippecanoe shells out to the tippecanoe binary.
type Tippecanoe struct {
	// Binary defaults to "tippecanoe" on PATH.
	Binary string
}

func (t *Tippecanoe) bin() string {
	if t.Binary != "" {
		return t.Binary
	}
	return "tippecanoe"
}

func (t *Tippecanoe) Name() string { return "tippecanoe" }

// Available reports whether the binary can be found.
func (t *Tippecanoe) Available() bool {
	_, err := exec.LookPath(t.bin())
	return err == nil
}

// Args returns the tippecanoe command line for a build.
func (t *Tippecanoe) Args(layers []Layer, output string, cfg Config) []string {
	args := []string{
		"-o", output,
		"-n", cfg.Name,
		"-Z", strconv.Itoa(cfg.MinZoom),
		"-z", strconv.Itoa(cfg.MaxZoom),
		"--force",
		"--drop-densest-as-needed",
	}
	if cfg.Attribution != "" {
		args = append(args, "-A", cfg.Attribution)
	}
	for _, l := range layers {
		args = append(args, "-L", l.Name+":"+l.Path)
	}
	return args
}

// Build runs tippecanoe, reporting its percentage output as progress.
func (t *Tippecanoe) Build(ctx context.Context, layers []Layer, output string, cfg Config, onProgress ProgressFunc) error {
	output, cfg = Normalize(output, cfg)
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if onProgress != nil {
		onProgress(10, "Starting tile generation...")
	}

	cmd := exec.CommandContext(ctx, t.bin(), t.Args(layers, output, cfg)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if strings.Contains(err.Error(), "executable file not found") {
			return fmt.Errorf("%s: %w", t.bin(), ErrNotInstalled)
		}
		return fmt.Errorf("failed to start tippecanoe: %w", err)
	}

	// tippecanoe prints progress like "99.9%  11/14"
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if pct, ok := parseProgress(scanner.Text()); ok && onProgress != nil {
			onProgress(30+int(pct*0.6), fmt.Sprintf("Processing: %.1f%%", pct))
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("tile generation failed: %w", err)
	}
	if onProgress != nil {
		onProgress(100, "Tiles generated successfully!")
	}
	return nil
}

func parseProgress(line string) (float64, bool) {
	if !strings.Contains(line, "%") {
		return 0, false
	}
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return 0, false
	}
	pct, err := strconv.ParseFloat(strings.TrimSuffix(parts[0], "%"), 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

var _ Tiler = (*Tippecanoe)(nil)
