package layers

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry is the immutable set of configured layers.
type Registry struct {
	descriptors []Descriptor
	byID        map[string]int
	points      []PointLayer
}

// file is the on-disk registry layout (YAML or JSON).
type file struct {
	Layers []Descriptor `yaml:"layers"`
	Points []PointLayer `yaml:"points"`
}

// Default returns the built-in catalog.
func Default() *Registry {
	r, err := New(defaultDescriptors(), defaultPointLayers())
	if err != nil {
		panic(err)
	}
	return r
}

// New validates descriptors and builds a registry. Order is significant:
// the first descriptor renders topmost.
func New(descriptors []Descriptor, points []PointLayer) (*Registry, error) {
	r := &Registry{
		descriptors: make([]Descriptor, 0, len(descriptors)),
		byID:        make(map[string]int, len(descriptors)+len(points)),
	}

	extrudable := ""
	for _, d := range descriptors {
		if d.ID == "" {
			d.ID = generateID(d.Name)
		}
		if d.ID == "" {
			return nil, fmt.Errorf("layer %q has no id", d.Name)
		}
		if _, exists := r.byID[d.ID]; exists {
			return nil, fmt.Errorf("layer with ID %q already exists", d.ID)
		}
		if d.Service == nil && d.SourceLayer == "" {
			return nil, fmt.Errorf("layer %q has neither a service locator nor an archive source layer", d.ID)
		}
		if d.Extrudable {
			if extrudable != "" {
				return nil, fmt.Errorf("layers %q and %q are both extrudable", extrudable, d.ID)
			}
			extrudable = d.ID
		}
		if d.Kind == "" {
			d.Kind = KindPolygon
		}
		r.byID[d.ID] = len(r.descriptors)
		r.descriptors = append(r.descriptors, d)
	}

	for _, p := range points {
		if p.ID == "" {
			p.ID = generateID(p.Name)
		}
		if _, exists := r.byID[p.ID]; exists {
			return nil, fmt.Errorf("layer with ID %q already exists", p.ID)
		}
		if p.Collection == "" {
			return nil, fmt.Errorf("point layer %q has no collection", p.ID)
		}
		r.byID[p.ID] = -1
		r.points = append(r.points, p)
	}
	return r, nil
}

// Load reads a registry file. Both YAML and JSON are accepted.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layers file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing layers file: %w", err)
	}
	points := f.Points
	if points == nil {
		points = defaultPointLayers()
	}
	return New(f.Layers, points)
}

// Descriptors returns the descriptors in configured order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Get returns a descriptor by ID.
func (r *Registry) Get(id string) (Descriptor, bool) {
	i, ok := r.byID[id]
	if !ok || i < 0 {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// Index returns the configured position of a descriptor, or -1.
func (r *Registry) Index(id string) int {
	i, ok := r.byID[id]
	if !ok {
		return -1
	}
	return i
}

// Extrudable returns the descriptor with a 3D variant, if any.
func (r *Registry) Extrudable() (Descriptor, bool) {
	for _, d := range r.descriptors {
		if d.Extrudable {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Points returns the point layers.
func (r *Registry) Points() []PointLayer {
	out := make([]PointLayer, len(r.points))
	copy(out, r.points)
	return out
}

// Point returns a point layer by ID.
func (r *Registry) Point(id string) (PointLayer, bool) {
	for _, p := range r.points {
		if p.ID == id {
			return p, true
		}
	}
	return PointLayer{}, false
}

// generateID creates a URL-safe ID from a name.
func generateID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.ReplaceAll(id, " ", "-")
	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
