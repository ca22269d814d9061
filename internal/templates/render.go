// Package templates renders the HTML fragments patched into the map page
// over Datastar SSE.
package templates

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"path/filepath"
	"strconv"
	"sync"
)

//go:embed fragments/*.html
var embedded embed.FS

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	// dict creates a map from key-value pairs, useful for passing multiple values to nested templates
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	"money": money,
}

// money formats whole dollars with thousands separators.
func money(v float64) string {
	s := strconv.FormatInt(int64(v), 10)
	neg := len(s) > 0 && s[0] == '-'
	if neg {
		s = s[1:]
	}
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-$" + string(out)
	}
	return "$" + string(out)
}

// Renderer manages HTML fragment templates.
type Renderer struct {
	templates *template.Template
	mu        sync.RWMutex
	dir       string
}

// Default returns a renderer over the fragments compiled into the binary.
func Default() *Renderer {
	tmpl := template.Must(parseFS(embedded, "fragments/*.html"))
	return &Renderer{templates: tmpl}
}

// New creates a renderer from a directory of *.html fragments, overriding
// the built-in ones.
func New(fragmentsDir string) (*Renderer, error) {
	tmpl, err := parseDir(fragmentsDir)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl, dir: fragmentsDir}, nil
}

func parseFS(fsys fs.FS, pattern string) (*template.Template, error) {
	return template.New("").Funcs(funcMap).ParseFS(fsys, pattern)
}

// parseDir layers the directory's fragments over the embedded set.
func parseDir(dir string) (*template.Template, error) {
	tmpl, err := parseFS(embedded, "fragments/*.html")
	if err != nil {
		return nil, err
	}
	return tmpl.ParseGlob(filepath.Join(dir, "*.html"))
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToBuffer(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer renders a named template to a buffer.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.templates.ExecuteTemplate(buf, name, data)
}

// Reload re-reads the fragments directory (useful for dev hot-reload).
// Renderers over the embedded set have nothing to reload.
func (r *Renderer) Reload() error {
	if r.dir == "" {
		return nil
	}
	tmpl, err := parseDir(r.dir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()

	return nil
}
