package humastar

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// StreamTag marks SSE operations; they get no hypermedia links.
const StreamTag = "stream"

// EntryPath is the API entry point. The root document reuses its links.
const EntryPath = "/health"

// apiRoot bounds the walk from a command up to the resource it acts on.
const apiRoot = "/api/v1"

// Relation is a link between two operation paths that the path layout does
// not imply, such as an engine command offered from the state resource.
type Relation struct {
	From string
	To   string
	Rel  string
}

// linkMap holds the RFC 8288 Link values for each operation path.
var linkMap map[string][]string

// AutoLinks derives Link headers from the registered operations and adds
// rels. Call it once every route is registered.
//
// A layer item links to the layer list and back. A command nested under a
// readable resource is linked from that resource under its first segment,
// so a layer offers visibility and opacity and a point layer offers
// selection. Readable collections link up to the entry point, which links
// to each of them and to the API description.
func AutoLinks(api huma.API, rels ...Relation) {
	paths := api.OpenAPI().Paths
	linkMap = map[string][]string{}

	for p, pi := range paths {
		if streaming(pi) {
			continue
		}
		switch {
		case pi.Get == nil:
			if owner, rel := commandOwner(paths, p); owner != "" {
				addLink(owner, p, rel)
			}
		case templated(p):
			if parent := path.Dir(p); readable(paths, parent) {
				addLink(p, parent, "collection")
				addLink(parent, p, "item")
			}
		case p != EntryPath:
			addLink(p, EntryPath, "up")
			addLink(EntryPath, p, path.Base(p))
		}
	}

	for _, r := range rels {
		if paths[r.From] != nil && paths[r.To] != nil {
			addLink(r.From, r.To, r.Rel)
		}
	}

	addLink(EntryPath, "/openapi.json", "service-desc")
	addLink(EntryPath, "/docs", "service-doc")

	for _, links := range linkMap {
		slices.Sort(links)
	}
}

// LinkTransformer returns a Huma Transformer that writes the derived Link
// headers, a self link for items, and any pagination or action links the
// response body carries.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		self := ctx.URL().Path

		links := slices.Clone(linkMap[op.Path])
		if templated(op.Path) {
			links = append(links, fmt.Sprintf(`<%s>; rel="self"`, self))
		}
		if p, ok := v.(Pager); ok {
			links = append(links, p.PaginationLinks(self)...)
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				links = append(links, action.LinkHeader())
			}
		}
		for _, link := range links {
			ctx.AppendHeader("Link", link)
		}
		return v, nil
	}
}

// RootLinks returns the entry point's Link headers for non-Huma handlers.
func RootLinks() []string {
	return linkMap[EntryPath]
}

func addLink(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	if !slices.Contains(linkMap[from], val) {
		linkMap[from] = append(linkMap[from], val)
	}
}

// commandOwner finds the nearest readable path above the command p, and
// names the link after the segment directly below it.
func commandOwner(paths map[string]*huma.PathItem, p string) (owner, rel string) {
	child := p
	for dir := path.Dir(p); strings.HasPrefix(dir, apiRoot+"/"); dir = path.Dir(dir) {
		if readable(paths, dir) {
			return dir, path.Base(child)
		}
		child = dir
	}
	return "", ""
}

func readable(paths map[string]*huma.PathItem, p string) bool {
	pi := paths[p]
	return pi != nil && pi.Get != nil && !streaming(pi)
}

func templated(p string) bool {
	return strings.Contains(p, "{")
}

func streaming(pi *huma.PathItem) bool {
	for _, op := range []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete} {
		if op != nil && slices.Contains(op.Tags, StreamTag) {
			return true
		}
	}
	return false
}
