package pmtiles

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := HeaderV3{
		RootOffset:      127,
		RootLength:      42,
		TileType:        Mvt,
		TileCompression: Gzip,
		MinZoom:         10,
		MaxZoom:         16,
	}
	h.SetBound(orb.Bound{Min: orb.Point{-88.07, 42.92}, Max: orb.Point{-87.86, 43.19}})

	got, err := DeserializeHeader(SerializeHeader(h))
	if err != nil {
		t.Fatal(err)
	}
	if got.RootLength != 42 || got.MaxZoom != 16 || got.TileType != Mvt {
		t.Errorf("unexpected header %+v", got)
	}
	b := got.Bound()
	if b.Min[0] > -88.06 || b.Min[0] < -88.08 {
		t.Errorf("bound = %v", b)
	}
}

func TestDeserializeHeaderRejects(t *testing.T) {
	if _, err := DeserializeHeader([]byte("short")); !errors.Is(err, ErrShortHeader) {
		t.Errorf("expected ErrShortHeader, got %v", err)
	}
	junk := make([]byte, HeaderV3LenBytes)
	if _, err := DeserializeHeader(junk); !errors.Is(err, ErrNotArchive) {
		t.Errorf("expected ErrNotArchive, got %v", err)
	}
	v2 := SerializeHeader(HeaderV3{})
	v2[7] = 2
	if _, err := DeserializeHeader(v2); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestZxyToID(t *testing.T) {
	tests := []struct {
		z    uint8
		x, y uint32
		want uint64
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 1},
		{1, 0, 1, 2},
		{1, 1, 1, 3},
		{1, 1, 0, 4},
		{2, 0, 0, 5},
	}
	for _, tt := range tests {
		if got := ZxyToID(tt.z, tt.x, tt.y); got != tt.want {
			t.Errorf("ZxyToID(%d,%d,%d) = %d, want %d", tt.z, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestSerializeEntriesUnsupported(t *testing.T) {
	if _, err := SerializeEntries(nil, Brotli); err == nil {
		t.Error("expected error for brotli")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	raw, err := SerializeMetadata(map[string]any{"name": "parcels"}, Gzip)
	if err != nil {
		t.Fatal(err)
	}
	m, err := DeserializeMetadata(raw, Gzip)
	if err != nil {
		t.Fatal(err)
	}
	if m["name"] != "parcels" {
		t.Errorf("name = %v", m["name"])
	}
}

func writeArchive(t *testing.T) []byte {
	t.Helper()
	a := &Archive{
		Name:         "milwaukee",
		MinZoom:      10,
		MaxZoom:      10,
		Bound:        orb.Bound{Min: orb.Point{-88, 43}, Max: orb.Point{-87.9, 43.1}},
		VectorLayers: []VectorLayer{{ID: "parcels", MinZoom: 10, MaxZoom: 10}},
		Tiles:        map[maptile.Tile][]byte{maptile.New(261, 374, 10): []byte("tile")},
	}
	var buf bytes.Buffer
	if err := a.Write(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestArchiveWriteEmpty(t *testing.T) {
	if err := (&Archive{}).Write(&bytes.Buffer{}); !errors.Is(err, ErrNoTiles) {
		t.Errorf("expected ErrNoTiles, got %v", err)
	}
}

func TestFetchHeaderRange(t *testing.T) {
	data := writeArchive(t)
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[:HeaderV3LenBytes])
	}))
	defer srv.Close()

	h, err := FetchHeader(context.Background(), srv.Client(), SourceURL(srv.URL+"/milwaukee.pmtiles"))
	if err != nil {
		t.Fatal(err)
	}
	if gotRange != "bytes=0-126" {
		t.Errorf("Range = %q", gotRange)
	}
	if h.MinZoom != 10 || h.TileEntriesCount != 1 {
		t.Errorf("unexpected header %+v", h)
	}
}

func TestFetchHeaderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := FetchHeader(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Error("expected error for 404")
	}
}

func TestFetchHeaderLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pmtiles")
	if err := os.WriteFile(path, writeArchive(t), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := FetchHeader(context.Background(), nil, "file://"+path)
	if err != nil {
		t.Fatal(err)
	}
	if h.TileType != Mvt {
		t.Errorf("tile type = %v", h.TileType)
	}
}
