package pmtiles

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// ErrNoTiles is returned when an archive would be empty.
var ErrNoTiles = errors.New("pmtiles: no tiles to write")

// VectorLayer is one entry of the archive's vector_layers metadata.
type VectorLayer struct {
	ID      string            `json:"id"`
	MinZoom int               `json:"minzoom"`
	MaxZoom int               `json:"maxzoom"`
	Fields  map[string]string `json:"fields"`
}

// Archive is the content of a single-file vector archive. Tiles hold
// gzipped MVT bytes.
type Archive struct {
	Name         string
	Attribution  string
	MinZoom      int
	MaxZoom      int
	Bound        orb.Bound
	VectorLayers []VectorLayer
	Tiles        map[maptile.Tile][]byte
}

// Write encodes a clustered archive with a single root directory.
func (a *Archive) Write(w io.Writer) error {
	if len(a.Tiles) == 0 {
		return ErrNoTiles
	}

	type tileEntry struct {
		id   uint64
		data []byte
	}
	entries := make([]tileEntry, 0, len(a.Tiles))
	for t, data := range a.Tiles {
		entries = append(entries, tileEntry{id: ZxyToID(uint8(t.Z), t.X, t.Y), data: data})
	}
	slices.SortFunc(entries, func(x, y tileEntry) int {
		switch {
		case x.id < y.id:
			return -1
		case x.id > y.id:
			return 1
		}
		return 0
	})

	var dir []EntryV3
	var tileData bytes.Buffer
	offset := uint64(0)
	for _, te := range entries {
		dir = append(dir, EntryV3{
			TileID:    te.id,
			Offset:    offset,
			Length:    uint32(len(te.data)),
			RunLength: 1,
		})
		tileData.Write(te.data)
		offset += uint64(len(te.data))
	}

	layers := make([]any, 0, len(a.VectorLayers))
	for _, vl := range a.VectorLayers {
		fields := vl.Fields
		if fields == nil {
			fields = map[string]string{}
		}
		layers = append(layers, map[string]any{
			"id":      vl.ID,
			"minzoom": vl.MinZoom,
			"maxzoom": vl.MaxZoom,
			"fields":  fields,
		})
	}
	metadata := map[string]any{
		"name":          a.Name,
		"format":        "pbf",
		"compression":   "gzip",
		"minzoom":       a.MinZoom,
		"maxzoom":       a.MaxZoom,
		"vector_layers": layers,
	}
	if a.Attribution != "" {
		metadata["attribution"] = a.Attribution
	}
	metadataBytes, err := SerializeMetadata(metadata, Gzip)
	if err != nil {
		return fmt.Errorf("serializing metadata: %w", err)
	}
	rootDir, err := SerializeEntries(dir, Gzip)
	if err != nil {
		return fmt.Errorf("serializing directory: %w", err)
	}

	rootOffset := uint64(HeaderV3LenBytes)
	metadataOffset := rootOffset + uint64(len(rootDir))
	tileDataOffset := metadataOffset + uint64(len(metadataBytes))

	header := HeaderV3{
		SpecVersion:         3,
		RootOffset:          rootOffset,
		RootLength:          uint64(len(rootDir)),
		MetadataOffset:      metadataOffset,
		MetadataLength:      uint64(len(metadataBytes)),
		TileDataOffset:      tileDataOffset,
		TileDataLength:      uint64(tileData.Len()),
		AddressedTilesCount: uint64(len(dir)),
		TileEntriesCount:    uint64(len(dir)),
		TileContentsCount:   uint64(len(dir)),
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     Gzip,
		TileType:            Mvt,
		MinZoom:             uint8(a.MinZoom),
		MaxZoom:             uint8(a.MaxZoom),
	}
	header.SetBound(a.Bound)
	header.CenterZoom = uint8(a.MinZoom)

	for _, part := range [][]byte{SerializeHeader(header), rootDir, metadataBytes, tileData.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}
