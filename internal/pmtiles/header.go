// Package pmtiles reads and writes the PMTiles v3 single-file tile archive
// format: the fixed header, the root directory and gzip metadata.
//
// Format: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
package pmtiles

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// Compression is the compression algorithm applied to individual tiles.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
	Brotli             Compression = 3
	Zstd               Compression = 4
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Gzip:
		return "gzip"
	case Brotli:
		return "br"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// TileType is the format of individual tile contents.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt             TileType = 1
	Png             TileType = 2
	Jpeg            TileType = 3
	Webp            TileType = 4
	Avif            TileType = 5
)

func (t TileType) String() string {
	switch t {
	case Mvt:
		return "mvt"
	case Png:
		return "png"
	case Jpeg:
		return "jpg"
	case Webp:
		return "webp"
	case Avif:
		return "avif"
	default:
		return "unknown"
	}
}

// HeaderV3LenBytes is the fixed-size binary header.
const HeaderV3LenBytes = 127

var (
	// ErrNotArchive is returned when the magic number is missing.
	ErrNotArchive = errors.New("pmtiles: magic number not detected")
	// ErrShortHeader is returned for buffers smaller than a header.
	ErrShortHeader = errors.New("pmtiles: buffer too small for header")
	// ErrUnsupportedVersion is returned for archives other than v3.
	ErrUnsupportedVersion = errors.New("pmtiles: unsupported spec version")
)

// HeaderV3 is a binary header for PMTiles v3.
type HeaderV3 struct {
	SpecVersion         uint8       `json:"specVersion"`
	RootOffset          uint64      `json:"rootOffset"`
	RootLength          uint64      `json:"rootLength"`
	MetadataOffset      uint64      `json:"metadataOffset"`
	MetadataLength      uint64      `json:"metadataLength"`
	LeafDirectoryOffset uint64      `json:"leafDirectoryOffset"`
	LeafDirectoryLength uint64      `json:"leafDirectoryLength"`
	TileDataOffset      uint64      `json:"tileDataOffset"`
	TileDataLength      uint64      `json:"tileDataLength"`
	AddressedTilesCount uint64      `json:"addressedTilesCount"`
	TileEntriesCount    uint64      `json:"tileEntriesCount"`
	TileContentsCount   uint64      `json:"tileContentsCount"`
	Clustered           bool        `json:"clustered"`
	InternalCompression Compression `json:"internalCompression"`
	TileCompression     Compression `json:"tileCompression"`
	TileType            TileType    `json:"tileType"`
	MinZoom             uint8       `json:"minZoom"`
	MaxZoom             uint8       `json:"maxZoom"`
	MinLonE7            int32       `json:"minLonE7"`
	MinLatE7            int32       `json:"minLatE7"`
	MaxLonE7            int32       `json:"maxLonE7"`
	MaxLatE7            int32       `json:"maxLatE7"`
	CenterZoom          uint8       `json:"centerZoom"`
	CenterLonE7         int32       `json:"centerLonE7"`
	CenterLatE7         int32       `json:"centerLatE7"`
}

// Bound returns the archive extent in lon/lat degrees.
func (h HeaderV3) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{fromE7(h.MinLonE7), fromE7(h.MinLatE7)},
		Max: orb.Point{fromE7(h.MaxLonE7), fromE7(h.MaxLatE7)},
	}
}

// Center returns the archive's suggested center.
func (h HeaderV3) Center() orb.Point {
	return orb.Point{fromE7(h.CenterLonE7), fromE7(h.CenterLatE7)}
}

// SetBound stores b as the archive extent and centers on it.
func (h *HeaderV3) SetBound(b orb.Bound) {
	h.MinLonE7, h.MinLatE7 = toE7(b.Min[0]), toE7(b.Min[1])
	h.MaxLonE7, h.MaxLatE7 = toE7(b.Max[0]), toE7(b.Max[1])
	c := b.Center()
	h.CenterLonE7, h.CenterLatE7 = toE7(c[0]), toE7(c[1])
}

func fromE7(v int32) float64 { return float64(v) / 1e7 }
func toE7(v float64) int32   { return int32(v * 1e7) }

// SerializeHeader converts a header to bytes.
func SerializeHeader(header HeaderV3) []byte {
	b := make([]byte, HeaderV3LenBytes)
	copy(b[0:7], "PMTiles")

	b[7] = 3
	le := binary.LittleEndian
	le.PutUint64(b[8:], header.RootOffset)
	le.PutUint64(b[16:], header.RootLength)
	le.PutUint64(b[24:], header.MetadataOffset)
	le.PutUint64(b[32:], header.MetadataLength)
	le.PutUint64(b[40:], header.LeafDirectoryOffset)
	le.PutUint64(b[48:], header.LeafDirectoryLength)
	le.PutUint64(b[56:], header.TileDataOffset)
	le.PutUint64(b[64:], header.TileDataLength)
	le.PutUint64(b[72:], header.AddressedTilesCount)
	le.PutUint64(b[80:], header.TileEntriesCount)
	le.PutUint64(b[88:], header.TileContentsCount)
	if header.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(header.InternalCompression)
	b[98] = uint8(header.TileCompression)
	b[99] = uint8(header.TileType)
	b[100] = header.MinZoom
	b[101] = header.MaxZoom
	le.PutUint32(b[102:], uint32(header.MinLonE7))
	le.PutUint32(b[106:], uint32(header.MinLatE7))
	le.PutUint32(b[110:], uint32(header.MaxLonE7))
	le.PutUint32(b[114:], uint32(header.MaxLatE7))
	b[118] = header.CenterZoom
	le.PutUint32(b[119:], uint32(header.CenterLonE7))
	le.PutUint32(b[123:], uint32(header.CenterLatE7))
	return b
}

// DeserializeHeader parses a binary header. Only v3 archives are accepted.
func DeserializeHeader(d []byte) (HeaderV3, error) {
	h := HeaderV3{}
	if len(d) < HeaderV3LenBytes {
		return h, ErrShortHeader
	}
	if string(d[0:7]) != "PMTiles" {
		return h, ErrNotArchive
	}
	if d[7] != 3 {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, d[7])
	}

	le := binary.LittleEndian
	h.SpecVersion = d[7]
	h.RootOffset = le.Uint64(d[8:])
	h.RootLength = le.Uint64(d[16:])
	h.MetadataOffset = le.Uint64(d[24:])
	h.MetadataLength = le.Uint64(d[32:])
	h.LeafDirectoryOffset = le.Uint64(d[40:])
	h.LeafDirectoryLength = le.Uint64(d[48:])
	h.TileDataOffset = le.Uint64(d[56:])
	h.TileDataLength = le.Uint64(d[64:])
	h.AddressedTilesCount = le.Uint64(d[72:])
	h.TileEntriesCount = le.Uint64(d[80:])
	h.TileContentsCount = le.Uint64(d[88:])
	h.Clustered = d[96] == 0x1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(le.Uint32(d[102:]))
	h.MinLatE7 = int32(le.Uint32(d[106:]))
	h.MaxLonE7 = int32(le.Uint32(d[110:]))
	h.MaxLatE7 = int32(le.Uint32(d[114:]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(le.Uint32(d[119:]))
	h.CenterLatE7 = int32(le.Uint32(d[123:]))

	return h, nil
}
