package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// EntryV3 is an entry in a PMTiles v3 directory.
type EntryV3 struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// ZxyToID converts (Z,X,Y) tile coordinates to a Hilbert TileID.
func ZxyToID(z uint8, x uint32, y uint32) uint64 {
	var acc uint64 = (1<<(z*2) - 1) / 3
	n := uint32(z - 1)
	for s := uint32(1 << n); s > 0; s >>= 1 {
		rx := s & x
		ry := s & y
		acc += uint64((3*rx)^ry) << n
		x, y = rotate(s, x, y, rx, ry)
		n--
	}
	return acc
}

func rotate(n uint32, x uint32, y uint32, rx uint32, ry uint32) (uint32, uint32) {
	if ry == 0 {
		if rx != 0 {
			x = n - 1 - x
			y = n - 1 - y
		}
		return y, x
	}
	return x, y
}

type nopWriteCloser struct {
	*bytes.Buffer
}

func (w *nopWriteCloser) Close() error { return nil }

func compressor(b *bytes.Buffer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case NoCompression:
		return &nopWriteCloser{b}, nil
	case Gzip:
		return gzip.NewWriterLevel(b, gzip.BestCompression)
	default:
		return nil, fmt.Errorf("pmtiles: compression %s not supported", compression)
	}
}

// SerializeMetadata converts metadata JSON to compressed bytes.
func SerializeMetadata(metadata map[string]any, compression Compression) ([]byte, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	w, err := compressor(&b, compression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// DeserializeMetadata decompresses and decodes archive metadata.
func DeserializeMetadata(d []byte, compression Compression) (map[string]any, error) {
	var r io.Reader = bytes.NewReader(d)
	switch compression {
	case NoCompression:
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: metadata: %w", err)
		}
		defer gz.Close()
		r = gz
	default:
		return nil, fmt.Errorf("pmtiles: compression %s not supported", compression)
	}
	var m map[string]any
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("pmtiles: metadata: %w", err)
	}
	return m, nil
}

// SerializeEntries converts directory entries to compressed bytes.
func SerializeEntries(entries []EntryV3, compression Compression) ([]byte, error) {
	var b bytes.Buffer
	w, err := compressor(&b, compression)
	if err != nil {
		return nil, err
	}

	tmp := make([]byte, binary.MaxVarintLen64)
	put := func(v uint64) {
		n := binary.PutUvarint(tmp, v)
		w.Write(tmp[:n])
	}

	put(uint64(len(entries)))

	lastID := uint64(0)
	for _, e := range entries {
		put(e.TileID - lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		put(uint64(e.RunLength))
	}
	for _, e := range entries {
		put(uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			put(0)
		} else {
			put(e.Offset + 1)
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
