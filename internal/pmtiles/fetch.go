package pmtiles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// Scheme is the URL scheme renderers use to address archive sources.
const Scheme = "pmtiles://"

// SourceURL returns the renderer URL of an archive location.
func SourceURL(location string) string {
	if strings.HasPrefix(location, Scheme) {
		return location
	}
	return Scheme + location
}

// FetchHeader reads only the fixed header of an archive. HTTP locations are
// fetched with a byte-range request; anything else is opened as a file.
func FetchHeader(ctx context.Context, client *http.Client, location string) (HeaderV3, error) {
	location = strings.TrimPrefix(location, Scheme)
	u, err := url.Parse(location)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return fetchRemote(ctx, client, location)
	}
	if err == nil && u.Scheme == "file" {
		location = u.Path
	}
	return readLocal(location)
}

func fetchRemote(ctx context.Context, client *http.Client, location string) (HeaderV3, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return HeaderV3{}, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", HeaderV3LenBytes-1))

	resp, err := client.Do(req)
	if err != nil {
		return HeaderV3{}, fmt.Errorf("fetching archive header: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return HeaderV3{}, fmt.Errorf("fetching archive header: %s", resp.Status)
	}
	buf := make([]byte, HeaderV3LenBytes)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		return HeaderV3{}, fmt.Errorf("reading archive header: %w", err)
	}
	return DeserializeHeader(buf)
}

func readLocal(path string) (HeaderV3, error) {
	f, err := os.Open(path)
	if err != nil {
		return HeaderV3{}, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	buf := make([]byte, HeaderV3LenBytes)
	if _, err := io.ReadFull(f, buf); err != nil {
		return HeaderV3{}, fmt.Errorf("reading archive header: %w", err)
	}
	return DeserializeHeader(buf)
}
