// Package fetcher downloads source documents and reads the tabular formats
// (CSV, XLSX, zipped shapefiles) the reference data and daily reports come in.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when the remote document does not exist, which for
// daily sources usually means the day has not been published yet.
var ErrNotFound = eris.New("fetcher: not found")

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// SchemeFetcher routes each download to the fetcher registered for the URL
// scheme.
type SchemeFetcher map[string]Fetcher

// NewSchemeFetcher routes http and https to h and ftp to f.
func NewSchemeFetcher(h, f Fetcher) SchemeFetcher {
	return SchemeFetcher{"http": h, "https": h, "ftp": f}
}

// Download implements Fetcher.
func (s SchemeFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	f, ok := s[strings.ToLower(u.Scheme)]
	if !ok || f == nil {
		return nil, eris.Errorf("fetcher: no fetcher for scheme %q", u.Scheme)
	}
	return f.Download(ctx, rawURL)
}
