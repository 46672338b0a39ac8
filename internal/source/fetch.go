// Package source fetches the viewer's fixed data files: the city boundary,
// the analysis grid, its statistics table and the two classified rasters.
package source

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/joeblew999/uhi-map/internal/raster"
)

// Fetcher returns the raw bytes behind a data URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	// BaseURL resolves relative data paths such as "data/lodz_grid.geojson".
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// MaxBytes caps a response body; zero means 256 MiB.
	MaxBytes int64
	// Limiter throttles requests to the data host; nil means unlimited.
	Limiter *rate.Limiter
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// HTTPFetcher performs plain GET requests. Any transport error or
// non-2xx status is a FetchFailure.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
	base   *url.URL
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) (*HTTPFetcher, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "uhi-map/1.0"
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = 256 << 20
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	f := &HTTPFetcher{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
	if opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, eris.Wrapf(err, "parse base url %q", opts.BaseURL)
		}
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		f.base = base
	}
	return f, nil
}

// Resolve returns the absolute URL for rawURL.
func (f *HTTPFetcher) Resolve(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "parse url %q", rawURL)
	}
	if f.base != nil {
		u = f.base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return "", eris.Errorf("url %q is relative and no base url is configured", rawURL)
	}
	return u.String(), nil
}

// Fetch GETs rawURL and returns the body.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := f.Resolve(rawURL)
	if err != nil {
		return nil, raster.Fail(raster.FetchFailure, err, "resolve")
	}

	if f.opts.Limiter != nil {
		if err := f.opts.Limiter.Wait(ctx); err != nil {
			return nil, raster.Fail(raster.FetchFailure, err, "rate limit "+target)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, raster.Fail(raster.FetchFailure, err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, raster.Fail(raster.FetchFailure, err, "get "+target)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, raster.Failf(raster.FetchFailure, "Failed to fetch %s (%d)", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, raster.Fail(raster.FetchFailure, err, "read body of "+target)
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return nil, raster.Failf(raster.FetchFailure, "%s is larger than %d bytes", target, f.opts.MaxBytes)
	}

	f.opts.Logger.Debug("fetched", zap.String("url", target), zap.Int("status", resp.StatusCode), zap.Int("bytes", len(body)))
	return body, nil
}

// DirFetcher reads data paths from a local directory. Prefix is stripped
// from each path first, so "data/x.tif" with Prefix "data/" reads Dir/x.tif.
type DirFetcher struct {
	Dir    string
	Prefix string
}

// Fetch reads the file behind rawURL.
func (d DirFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, raster.Fail(raster.FetchFailure, err, "fetch cancelled")
	}
	p, err := d.path(rawURL)
	if err != nil {
		return nil, raster.Fail(raster.FetchFailure, err, "fetch "+rawURL)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, raster.Fail(raster.FetchFailure, err, "fetch "+rawURL)
	}
	return data, nil
}

func (d DirFetcher) path(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "parse url %q", rawURL)
	}
	if u.IsAbs() {
		return "", eris.Errorf("absolute url %q cannot be read from a directory", rawURL)
	}
	rel := strings.TrimPrefix(path.Clean("/"+u.Path), "/")
	rel = strings.TrimPrefix(rel, strings.Trim(d.Prefix, "/")+"/")
	if rel == "" || rel == "." {
		return "", eris.Errorf("empty data path %q", rawURL)
	}
	return filepath.Join(d.Dir, filepath.FromSlash(rel)), nil
}
