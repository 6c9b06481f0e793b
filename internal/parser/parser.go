// Package parser acquires the bytes behind a photo source and hands them to a
// metadata parser. Extraction is isolated: every failure degrades to "no
// parsed metadata" and never reaches the ingestion caller.
package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/capturegallery/internal/dataurl"
	apperrors "github.com/kimhsiao/capturegallery/internal/errors"
	"github.com/kimhsiao/capturegallery/internal/logging"
	"github.com/kimhsiao/capturegallery/internal/telemetry"
)

// MetadataParser turns an image buffer into structured metadata.
// It is treated as a black box; a nil map means "no metadata".
type MetadataParser interface {
	Parse(ctx context.Context, buf []byte) (map[string]any, error)
}

// ParserFunc adapts a function to MetadataParser.
type ParserFunc func(ctx context.Context, buf []byte) (map[string]any, error)

// Parse calls f.
func (f ParserFunc) Parse(ctx context.Context, buf []byte) (map[string]any, error) {
	return f(ctx, buf)
}

// Fetcher dereferences a source URI of a registered scheme.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, ref string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return f(ctx, ref)
}

// ExtractorOptions configures a MetadataExtractor.
type ExtractorOptions struct {
	// Timeout for HTTP dereference, default 30s
	Timeout time.Duration
	// Largest buffer read from any resource, default 64 MiB
	MaxBytes int64
	Logger   *logging.Logger
	Metrics  *telemetry.Metrics
}

// MetadataExtractor implements photo metadata extraction.
type MetadataExtractor struct {
	httpClient *http.Client
	parser     MetadataParser
	maxBytes   int64
	log        *logging.Logger
	metrics    *telemetry.Metrics

	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewMetadataExtractor creates an extractor around the given parser.
func NewMetadataExtractor(p MetadataParser, opts ExtractorOptions) *MetadataExtractor {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 64 << 20
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}

	return &MetadataExtractor{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		parser:   p,
		maxBytes: opts.MaxBytes,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		fetchers: make(map[string]Fetcher),
	}
}

// RegisterFetcher routes sources with the given URI scheme to f.
// Built-in handling of http, https and file is not overridable.
func (e *MetadataExtractor) RegisterFetcher(scheme string, f Fetcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fetchers[strings.ToLower(scheme)] = f
}

// Extract returns parsed metadata for src, or nil. It never fails.
func (e *MetadataExtractor) Extract(ctx context.Context, src string) map[string]any {
	buf, err := e.Load(ctx, src)
	if err != nil {
		e.fail(src, "load", err)
		return nil
	}

	meta, err := e.parse(ctx, buf)
	if err != nil {
		e.fail(src, "parse", err)
		return nil
	}
	if len(meta) == 0 {
		e.fail(src, "parse", fmt.Errorf("parser returned no metadata"))
		return nil
	}
	return meta
}

// parse invokes the parser. A panicking parser counts as a failed parse.
func (e *MetadataExtractor) parse(ctx context.Context, buf []byte) (meta map[string]any, err error) {
	if e.parser == nil {
		return nil, fmt.Errorf("no metadata parser configured")
	}
	defer func() {
		if r := recover(); r != nil {
			meta, err = nil, fmt.Errorf("metadata parser panicked: %v", r)
		}
	}()
	return e.parser.Parse(ctx, buf)
}

func (e *MetadataExtractor) fail(src, stage string, err error) {
	e.metrics.IncMetadataFailure()
	e.log.Warn("metadata extraction failed, continuing without parsed metadata", map[string]interface{}{
		"error_code": string(apperrors.ErrMetadataExtraction),
		"stage":      stage,
		"source":     SourceLabel(src),
		"error":      err.Error(),
	})
}

// Load returns the bytes behind src. Embedded-data strings are decoded in
// place; anything else is dereferenced.
func (e *MetadataExtractor) Load(ctx context.Context, src string) ([]byte, error) {
	if dataurl.Is(src) {
		if payload, ok := dataurl.Payload(src); ok && int64(dataurl.DecodedLen(payload)) > e.maxBytes {
			return nil, fmt.Errorf("embedded payload too large: %d bytes", dataurl.DecodedLen(payload))
		}
		_, data, err := dataurl.Decode(src)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > e.maxBytes {
			return nil, fmt.Errorf("embedded payload too large: %d bytes", len(data))
		}
		return data, nil
	}
	return e.dereference(ctx, src)
}

func (e *MetadataExtractor) dereference(ctx context.Context, src string) ([]byte, error) {
	if filepath.IsAbs(src) {
		return e.readFile(ctx, src)
	}

	u, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL: %w", err)
	}

	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "http", "https":
		return e.fetchHTTP(ctx, src)
	case "file":
		return e.readFile(ctx, filepath.FromSlash(u.Path))
	case "":
		return nil, fmt.Errorf("source is neither embedded data nor a URL")
	default:
		e.mu.RLock()
		f, ok := e.fetchers[scheme]
		e.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unsupported source scheme: %s", scheme)
		}
		data, err := f.Fetch(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("fetch %s source: %w", scheme, err)
		}
		if int64(len(data)) > e.maxBytes {
			return nil, fmt.Errorf("%s source too large: %d bytes", scheme, len(data))
		}
		return data, nil
	}
}

func (e *MetadataExtractor) fetchHTTP(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	if resp.ContentLength > e.maxBytes {
		return nil, fmt.Errorf("resource too large: %d bytes", resp.ContentLength)
	}
	return e.readCapped(resp.Body)
}

func (e *MetadataExtractor) readFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return e.readCapped(f)
}

// readCapped reads at most maxBytes and fails if more is available.
func (e *MetadataExtractor) readCapped(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, e.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read resource: %w", err)
	}
	if int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("resource exceeds %d bytes", e.maxBytes)
	}
	return data, nil
}
