// Package services assembles the capture gallery from configuration.
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kimhsiao/capturegallery/internal/capture"
	"github.com/kimhsiao/capturegallery/internal/config"
	"github.com/kimhsiao/capturegallery/internal/gallery"
	"github.com/kimhsiao/capturegallery/internal/logging"
	"github.com/kimhsiao/capturegallery/internal/parser"
	"github.com/kimhsiao/capturegallery/internal/parser/media"
	"github.com/kimhsiao/capturegallery/internal/source"
	"github.com/kimhsiao/capturegallery/internal/telemetry"
	"github.com/kimhsiao/capturegallery/internal/watcher"
)

// GalleryService owns one gallery and every collaborator it needs.
type GalleryService struct {
	cfg *config.Config
	log *logging.Logger

	// Collaborators, exposed for hosts that mount them directly
	Files     *capture.LocalService
	Resolver  *source.Resolver
	Extractor *parser.MetadataExtractor
	Store     *gallery.Store

	// Nil when metrics are disabled
	Registry *prometheus.Registry
	Metrics  *telemetry.Metrics

	mu      sync.Mutex
	watcher *watcher.Watcher
	closed  bool
}

// NewGalleryService builds the gallery described by cfg.
func NewGalleryService(cfg *config.Config, log *logging.Logger) (*GalleryService, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Get()
	}

	s := &GalleryService{cfg: cfg, log: log}

	if cfg.App.MetricsEnabled {
		s.Registry = prometheus.NewRegistry()
		s.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.Metrics = telemetry.NewMetrics(s.Registry)
	}

	files, err := capture.NewLocalService(cfg.Capture.Dir, cfg.Capture.StreamBaseURL, cfg.Fetch.MaxBytes, cfg.Capture.AllowedRoots...)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture directory: %w", err)
	}
	s.Files = files

	s.Resolver = source.NewResolver(files, source.Options{
		PhotoMIMEType: cfg.Source.PhotoMIMEType,
		VideoMIMEType: cfg.Source.VideoMIMEType,
		PathPrefixes:  cfg.Source.PathPrefixes,
		Logger:        log,
		Metrics:       s.Metrics,
	})

	imageParser := media.NewImageParser()
	if cfg.Fetch.DecodePixels {
		imageParser = media.NewImageParserWithPixels(cfg.Fetch.MaxPixels)
	}
	s.Extractor = parser.NewMetadataExtractor(imageParser, parser.ExtractorOptions{
		Timeout:  cfg.Fetch.Timeout,
		MaxBytes: cfg.Fetch.MaxBytes,
		Logger:   log,
		Metrics:  s.Metrics,
	})
	s.Extractor.RegisterFetcher("content", parser.FetcherFunc(files.ReadBytes))

	s.Store = gallery.NewStore(s.Resolver, s.Extractor, gallery.Options{
		Logger:  log,
		Metrics: s.Metrics,
	})

	log.Info("gallery service created", map[string]interface{}{
		"capture_dir": files.RootDir(),
		"metrics":     cfg.App.MetricsEnabled,
		"watch":       cfg.Capture.Watch,
	})
	return s, nil
}

// Config returns the configuration the service was built from.
func (s *GalleryService) Config() *config.Config {
	return s.cfg
}

// Start begins watching the capture directory when configured to.
func (s *GalleryService) Start(ctx context.Context) error {
	if !s.cfg.Capture.Watch {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("gallery service is closed")
	}
	if s.watcher != nil {
		return nil
	}

	w, err := watcher.New(s.Files.RootDir(), s.Store, watcher.Options{
		ScanExisting: true,
		Logger:       s.log,
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// Close stops the watcher and waits for background cleanups.
func (s *GalleryService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	var err error
	if w != nil {
		err = w.Close()
	}
	s.Store.Wait()
	return err
}
