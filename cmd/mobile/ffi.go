// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libcapture.so (Android) / capture.framework (iOS)
//
// The bridge keeps one gallery per process. Every call returns JSON; on
// failure the exported function returns NULL and the error is available
// from GalleryLastError.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/kimhsiao/capturegallery/internal/config"
	apperrors "github.com/kimhsiao/capturegallery/internal/errors"
	"github.com/kimhsiao/capturegallery/internal/gallery"
	"github.com/kimhsiao/capturegallery/internal/logging"
	"github.com/kimhsiao/capturegallery/internal/models"
	"github.com/kimhsiao/capturegallery/internal/services"
)

var (
	bridgeMu sync.RWMutex
	svc      *services.GalleryService

	lastMu  sync.RWMutex
	lastErr *bridgeError

	// logOutput is where the bridge logs; tests silence it
	logOutput io.Writer = os.Stderr
)

// bridgeError is the JSON shape of GalleryLastError.
type bridgeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// listResult is the JSON shape of the list exports.
type listResult struct {
	Items []models.MediaItem `json:"items"`
	Total int                `json:"total"`
}

func setLastError(err error) {
	lastMu.Lock()
	defer lastMu.Unlock()
	if err == nil {
		lastErr = nil
		return
	}
	lastErr = &bridgeError{Code: string(apperrors.CodeOf(err)), Message: err.Error()}
}

func lastErrorJSON() string {
	lastMu.RLock()
	defer lastMu.RUnlock()
	if lastErr == nil {
		return ""
	}
	data, _ := json.Marshal(lastErr)
	return string(data)
}

// initGallery builds the process gallery. captureDir overrides CAPTURE_DIR when set.
// A second call is a no-op.
func initGallery(captureDir string) error {
	bridgeMu.Lock()
	defer bridgeMu.Unlock()
	if svc != nil {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if captureDir != "" {
		cfg.Capture.Dir = captureDir
	}
	// The mobile shell has no exposition endpoint and no capture file
	// server, so clips are handed to the UI as file:// URLs
	cfg.App.MetricsEnabled = false
	cfg.Capture.StreamBaseURL = ""

	log := logging.New(logOutput, logging.ParseLevel(cfg.App.LogLevel))
	s, err := services.NewGalleryService(cfg, log)
	if err != nil {
		return err
	}
	if err := s.Start(context.Background()); err != nil {
		s.Close()
		return err
	}
	svc = s
	return nil
}

// shutdownGallery stops the gallery and waits for pending cleanups.
func shutdownGallery() error {
	bridgeMu.Lock()
	defer bridgeMu.Unlock()
	if svc == nil {
		return nil
	}
	err := svc.Close()
	svc = nil
	return err
}

func store() (*gallery.Store, error) {
	bridgeMu.RLock()
	defer bridgeMu.RUnlock()
	if svc == nil {
		return nil, apperrors.New(apperrors.ErrInternal, "gallery not initialized")
	}
	return svc.Store, nil
}

// checkInputSize bounds strings crossing the bridge. Inline captures arrive
// as base64, so the limit is the fetch cap in encoded form plus headroom for
// the data URL header.
func checkInputSize(inputs ...string) error {
	bridgeMu.RLock()
	var limit int64
	if svc != nil {
		limit = svc.Config().Fetch.MaxBytes/3*4 + 4096
	}
	bridgeMu.RUnlock()

	for _, in := range inputs {
		if limit > 0 && int64(len(in)) > limit {
			return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("input too large: %d bytes (limit %d)", len(in), limit))
		}
	}
	return nil
}

func addPhoto(ref, rawMetadata string) (string, error) {
	s, err := store()
	if err != nil {
		return "", err
	}
	if err := checkInputSize(ref, rawMetadata); err != nil {
		return "", err
	}
	raw, err := models.ParseRawMetadata(rawMetadata)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "invalid raw metadata", err)
	}
	item, err := s.AddPhoto(context.Background(), ref, raw)
	if err != nil {
		return "", err
	}
	return marshal(item)
}

func addVideo(path, inlineData string) (string, error) {
	s, err := store()
	if err != nil {
		return "", err
	}
	if err := checkInputSize(path, inlineData); err != nil {
		return "", err
	}
	item, err := s.AddVideo(context.Background(), path, inlineData)
	if err != nil {
		return "", err
	}
	return marshal(item)
}

// listItems returns the gallery, or one kind of it when kind is set.
func listItems(kind models.MediaKind) (string, error) {
	s, err := store()
	if err != nil {
		return "", err
	}

	var items []models.MediaItem
	switch kind {
	case models.KindPhoto:
		items = s.Photos()
	case models.KindVideo:
		items = s.Videos()
	default:
		items = s.Items()
	}
	return marshal(listResult{Items: items, Total: len(items)})
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, fmt.Sprintf("failed to serialize %T", v), err)
	}
	return string(data), nil
}

func main() {
	// Main function is required for c-shared build mode
	// but is not actually executed when used as shared library
}
