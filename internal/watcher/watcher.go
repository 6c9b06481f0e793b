// Package watcher ingests files dropped into the capture directory.
//
// New stills are handed to the gallery as file:// references, which embeds
// and then deletes them. New clips are handed over as video paths and stay
// on disk to be streamed.
package watcher

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"

	"github.com/kimhsiao/capturegallery/internal/logging"
	"github.com/kimhsiao/capturegallery/internal/models"
	"github.com/kimhsiao/capturegallery/internal/parser"
)

// Ingester accepts captures. *gallery.Store implements it.
type Ingester interface {
	AddPhoto(ctx context.Context, ref string, rawMetadata map[string]any) (models.MediaItem, error)
	AddVideo(ctx context.Context, path, inlineData string) (models.MediaItem, error)
}

// Options configures a Watcher.
type Options struct {
	// Quiet period after the last write before a file is ingested, default 500ms
	Settle time.Duration
	// Ingest files already present when Start is called
	ScanExisting bool
	Logger       *logging.Logger
}

// Watcher feeds new capture files to an Ingester.
type Watcher struct {
	dir    string
	ingest Ingester
	settle time.Duration
	scan   bool
	log    *logging.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	// Videos already ingested; they stay on disk and must not be re-added
	videos map[string]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Watcher for dir. Call Start to begin watching.
func New(dir string, ingest Ingester, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve capture directory: %w", err)
	}
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}

	return &Watcher{
		dir:     abs,
		ingest:  ingest,
		settle:  opts.Settle,
		scan:    opts.ScanExisting,
		log:     opts.Logger,
		pending: make(map[string]*time.Timer),
		videos:  make(map[string]struct{}),
	}, nil
}

// Start begins watching. Events are processed until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.fsw = fsw

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if w.scan {
		w.initialScan()
	}

	w.wg.Add(1)
	go w.loop(ctx)

	w.log.Info("watching capture directory", map[string]interface{}{"dir": w.dir})
	return nil
}

// Close stops watching and waits for in-flight ingestions.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
	}

	w.mu.Lock()
	for name := range w.pending {
		w.stopPending(name)
	}
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("capture watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if skip(event.Name) {
		return
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.schedule(ctx, event.Name)

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mu.Lock()
		w.stopPending(event.Name)
		delete(w.videos, event.Name)
		w.mu.Unlock()
	}
}

// schedule (re)arms the settle timer for name.
func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[name]; ok && t.Stop() {
		t.Reset(w.settle)
		return
	}

	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()

		w.mu.Lock()
		if w.pending[name] == t {
			delete(w.pending, name)
		}
		w.mu.Unlock()

		if ctx.Err() == nil {
			w.ingestFile(ctx, name)
		}
	})
	w.pending[name] = t
}

// stopPending cancels the settle timer for name. Callers hold w.mu.
func (w *Watcher) stopPending(name string) {
	t, ok := w.pending[name]
	if !ok {
		return
	}
	delete(w.pending, name)
	if t.Stop() {
		w.wg.Done()
	}
}

func (w *Watcher) initialScan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.Warn("failed to scan capture directory", map[string]interface{}{"dir": w.dir, "error": err.Error()})
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := filepath.Join(w.dir, e.Name())
		if !skip(name) {
			w.ingestFile(context.Background(), name)
		}
	}
}

// ingestFile hands a settled file to the gallery.
func (w *Watcher) ingestFile(ctx context.Context, name string) {
	info, err := os.Stat(name)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return
	}

	kind, ok := DetectKind(name)
	if !ok {
		w.log.Debug("ignoring non-media capture file", map[string]interface{}{"path": name})
		return
	}

	switch kind {
	case models.KindPhoto:
		if _, err := w.ingest.AddPhoto(ctx, FileURI(name), nil); err != nil {
			w.log.Warn("failed to ingest photo capture", map[string]interface{}{"path": name, "error": err.Error()})
		}

	case models.KindVideo:
		w.mu.Lock()
		_, seen := w.videos[name]
		w.videos[name] = struct{}{}
		w.mu.Unlock()
		if seen {
			return
		}
		if _, err := w.ingest.AddVideo(ctx, FileURI(name), ""); err != nil {
			w.mu.Lock()
			delete(w.videos, name)
			w.mu.Unlock()
			w.log.Warn("failed to ingest video capture", map[string]interface{}{"path": name, "error": err.Error()})
		}
	}
}

// DetectKind classifies a capture file by extension, falling back to content sniffing.
func DetectKind(name string) (models.MediaKind, bool) {
	if kind, ok := parser.KindFromPath(name); ok {
		return kind, true
	}
	mtype, err := mimetype.DetectFile(name)
	if err != nil {
		return "", false
	}
	return parser.KindFromContentType(mtype.String())
}

// FileURI returns the file:// URI for an absolute path.
func FileURI(name string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(name)}).String()
}

// skip ignores hidden and partial files.
func skip(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".part")
}
