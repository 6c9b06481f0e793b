// Package watcher tests for capture directory ingestion.
package watcher

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/capturegallery/internal/errors"
	"github.com/kimhsiao/capturegallery/internal/logging"
	"github.com/kimhsiao/capturegallery/internal/models"
)

// recordingIngester records every capture handed to it.
type recordingIngester struct {
	mu       sync.Mutex
	photos   []string
	videos   []string
	videoErr error
}

func (r *recordingIngester) AddPhoto(_ context.Context, ref string, _ map[string]any) (models.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.photos = append(r.photos, ref)
	return models.MediaItem{Src: ref, Kind: models.KindPhoto}, nil
}

func (r *recordingIngester) AddVideo(_ context.Context, path, _ string) (models.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos = append(r.videos, path)
	if r.videoErr != nil {
		return models.MediaItem{}, r.videoErr
	}
	return models.MediaItem{Src: path, Kind: models.KindVideo}, nil
}

func (r *recordingIngester) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.photos), len(r.videos)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func startWatcher(t *testing.T, dir string, ing Ingester, scan bool) *Watcher {
	t.Helper()
	w, err := New(dir, ing, Options{
		Settle:       20 * time.Millisecond,
		ScanExisting: scan,
		Logger:       logging.New(io.Discard, logging.LevelDebug),
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// =====================================================
// Kind detection
// =====================================================

// TestDetectKind verifies extension lookup with content sniffing fallback.
func TestDetectKind(t *testing.T) {
	dir := t.TempDir()
	sniffed := filepath.Join(dir, "capture")
	require.NoError(t, os.WriteFile(sniffed, pngBytes(t), 0644))
	text := filepath.Join(dir, "notes")
	require.NoError(t, os.WriteFile(text, []byte("hello"), 0644))

	tests := []struct {
		name   string
		path   string
		want   models.MediaKind
		wantOK bool
	}{
		{"jpeg extension", "/x/shot.JPG", models.KindPhoto, true},
		{"mp4 extension", "/x/clip.mp4", models.KindVideo, true},
		{"sniffed png", sniffed, models.KindPhoto, true},
		{"plain text", text, "", false},
		{"missing file", filepath.Join(dir, "missing"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectKind(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestFileURI verifies paths are escaped into file:// URIs.
func TestFileURI(t *testing.T) {
	assert.Equal(t, "file:///data/captures/a%20b.jpg", FileURI("/data/captures/a b.jpg"))
}

// =====================================================
// Watching
// =====================================================

// TestWatcher_ingestsNewFiles verifies stills and clips are routed by kind.
func TestWatcher_ingestsNewFiles(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	w := startWatcher(t, dir, ing, false)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "shot.jpg"), []byte("jpeg"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("mp4"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("text"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.jpg"), []byte("jpeg"), 0644))

	require.Eventually(t, func() bool {
		p, v := ing.counts()
		return p == 1 && v == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Close())

	ing.mu.Lock()
	defer ing.mu.Unlock()
	assert.Equal(t, []string{FileURI(filepath.Join(w.dir, "shot.jpg"))}, ing.photos)
	assert.Equal(t, []string{FileURI(filepath.Join(w.dir, "clip.mp4"))}, ing.videos)
}

// TestWatcher_videoIngestedOnce verifies later writes do not re-add a kept clip.
func TestWatcher_videoIngestedOnce(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	startWatcher(t, dir, ing, false)

	clip := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("mp4"), 0644))
	require.Eventually(t, func() bool {
		_, v := ing.counts()
		return v == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(clip, []byte("mp4 more"), 0644))
	time.Sleep(100 * time.Millisecond)

	_, v := ing.counts()
	assert.Equal(t, 1, v)
}

// TestWatcher_videoRetriedAfterFailure verifies a failed clip is retried on the next write.
func TestWatcher_videoRetriedAfterFailure(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{videoErr: apperrors.New(apperrors.ErrResolutionFailed, "no url")}
	startWatcher(t, dir, ing, false)

	clip := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("mp4"), 0644))
	require.Eventually(t, func() bool {
		_, v := ing.counts()
		return v == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(clip, []byte("mp4 again"), 0644))
	require.Eventually(t, func() bool {
		_, v := ing.counts()
		return v == 2
	}, 5*time.Second, 10*time.Millisecond)
}

// TestWatcher_scanExisting verifies files present at start are ingested.
func TestWatcher_scanExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.png"), pngBytes(t), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.jpg"), nil, 0644))

	ing := &recordingIngester{}
	startWatcher(t, dir, ing, true)

	p, v := ing.counts()
	assert.Equal(t, 1, p, "empty files are skipped")
	assert.Equal(t, 0, v)
}

// TestWatcher_closeStopsPending verifies Close cancels unsettled files.
func TestWatcher_closeStopsPending(t *testing.T) {
	dir := t.TempDir()
	ing := &recordingIngester{}
	w, err := New(dir, ing, Options{Settle: time.Hour, Logger: logging.New(io.Discard, logging.LevelDebug)})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "shot.jpg"), []byte("jpeg"), 0644))
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.pending) == 1
	}, 5*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = w.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() did not return")
	}

	p, _ := ing.counts()
	assert.Equal(t, 0, p)
}

// TestNew_missingDir verifies Start fails for a missing directory.
func TestNew_missingDir(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), &recordingIngester{}, Options{})
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}
