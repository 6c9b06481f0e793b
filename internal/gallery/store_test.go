// Package gallery tests for ingestion, derived views and notifications.
package gallery

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/capturegallery/internal/errors"
	"github.com/kimhsiao/capturegallery/internal/logging"
	"github.com/kimhsiao/capturegallery/internal/models"
	"github.com/kimhsiao/capturegallery/internal/parser"
	"github.com/kimhsiao/capturegallery/internal/source"
	"github.com/kimhsiao/capturegallery/internal/telemetry"
	"github.com/kimhsiao/capturegallery/internal/uuid"
)

// fakeFiles is an in-memory capture.Service.
type fakeFiles struct {
	mu       sync.Mutex
	payloads map[string]string
	urls     map[string]string
	deletes  []string
	converts []string
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{payloads: map[string]string{}, urls: map[string]string{}}
}

func (f *fakeFiles) ReadBase64(_ context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payloads[ref]
	if !ok {
		return "", apperrors.New(apperrors.ErrFileAccess, "missing "+ref)
	}
	return p, nil
}

func (f *fakeFiles) DeleteFile(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ref)
	return nil
}

func (f *fakeFiles) ConvertFileSrc(ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.converts = append(f.converts, ref)
	return f.urls[ref], nil
}

// staticExtractor returns the same metadata for every source.
type staticExtractor struct {
	meta map[string]any

	mu   sync.Mutex
	seen []string
}

func (e *staticExtractor) Extract(_ context.Context, src string) map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, src)
	return e.meta
}

func testLogger() *logging.Logger {
	return logging.New(io.Discard, logging.LevelDebug)
}

func newTestStore(files *fakeFiles, extractor MetadataSource, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	resolver := source.NewResolver(files, source.Options{Logger: opts.Logger, Metrics: opts.Metrics})
	return NewStore(resolver, extractor, opts)
}

// counterValue reads the counter sample whose single label has the given value.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if len(m.GetLabel()) == 1 && m.GetLabel()[0].GetValue() == label {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func pngDataURL(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 10))))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// =====================================================
// Photo ingestion
// =====================================================

// TestAddPhoto_raw verifies a bare payload is wrapped and appended.
func TestAddPhoto_raw(t *testing.T) {
	store := newTestStore(newFakeFiles(), nil, Options{})

	item, err := store.AddPhoto(context.Background(), "SGVsbG8=", nil)
	require.NoError(t, err)

	assert.Equal(t, "data:image/jpeg;base64,SGVsbG8=", item.Src)
	assert.Equal(t, models.KindPhoto, item.Kind)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, uint64(1), item.Seq)
	assert.True(t, uuid.IsValid(item.ID.String()))
	assert.Nil(t, item.ParsedMetadata)
}

// TestAddPhoto_parsedMetadata verifies extractor output lands on the item.
func TestAddPhoto_parsedMetadata(t *testing.T) {
	p := parser.ParserFunc(func(_ context.Context, buf []byte) (map[string]any, error) {
		cfg, err := png.DecodeConfig(bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		return map[string]any{"width": cfg.Width, "height": cfg.Height}, nil
	})
	extractor := parser.NewMetadataExtractor(p, parser.ExtractorOptions{Logger: testLogger()})
	store := newTestStore(newFakeFiles(), extractor, Options{})

	src := pngDataURL(t)
	item, err := store.AddPhoto(context.Background(), src, nil)
	require.NoError(t, err)

	assert.Equal(t, src, item.Src)
	assert.Equal(t, map[string]any{"width": 10, "height": 10}, item.ParsedMetadata)
}

// TestAddPhoto_rawMetadataVerbatim verifies caller metadata is stored as given.
func TestAddPhoto_rawMetadataVerbatim(t *testing.T) {
	extractor := &staticExtractor{}
	store := newTestStore(newFakeFiles(), extractor, Options{})

	raw := map[string]any{"lens": "wide", "iso": 100}
	item, err := store.AddPhoto(context.Background(), "SGVsbG8=", raw)
	require.NoError(t, err)

	assert.Equal(t, raw, item.RawMetadata)
	assert.Nil(t, item.ParsedMetadata, "failed extraction leaves parsed metadata absent")

	raw["lens"] = "tele"
	assert.Equal(t, "wide", store.Items()[0].RawMetadata["lens"], "stored metadata must not alias the caller map")
}

// TestAddPhoto_file verifies file references are embedded and deleted once.
func TestAddPhoto_file(t *testing.T) {
	files := newFakeFiles()
	files.payloads["/data/tmp/shot.jpg"] = "AAAA"
	extractor := &staticExtractor{meta: map[string]any{"make": "Pixel"}}
	store := newTestStore(files, extractor, Options{})

	item, err := store.AddPhoto(context.Background(), "/data/tmp/shot.jpg", nil)
	require.NoError(t, err)
	store.Wait()

	assert.Equal(t, "data:image/jpeg;base64,AAAA", item.Src)
	assert.Equal(t, []string{"/data/tmp/shot.jpg"}, files.deletes)
	assert.Equal(t, []string{"data:image/jpeg;base64,AAAA"}, extractor.seen, "extraction runs on the resolved source")
	assert.Equal(t, "Pixel", item.ParsedMetadata["make"])
}

// TestAddPhoto_fileAccessAborts verifies an unreadable file leaves the gallery unchanged.
func TestAddPhoto_fileAccessAborts(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	store := newTestStore(newFakeFiles(), nil, Options{Metrics: metrics})

	_, err := store.AddPhoto(context.Background(), "file:///missing.jpg", nil)
	require.Error(t, err)

	assert.True(t, apperrors.Is(err, apperrors.ErrFileAccess))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 1.0, counterValue(t, reg, "capture_aborted_total", "file_access_error"))
}

// =====================================================
// Video ingestion
// =====================================================

// TestAddVideo_inline verifies inline data is wrapped.
func TestAddVideo_inline(t *testing.T) {
	store := newTestStore(newFakeFiles(), nil, Options{})

	item, err := store.AddVideo(context.Background(), "", "Zm9vYmFy")
	require.NoError(t, err)

	assert.Equal(t, "data:video/mp4;base64,Zm9vYmFy", item.Src)
	assert.Equal(t, models.KindVideo, item.Kind)
	assert.Nil(t, item.RawMetadata)
	assert.Nil(t, item.ParsedMetadata)
}

// TestAddVideo_fileStreamsWithoutDelete verifies file videos are streamed and kept.
func TestAddVideo_fileStreamsWithoutDelete(t *testing.T) {
	files := newFakeFiles()
	files.urls["/data/tmp/clip.mp4"] = "http://localhost:8090/captures/data/tmp/clip.mp4"
	store := newTestStore(files, nil, Options{})

	item, err := store.AddVideo(context.Background(), "/data/tmp/clip.mp4", "")
	require.NoError(t, err)
	store.Wait()

	assert.Equal(t, "http://localhost:8090/captures/data/tmp/clip.mp4", item.Src)
	assert.Empty(t, files.deletes)
}

// TestAddVideo_aborts verifies every abort leaves the gallery unchanged.
func TestAddVideo_aborts(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		inline string
		code   apperrors.ErrorCode
	}{
		{"conversion returns nothing", "/data/tmp/clip.mp4", "", apperrors.ErrResolutionFailed},
		{"no source", "", "", apperrors.ErrNoValidSource},
		{"empty embedded payload", "", "data:video/mp4;base64,", apperrors.ErrInvalidPayload},
		{"embedded path without payload", "data:video/webm;base64,", "", apperrors.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(newFakeFiles(), nil, Options{})
			_, err := store.AddVideo(context.Background(), "SGVsbG8=", "")
			require.NoError(t, err)

			var events []Event
			store.Subscribe(func(ev Event) { events = append(events, ev) })

			_, err = store.AddVideo(context.Background(), tt.path, tt.inline)
			require.Error(t, err)

			assert.True(t, apperrors.Is(err, tt.code), "got %v", err)
			assert.Equal(t, 1, store.Len())
			require.Len(t, events, 1)
			assert.Equal(t, EventIngestFailed, events[0].Type)
			assert.Equal(t, tt.code, events[0].Code)
			assert.Equal(t, 1, events[0].Len)
			assert.Nil(t, events[0].Item)
		})
	}
}

// =====================================================
// Views and ordering
// =====================================================

// TestViews_partition verifies photos and videos partition items exactly.
func TestViews_partition(t *testing.T) {
	store := newTestStore(newFakeFiles(), nil, Options{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		var err error
		if i%3 == 0 {
			_, err = store.AddVideo(ctx, "", fmt.Sprintf("dmlk%d", i))
		} else {
			_, err = store.AddPhoto(ctx, fmt.Sprintf("cGhv%d", i), nil)
		}
		require.NoError(t, err)
	}

	items := store.Items()
	photos := store.Photos()
	videos := store.Videos()

	assert.Len(t, items, 10)
	assert.Len(t, photos, 6)
	assert.Len(t, videos, 4)

	seen := make(map[models.ItemID]int)
	for _, p := range photos {
		assert.True(t, p.IsPhoto())
		seen[p.ID]++
	}
	for _, v := range videos {
		assert.True(t, v.IsVideo())
		seen[v.ID]++
	}
	for _, item := range items {
		assert.Equal(t, 1, seen[item.ID], "item %s must appear in exactly one view", item.ID)
	}
	assert.Len(t, seen, len(items))
}

// TestItems_orderAndCopy verifies commit order and copy-on-read.
func TestItems_orderAndCopy(t *testing.T) {
	store := newTestStore(newFakeFiles(), nil, Options{})
	ctx := context.Background()

	_, err := store.AddPhoto(ctx, "Zmlyc3Q=", map[string]any{"n": 1})
	require.NoError(t, err)
	_, err = store.AddVideo(ctx, "", "c2Vjb25k")
	require.NoError(t, err)

	items := store.Items()
	require.Len(t, items, 2)
	assert.Equal(t, uint64(1), items[0].Seq)
	assert.Equal(t, uint64(2), items[1].Seq)

	items[0].Src = "mutated"
	items[0].RawMetadata["n"] = 99
	items = append(items[:1], items[2:]...)

	fresh := store.Items()
	assert.Len(t, fresh, 2)
	assert.Equal(t, "data:image/jpeg;base64,Zmlyc3Q=", fresh[0].Src)
	assert.Equal(t, 1, fresh[0].RawMetadata["n"])
	assert.Len(t, items, 1)
}

// TestCapturedAt_neverDecreases verifies a clock stepping back is clamped.
func TestCapturedAt_neverDecreases(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	times := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := times[0]
		times = times[1:]
		return now
	}
	store := newTestStore(newFakeFiles(), nil, Options{Clock: clock})

	for i := 0; i < 3; i++ {
		_, err := store.AddPhoto(context.Background(), "SGVsbG8=", nil)
		require.NoError(t, err)
	}

	items := store.Items()
	assert.Equal(t, base.UnixMilli(), items[0].CapturedAt)
	assert.Equal(t, base.UnixMilli(), items[1].CapturedAt)
	assert.Equal(t, base.Add(time.Second).UnixMilli(), items[2].CapturedAt)
}

// TestConcurrentIngestion verifies concurrent appends are all committed with unique sequence numbers.
func TestConcurrentIngestion(t *testing.T) {
	store := newTestStore(newFakeFiles(), &staticExtractor{}, Options{})
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = store.AddPhoto(ctx, "SGVsbG8=", nil)
			} else {
				_, _ = store.AddVideo(ctx, "", "Zm9vYmFy")
			}
		}(i)
	}
	wg.Wait()

	items := store.Items()
	require.Len(t, items, workers)
	for i, item := range items {
		assert.Equal(t, uint64(i+1), item.Seq, "items must be in commit order")
		if i > 0 {
			assert.GreaterOrEqual(t, item.CapturedAt, items[i-1].CapturedAt)
		}
	}
	assert.Len(t, store.Photos(), workers/2)
	assert.Len(t, store.Videos(), workers/2)
}

// TestSubscribe_deliversInSeqOrder verifies concurrent commits reach
// subscribers one at a time and in sequence order.
func TestSubscribe_deliversInSeqOrder(t *testing.T) {
	store := newTestStore(newFakeFiles(), nil, Options{})
	ctx := context.Background()

	var (
		mu       sync.Mutex
		seqs     []uint64
		inflight atomic.Int32
		overlap  atomic.Bool
	)
	store.Subscribe(func(ev Event) {
		if inflight.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inflight.Add(-1)

		if ev.Type != EventItemAdded {
			return
		}
		// Reading the store from a subscriber is allowed.
		_ = store.Len()
		time.Sleep(time.Millisecond)
		mu.Lock()
		seqs = append(seqs, ev.Item.Seq)
		mu.Unlock()
	})

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				_, _ = store.AddVideo(ctx, "", "")
				return
			}
			_, _ = store.AddPhoto(ctx, "SGVsbG8=", nil)
		}(i)
	}
	wg.Wait()

	want := make([]uint64, 0, workers)
	for i := 1; i <= store.Len(); i++ {
		want = append(want, uint64(i))
	}
	assert.Equal(t, want, seqs)
	assert.False(t, overlap.Load(), "events must not be delivered concurrently")
}

// =====================================================
// Lookups
// =====================================================

// TestGet verifies lookup by id.
func TestGet(t *testing.T) {
	store := newTestStore(newFakeFiles(), nil, Options{})

	item, err := store.AddPhoto(context.Background(), "SGVsbG8=", nil)
	require.NoError(t, err)

	got, err := store.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, item, got)

	_, err = store.Get(models.ItemID(uuid.New()))
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// =====================================================
// Notifications
// =====================================================

// TestSubscribe verifies subscribers see every commit and can unsubscribe.
func TestSubscribe(t *testing.T) {
	store := newTestStore(newFakeFiles(), nil, Options{})
	ctx := context.Background()

	var events []Event
	unsubscribe := store.Subscribe(func(ev Event) {
		// the store lock is not held while notifying
		assert.Equal(t, ev.Len, store.Len())
		events = append(events, ev)
	})

	photo, err := store.AddPhoto(ctx, "SGVsbG8=", nil)
	require.NoError(t, err)
	_, err = store.AddVideo(ctx, "", "Zm9vYmFy")
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, EventItemAdded, events[0].Type)
	assert.Equal(t, models.KindPhoto, events[0].Kind)
	assert.Equal(t, 1, events[0].Len)
	require.NotNil(t, events[0].Item)
	assert.Equal(t, photo.ID, events[0].Item.ID)
	assert.Equal(t, models.KindVideo, events[1].Kind)
	assert.Equal(t, 2, events[1].Len)

	unsubscribe()
	unsubscribe()
	_, err = store.AddPhoto(ctx, "SGVsbG8=", nil)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

// TestMetrics verifies commits are counted per kind.
func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	store := newTestStore(newFakeFiles(), nil, Options{Metrics: metrics})
	ctx := context.Background()

	_, err := store.AddPhoto(ctx, "SGVsbG8=", nil)
	require.NoError(t, err)
	_, err = store.AddVideo(ctx, "", "Zm9vYmFy")
	require.NoError(t, err)
	_, err = store.AddVideo(ctx, "", "")
	require.Error(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "capture_ingested_total", "photo"))
	assert.Equal(t, 1.0, counterValue(t, reg, "capture_ingested_total", "video"))
	assert.Equal(t, 1.0, counterValue(t, reg, "capture_aborted_total", "no_valid_source"))
}
