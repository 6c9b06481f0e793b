// Package gallery holds the ordered capture gallery and drives ingestion.
//
// An ingestion moves through Received, Classifying, Resolving, optional
// metadata extraction, and ends Committed or Aborted. Only the commit takes
// the store lock, so concurrent ingestions interleave freely and items appear
// in commit order.
package gallery

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/capturegallery/internal/errors"
	"github.com/kimhsiao/capturegallery/internal/logging"
	"github.com/kimhsiao/capturegallery/internal/models"
	"github.com/kimhsiao/capturegallery/internal/parser"
	"github.com/kimhsiao/capturegallery/internal/source"
	"github.com/kimhsiao/capturegallery/internal/telemetry"
	"github.com/kimhsiao/capturegallery/internal/uuid"
)

// MetadataSource extracts photo metadata. Implementations never fail;
// nil means nothing could be extracted.
type MetadataSource interface {
	Extract(ctx context.Context, src string) map[string]any
}

// EventType names a store notification.
type EventType string

const (
	EventItemAdded    EventType = "gallery.item_added"
	EventIngestFailed EventType = "gallery.ingest_failed"
)

// Event is delivered to subscribers after every commit or abort.
// Len is the gallery length once the event has happened.
type Event struct {
	Type EventType           `json:"type"`
	Item *models.MediaItem   `json:"item,omitempty"`
	Len  int                 `json:"len"`
	Kind models.MediaKind    `json:"kind"`
	Code apperrors.ErrorCode `json:"code,omitempty"`
	Err  string              `json:"error,omitempty"`
}

// Options configures a Store.
type Options struct {
	Logger  *logging.Logger
	Metrics *telemetry.Metrics
	// Clock defaults to time.Now
	Clock func() time.Time
}

// Store is the in-memory capture gallery.
type Store struct {
	resolver  *source.Resolver
	extractor MetadataSource
	log       *logging.Logger
	metrics   *telemetry.Metrics
	clock     func() time.Time

	mu     sync.Mutex
	items  []models.MediaItem
	seq    uint64
	lastAt int64

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int

	// pubMu serializes delivery; item_added events go out in Seq order
	pubMu     sync.Mutex
	pubCond   *sync.Cond
	published uint64
}

// NewStore creates an empty Store. A nil extractor disables metadata extraction.
func NewStore(resolver *source.Resolver, extractor MetadataSource, opts Options) *Store {
	s := &Store{
		resolver:  resolver,
		extractor: extractor,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		subs:      make(map[int]func(Event)),
	}
	s.pubCond = sync.NewCond(&s.pubMu)
	if s.log == nil {
		s.log = logging.Get()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// AddPhoto resolves ref, attempts metadata extraction and appends a photo.
// Only a FILE_ACCESS_ERROR from reading a file reference aborts; the gallery
// is unchanged in that case.
func (s *Store) AddPhoto(ctx context.Context, ref string, rawMetadata map[string]any) (models.MediaItem, error) {
	start := time.Now()
	fields := map[string]interface{}{
		"kind":  models.KindPhoto,
		"class": s.resolver.Classify(ref).String(),
		"ref":   parser.SourceLabel(ref),
	}
	s.log.Debug("capture received", fields)

	s.log.Debug("resolving capture", fields)
	src, err := s.resolver.ResolvePhoto(ctx, ref)
	if err != nil {
		s.abort(models.KindPhoto, err, fields)
		return models.MediaItem{}, err
	}

	var parsed map[string]any
	if s.extractor != nil {
		s.log.Debug("extracting metadata", fields)
		parsed = s.extractor.Extract(ctx, src)
	}

	item := s.commit(models.MediaItem{
		Src:            src,
		Kind:           models.KindPhoto,
		RawMetadata:    rawMetadata,
		ParsedMetadata: parsed,
	})
	s.metrics.ObserveIngest(string(models.KindPhoto), time.Since(start))
	return item, nil
}

// AddVideo resolves a video capture and appends it. RESOLUTION_FAILED,
// NO_VALID_SOURCE and INVALID_PAYLOAD abort with the gallery unchanged.
func (s *Store) AddVideo(ctx context.Context, path, inlineData string) (models.MediaItem, error) {
	start := time.Now()
	fields := map[string]interface{}{
		"kind":   models.KindVideo,
		"class":  s.resolver.Classify(path).String(),
		"ref":    parser.SourceLabel(path),
		"inline": inlineData != "",
	}
	s.log.Debug("capture received", fields)

	s.log.Debug("resolving capture", fields)
	src, err := s.resolver.ResolveVideo(ctx, path, inlineData)
	if err != nil {
		s.abort(models.KindVideo, err, fields)
		return models.MediaItem{}, err
	}

	item := s.commit(models.MediaItem{
		Src:  src,
		Kind: models.KindVideo,
	})
	s.metrics.ObserveIngest(string(models.KindVideo), time.Since(start))
	return item, nil
}

// commit appends item atomically and notifies subscribers outside the lock.
func (s *Store) commit(item models.MediaItem) models.MediaItem {
	item = item.Clone()

	s.mu.Lock()
	s.seq++
	item.Seq = s.seq
	item.ID = models.ItemID(uuid.New())
	at := s.clock().UnixMilli()
	if at < s.lastAt {
		at = s.lastAt
	}
	s.lastAt = at
	item.CapturedAt = at
	s.items = append(s.items, item)
	n := len(s.items)
	s.mu.Unlock()

	s.metrics.IncIngested(string(item.Kind))
	s.log.Debug("capture committed", map[string]interface{}{
		"id":   item.ID.String(),
		"seq":  item.Seq,
		"kind": item.Kind,
		"len":  n,
	})

	out := item.Clone()
	s.pubMu.Lock()
	defer func() {
		s.published = item.Seq
		s.pubCond.Broadcast()
		s.pubMu.Unlock()
	}()
	for s.published+1 != item.Seq {
		s.pubCond.Wait()
	}
	s.publish(Event{Type: EventItemAdded, Item: &out, Len: n, Kind: item.Kind})
	return item.Clone()
}

// abort records a failed ingestion. Nothing is appended.
func (s *Store) abort(kind models.MediaKind, err error, fields map[string]interface{}) {
	code := apperrors.CodeOf(err)
	s.metrics.IncAborted(string(code))
	s.log.ErrorWithCode("capture aborted", string(code), err, fields)
	ev := Event{
		Type: EventIngestFailed,
		Len:  s.Len(),
		Kind: kind,
		Code: code,
		Err:  err.Error(),
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.publish(ev)
}

// Items returns a copy of the gallery, oldest first.
func (s *Store) Items() []models.MediaItem {
	s.mu.Lock()
	snapshot := make([]models.MediaItem, len(s.items))
	copy(snapshot, s.items)
	s.mu.Unlock()

	for i := range snapshot {
		snapshot[i] = snapshot[i].Clone()
	}
	return snapshot
}

// Photos returns the photo items, oldest first.
func (s *Store) Photos() []models.MediaItem {
	return Filter(s.Items(), models.KindPhoto)
}

// Videos returns the video items, oldest first.
func (s *Store) Videos() []models.MediaItem {
	return Filter(s.Items(), models.KindVideo)
}

// Filter returns the items of the given kind, preserving order.
func Filter(items []models.MediaItem, kind models.MediaKind) []models.MediaItem {
	out := make([]models.MediaItem, 0, len(items))
	for _, item := range items {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}

// Len returns the number of committed items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Get returns the item with the given id.
func (s *Store) Get(id models.ItemID) (models.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if item.ID == id {
			return item.Clone(), nil
		}
	}
	return models.MediaItem{}, apperrors.New(apperrors.ErrNotFound, "gallery item not found: "+id.String())
}

// Subscribe registers fn for store events and returns a function that
// removes it. fn runs on the ingesting goroutine, one event at a time, with
// item_added events in Seq order. fn must not block and must not ingest
// into the same store; reading it is fine.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.RLock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Wait blocks until background cleanups scheduled by photo ingestion finish.
func (s *Store) Wait() {
	s.resolver.Wait()
}
