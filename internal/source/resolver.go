// Package source classifies capture references and turns them into
// display-ready sources.
//
// Classification is purely syntactic and order-sensitive: the embedded-data
// prefix is checked first, then file and URI prefixes, and anything left is
// assumed to be a raw base64 payload. File contents are never inspected here.
package source

import (
	"context"
	"strings"
	"sync"

	"github.com/kimhsiao/capturegallery/internal/capture"
	"github.com/kimhsiao/capturegallery/internal/dataurl"
	apperrors "github.com/kimhsiao/capturegallery/internal/errors"
	"github.com/kimhsiao/capturegallery/internal/logging"
	"github.com/kimhsiao/capturegallery/internal/telemetry"
)

// Class is the syntactic category of a capture reference.
type Class int

const (
	ClassRaw Class = iota
	ClassEmbedded
	ClassFile
)

// String returns the lowercase class name used in logs.
func (c Class) String() string {
	switch c {
	case ClassEmbedded:
		return "embedded"
	case ClassFile:
		return "file"
	default:
		return "raw"
	}
}

// DefaultPathPrefixes are the absolute data-partition prefixes recognised
// when no configuration is given.
var DefaultPathPrefixes = []string{"/data/", "/storage/", "/var/mobile/", "/private/var/mobile/"}

var uriPrefixes = []string{"file://", "content://"}

// Options configures a Resolver.
type Options struct {
	PhotoMIMEType string
	VideoMIMEType string
	PathPrefixes  []string
	Logger        *logging.Logger
	Metrics       *telemetry.Metrics
}

// Resolver implements photo and video source resolution.
type Resolver struct {
	files         capture.Service
	photoMIMEType string
	videoMIMEType string
	pathPrefixes  []string
	log           *logging.Logger
	metrics       *telemetry.Metrics

	// Pending fire-and-forget deletions
	cleanups sync.WaitGroup
}

// NewResolver creates a Resolver backed by the given capture service.
func NewResolver(files capture.Service, opts Options) *Resolver {
	r := &Resolver{
		files:         files,
		photoMIMEType: opts.PhotoMIMEType,
		videoMIMEType: opts.VideoMIMEType,
		pathPrefixes:  opts.PathPrefixes,
		log:           opts.Logger,
		metrics:       opts.Metrics,
	}
	if r.photoMIMEType == "" {
		r.photoMIMEType = "image/jpeg"
	}
	if r.videoMIMEType == "" {
		r.videoMIMEType = "video/mp4"
	}
	if len(r.pathPrefixes) == 0 {
		r.pathPrefixes = DefaultPathPrefixes
	}
	if r.log == nil {
		r.log = logging.Get()
	}
	return r
}

// Classify returns the class of input.
func (r *Resolver) Classify(input string) Class {
	if dataurl.Is(input) {
		return ClassEmbedded
	}
	if r.isFileRef(input) {
		return ClassFile
	}
	return ClassRaw
}

func (r *Resolver) isFileRef(input string) bool {
	for _, p := range uriPrefixes {
		if strings.HasPrefix(input, p) {
			return true
		}
	}
	for _, p := range r.pathPrefixes {
		if strings.HasPrefix(input, p) {
			return true
		}
	}
	return false
}

// ResolvePhoto returns an embedded-data source for a photo reference.
// The only failure is a FILE_ACCESS_ERROR from reading a file reference.
// After a file has been embedded its deletion is scheduled in the background;
// that deletion never affects the result.
func (r *Resolver) ResolvePhoto(ctx context.Context, input string) (string, error) {
	switch r.Classify(input) {
	case ClassEmbedded:
		return input, nil

	case ClassFile:
		payload, err := r.files.ReadBase64(ctx, input)
		if err != nil {
			if !apperrors.Is(err, apperrors.ErrFileAccess) {
				err = apperrors.Wrap(apperrors.ErrFileAccess, "read photo capture", err)
			}
			return "", err
		}
		src := dataurl.Build(r.photoMIMEType, payload)
		r.scheduleDelete(input)
		return src, nil

	default:
		return dataurl.Build(r.photoMIMEType, input), nil
	}
}

// scheduleDelete removes a consumed photo file without joining the caller.
func (r *Resolver) scheduleDelete(ref string) {
	r.cleanups.Add(1)
	go func() {
		defer r.cleanups.Done()

		if err := r.files.DeleteFile(context.Background(), ref); err != nil {
			r.metrics.IncCleanupFailure()
			r.log.Warn("failed to delete photo source after embedding", map[string]interface{}{
				"path":  ref,
				"error": err.Error(),
			})
		}
	}()
}

// Wait blocks until every scheduled deletion has finished.
func (r *Resolver) Wait() {
	r.cleanups.Wait()
}

// ResolveVideo returns a source for a video capture. Inline data wins over
// path. File references are converted to streamable URLs and never deleted.
// Failures carry RESOLUTION_FAILED, NO_VALID_SOURCE or INVALID_PAYLOAD.
func (r *Resolver) ResolveVideo(ctx context.Context, path, inlineData string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.Wrap(apperrors.ErrResolutionFailed, "video resolution cancelled", err)
	}

	var src string
	switch {
	case inlineData != "":
		src = r.wrapVideo(inlineData)

	case path == "":
		// nothing to resolve; falls through to the empty-source check

	case r.isFileRef(path):
		url, err := r.files.ConvertFileSrc(path)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrResolutionFailed, "convert video path", err)
		}
		if url == "" {
			return "", apperrors.New(apperrors.ErrResolutionFailed, "no streamable URL for video path")
		}
		src = url

	default:
		src = r.wrapVideo(path)
	}

	if src == "" {
		return "", apperrors.New(apperrors.ErrNoValidSource, "video capture has no usable source")
	}
	if dataurl.Is(src) && !dataurl.HasPayload(src) {
		return "", apperrors.New(apperrors.ErrInvalidPayload, "embedded video has no base64 payload")
	}
	return src, nil
}

// wrapVideo passes embedded video data through and wraps anything else as a raw payload.
func (r *Resolver) wrapVideo(s string) string {
	if dataurl.IsMedia(s, "video") {
		return s
	}
	return dataurl.Build(r.videoMIMEType, s)
}
