// Package handlers provides REST API handlers for the capture gallery.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/capturegallery/internal/dataurl"
	apperrors "github.com/kimhsiao/capturegallery/internal/errors"
	"github.com/kimhsiao/capturegallery/internal/gallery"
	"github.com/kimhsiao/capturegallery/internal/models"
	"github.com/kimhsiao/capturegallery/internal/parser/media"
)

// GalleryHandler handles gallery operations.
type GalleryHandler struct {
	store *gallery.Store
	// Largest image area decoded for thumbnails
	maxPixels int64
}

// NewGalleryHandler creates a new GalleryHandler. maxPixels bounds thumbnail
// decodes; media.DefaultMaxPixels applies when it is <= 0.
func NewGalleryHandler(store *gallery.Store, maxPixels int64) *GalleryHandler {
	return &GalleryHandler{store: store, maxPixels: maxPixels}
}

// AddPhotoRequest is the body of POST /api/gallery/photos.
type AddPhotoRequest struct {
	Ref         string         `json:"ref" validate:"required"`
	RawMetadata map[string]any `json:"raw_metadata,omitempty"`
}

// AddVideoRequest is the body of POST /api/gallery/videos.
// An empty body is passed through so the store reports NO_VALID_SOURCE.
type AddVideoRequest struct {
	Path       string `json:"path" validate:"omitempty,max=4096"`
	InlineData string `json:"inline_data,omitempty"`
}

// ListResponse is the body of GET /api/gallery/items.
type ListResponse struct {
	Items []models.MediaItem `json:"items"`
	Total int                `json:"total"`
}

// ListItems handles GET /api/gallery/items?kind=photo|video
func (h *GalleryHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	var items []models.MediaItem
	switch kind := r.URL.Query().Get("kind"); kind {
	case "":
		items = h.store.Items()
	default:
		mk, err := models.ParseMediaKind(kind)
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid kind", err), nil)
			return
		}
		items = gallery.Filter(h.store.Items(), mk)
	}

	writeJSON(w, http.StatusOK, ListResponse{Items: items, Total: len(items)})
}

// GetItem handles GET /api/gallery/items/{id}
func (h *GalleryHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.store.Get(models.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// AddPhoto handles POST /api/gallery/photos
func (h *GalleryHandler) AddPhoto(w http.ResponseWriter, r *http.Request) {
	var req AddPhotoRequest
	if details, err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, err, details)
		return
	}

	item, err := h.store.AddPhoto(r.Context(), req.Ref, req.RawMetadata)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// AddVideo handles POST /api/gallery/videos
func (h *GalleryHandler) AddVideo(w http.ResponseWriter, r *http.Request) {
	var req AddVideoRequest
	if details, err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, err, details)
		return
	}

	item, err := h.store.AddVideo(r.Context(), req.Path, req.InlineData)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// GetThumbnail handles GET /api/gallery/items/{id}/thumbnail?size=256
// Only photos holding embedded image data can be thumbnailed.
func (h *GalleryHandler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	size := media.DefaultThumbnailSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, apperrors.New(apperrors.ErrInvalid, "size must be a positive integer"), nil)
			return
		}
		size = n
	}

	item, err := h.store.Get(models.ItemID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if !item.IsPhoto() || !dataurl.Is(item.Src) {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "item has no embedded image data"), nil)
		return
	}

	_, data, err := dataurl.Decode(item.Src)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalidPayload, "decode photo", err), nil)
		return
	}
	thumb, err := media.Thumbnail(r.Context(), data, size, h.maxPixels)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalidPayload, "cannot thumbnail photo", err), nil)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(thumb)
}
