package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

// CaptureLocator confines capture paths to the allowed directories.
type CaptureLocator interface {
	LocalPath(ref string) (string, error)
}

// CaptureFileHandler serves capture files by absolute path so that
// streamable video URLs resolve. Paths the locator refuses are 404s.
type CaptureFileHandler struct {
	files CaptureLocator
}

// NewCaptureFileHandler creates a handler over files.
func NewCaptureFileHandler(files CaptureLocator) *CaptureFileHandler {
	return &CaptureFileHandler{files: files}
}

// ServeHTTP handles GET /captures/*
func (h *CaptureFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, err := h.files.LocalPath(filepath.FromSlash(path.Clean("/" + chi.URLParam(r, "*"))))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, p)
}
