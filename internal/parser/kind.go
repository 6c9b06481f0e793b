package parser

import (
	"path/filepath"
	"strings"

	"github.com/kimhsiao/capturegallery/internal/models"
)

// KindFromPath detects the media kind from a file extension.
func KindFromPath(p string) (models.MediaKind, bool) {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".heif", ".tif", ".tiff", ".bmp":
		return models.KindPhoto, true
	case ".mp4", ".m4v", ".webm", ".mov", ".3gp", ".mkv", ".avi":
		return models.KindVideo, true
	default:
		return "", false
	}
}

// KindFromContentType detects the media kind from a MIME type.
func KindFromContentType(ct string) (models.MediaKind, bool) {
	ct = strings.ToLower(ct)

	// Skip charset and other parameters
	if i := strings.Index(ct, ";"); i > 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)

	switch {
	case strings.HasPrefix(ct, "image/"):
		return models.KindPhoto, true
	case strings.HasPrefix(ct, "video/"):
		return models.KindVideo, true
	default:
		return "", false
	}
}
