package media

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const (
	// DefaultThumbnailSize is the bounding box edge used when none is given.
	DefaultThumbnailSize = 256
	// MaxThumbnailSize caps requested bounding boxes.
	MaxThumbnailSize = 1024

	thumbnailQuality = 85
)

// Thumbnail decodes buf, applies EXIF orientation and fits the result inside
// a size x size box. The output is always JPEG. Images already inside the box
// are re-encoded without upscaling. Images declaring more than maxPixels
// (DefaultMaxPixels when <= 0) fail with ErrTooManyPixels before any decode.
func Thumbnail(ctx context.Context, buf []byte, size int, maxPixels int64) ([]byte, error) {
	if len(buf) == 0 {
		return nil, ErrNotImage
	}
	if size <= 0 {
		size = DefaultThumbnailSize
	}
	if size > MaxThumbnailSize {
		size = MaxThumbnailSize
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if err := checkPixels(cfg, maxPixels); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(buf), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	b := img.Bounds()
	if b.Dx() > size || b.Dy() > size {
		img = imaging.Fit(img, size, size, imaging.Lanczos)
	}

	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return out.Bytes(), nil
}
