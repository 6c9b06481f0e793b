// Package media provides image metadata extraction.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxPixels bounds full decodes when no cap is given.
const DefaultMaxPixels int64 = 64000000

var (
	// ErrNotImage is returned when a buffer has neither a decodable image header nor EXIF.
	ErrNotImage = errors.New("buffer is not a recognisable image")
	// ErrTooManyPixels is returned when a header declares more pixels than may be decoded.
	ErrTooManyPixels = errors.New("image dimensions exceed the decode limit")
)

// ImageParser implements parser.MetadataParser for still images.
type ImageParser struct {
	// DecodePixels enables a full decode to report oriented dimensions
	decodePixels bool
	maxPixels    int64
}

// NewImageParser creates an ImageParser that only reads headers.
func NewImageParser() *ImageParser {
	return &ImageParser{}
}

// NewImageParserWithPixels creates an ImageParser that also decodes pixel
// data for images declaring at most maxPixels (DefaultMaxPixels when <= 0).
func NewImageParserWithPixels(maxPixels int64) *ImageParser {
	return &ImageParser{decodePixels: true, maxPixels: maxPixels}
}

// checkPixels rejects headers whose declared area exceeds maxPixels.
func checkPixels(cfg image.Config, maxPixels int64) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return fmt.Errorf("%w: %dx%d (limit %d pixels)", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

// Parse extracts dimensions, format, MIME type and EXIF fields from buf.
//
// Keys: mimeType, format, width, height, orientedWidth, orientedHeight
// (pixel decode only), exif (every tag), make, model, dateTime (RFC3339),
// latitude, longitude, orientation.
func (p *ImageParser) Parse(ctx context.Context, buf []byte) (map[string]any, error) {
	if len(buf) == 0 {
		return nil, ErrNotImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := map[string]any{
		"mimeType": mimetype.Detect(buf).String(),
	}

	cfg, format, cfgErr := image.DecodeConfig(bytes.NewReader(buf))
	if cfgErr == nil {
		meta["format"] = format
		meta["width"] = cfg.Width
		meta["height"] = cfg.Height
	}

	exifErr := readEXIF(buf, meta)
	if cfgErr != nil && exifErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, cfgErr)
	}

	// Oversized images keep their header metadata and skip the oriented decode
	if p.decodePixels && cfgErr == nil && checkPixels(cfg, p.maxPixels) == nil {
		img, err := imaging.Decode(bytes.NewReader(buf), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		bounds := img.Bounds()
		meta["orientedWidth"] = bounds.Dx()
		meta["orientedHeight"] = bounds.Dy()
	}

	return meta, nil
}

// readEXIF decodes EXIF from buf into meta.
func readEXIF(buf []byte, meta map[string]any) error {
	x, err := exif.Decode(bytes.NewReader(buf))
	if err != nil {
		return err
	}

	fields := make(map[string]any)
	if err := x.Walk(exifWalker{fields: fields}); err != nil {
		return err
	}
	if len(fields) == 0 {
		return errors.New("no EXIF fields")
	}
	meta["exif"] = fields

	if s, ok := stringTag(x, exif.Make); ok {
		meta["make"] = s
	}
	if s, ok := stringTag(x, exif.Model); ok {
		meta["model"] = s
	}
	if t, err := x.DateTime(); err == nil {
		meta["dateTime"] = t.Format(time.RFC3339)
	}
	if lat, long, err := x.LatLong(); err == nil {
		meta["latitude"] = lat
		meta["longitude"] = long
	}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if o, err := tag.Int(0); err == nil {
			meta["orientation"] = o
		}
	}
	return nil
}

func stringTag(x *exif.Exif, name exif.FieldName) (string, bool) {
	tag, err := x.Get(name)
	if err != nil {
		return "", false
	}
	s, err := tag.StringVal()
	if err != nil {
		return "", false
	}
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	return s, s != ""
}

type exifWalker struct {
	fields map[string]any
}

func (w exifWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	val := tag.String()
	// Remove surrounding quotes from string values
	if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
		val = val[1 : len(val)-1]
	}
	w.fields[string(name)] = strings.TrimRight(val, "\x00")
	return nil
}
