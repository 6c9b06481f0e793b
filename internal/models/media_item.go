// Package models provides data model definitions for the capture gallery.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ItemID is a wrapper around string for UUID v4 type safety.
type ItemID string

// String returns the string representation of the ItemID.
func (id ItemID) String() string {
	return string(id)
}

// MediaKind distinguishes stills from clips. It never changes after an item is built.
type MediaKind string

const (
	KindPhoto MediaKind = "photo"
	KindVideo MediaKind = "video"
)

// ParseMediaKind validates a kind string coming from a UI boundary.
func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case KindPhoto, KindVideo:
		return MediaKind(s), nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// MediaItem is a normalized capture held by the gallery.
// Values are immutable once committed; the store hands out copies.
type MediaItem struct {
	ID         ItemID    `json:"id"`
	Seq        uint64    `json:"seq"`
	Src        string    `json:"src"`
	Kind       MediaKind `json:"type"`
	CapturedAt int64     `json:"captured_at"`

	// Photos only.
	RawMetadata    map[string]any `json:"raw_metadata,omitempty"`
	ParsedMetadata map[string]any `json:"parsed_metadata,omitempty"`
}

// CapturedAtTime returns CapturedAt as time.Time.
func (m MediaItem) CapturedAtTime() time.Time {
	return time.UnixMilli(m.CapturedAt)
}

// IsPhoto reports whether the item is a still.
func (m MediaItem) IsPhoto() bool {
	return m.Kind == KindPhoto
}

// IsVideo reports whether the item is a clip.
func (m MediaItem) IsVideo() bool {
	return m.Kind == KindVideo
}

// Clone returns a copy whose metadata maps are not shared with m.
// Nested values inside the maps are still shared.
func (m MediaItem) Clone() MediaItem {
	m.RawMetadata = cloneMap(m.RawMetadata)
	m.ParsedMetadata = cloneMap(m.ParsedMetadata)
	return m
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ParseRawMetadata decodes caller-supplied JSON metadata. An empty string yields nil.
func ParseRawMetadata(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode raw metadata: %w", err)
	}
	return out, nil
}
