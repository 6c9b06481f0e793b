// Package uuid generates and validates the v4 identifiers handed out for
// gallery items.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New generates a new UUID v4 in canonical lowercase form.
func New() string {
	return uuid.New().String()
}

// Parse parses s and requires version 4 in the canonical 36-char form.
func Parse(s string) (uuid.UUID, error) {
	if len(s) != 36 || strings.Count(s, "-") != 4 {
		return uuid.Nil, fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 4 {
		return uuid.Nil, fmt.Errorf("expected UUID v4, got v%d", id.Version())
	}
	if id.Variant() != uuid.RFC4122 {
		return uuid.Nil, fmt.Errorf("unexpected UUID variant %s", id.Variant())
	}
	return id, nil
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}
