// Package dataurl handles embedded-data strings of the form
// "data:<mime>;base64,<payload>".
//
// Payloads are decoded straight from the string with a table-driven loop
// instead of being routed through a resource fetch, so decoding behaves the
// same on every execution surface.
package dataurl

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Scheme is the embedded-data prefix.
	Scheme = "data:"
	// Marker separates the header from the payload.
	Marker = "base64,"
)

var (
	// ErrNotDataURL is returned when the input lacks the data: prefix.
	ErrNotDataURL = errors.New("not an embedded-data string")
	// ErrNoPayload is returned when the base64 marker is missing or nothing follows it.
	ErrNoPayload = errors.New("embedded-data string has no base64 payload")
)

// Is reports whether s carries the embedded-data prefix.
func Is(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// IsMedia reports whether s is an embedded-data string whose MIME type has
// the given top-level type, e.g. IsMedia(s, "video").
func IsMedia(s, topLevel string) bool {
	return strings.HasPrefix(s, Scheme+topLevel+"/")
}

// Build synthesizes an embedded-data string. The payload is not inspected.
func Build(mimeType, payload string) string {
	return Scheme + mimeType + ";" + Marker + payload
}

// MIMEType returns the declared MIME type, or "" when s is not an
// embedded-data string or declares none.
func MIMEType(s string) string {
	if !Is(s) {
		return ""
	}
	header := s[len(Scheme):]
	if i := strings.IndexAny(header, ";,"); i >= 0 {
		header = header[:i]
	}
	return header
}

// Payload returns whatever follows the base64 marker and whether the marker
// was found at all.
func Payload(s string) (string, bool) {
	i := strings.Index(s, Marker)
	if i < 0 {
		return "", false
	}
	return s[i+len(Marker):], true
}

// HasPayload reports whether a non-empty payload follows the base64 marker.
func HasPayload(s string) bool {
	p, ok := Payload(s)
	return ok && p != ""
}

// Decode splits an embedded-data string and decodes its payload.
func Decode(s string) (string, []byte, error) {
	if !Is(s) {
		return "", nil, ErrNotDataURL
	}
	payload, ok := Payload(s)
	if !ok || payload == "" {
		return "", nil, ErrNoPayload
	}
	data, err := DecodeBase64(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode %s payload: %w", MIMEType(s), err)
	}
	return MIMEType(s), data, nil
}

// DecodedLen returns the number of bytes DecodeBase64 would produce for a
// well-formed payload, without decoding it. Whitespace and padding are not
// counted.
func DecodedLen(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n', '=':
		default:
			n++
		}
	}
	return n * 3 / 4
}

const invalid = 0xFF

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var decodeMap = func() [256]byte {
	var m [256]byte
	for i := range m {
		m[i] = invalid
	}
	for i := 0; i < len(alphabet); i++ {
		m[alphabet[i]] = byte(i)
	}
	return m
}()

// DecodeBase64 decodes standard-alphabet base64 character by character.
// ASCII whitespace is skipped and trailing padding is optional, since camera
// bridges commonly emit line-wrapped or unpadded payloads.
func DecodeBase64(s string) ([]byte, error) {
	out := make([]byte, 0, len(s)*3/4)

	var acc uint32
	n, pad := 0, 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '=':
			pad++
			continue
		}
		if pad > 0 {
			return nil, fmt.Errorf("illegal data after padding at offset %d", i)
		}
		v := decodeMap[c]
		if v == invalid {
			return nil, fmt.Errorf("illegal base64 character %q at offset %d", c, i)
		}
		acc = acc<<6 | uint32(v)
		n++
		if n == 4 {
			out = append(out, byte(acc>>16), byte(acc>>8), byte(acc))
			acc, n = 0, 0
		}
	}

	switch n {
	case 0:
		if pad != 0 {
			return nil, errors.New("unexpected padding")
		}
	case 1:
		return nil, errors.New("truncated base64 quantum")
	case 2:
		if pad != 0 && pad != 2 {
			return nil, errors.New("incorrect padding")
		}
		out = append(out, byte(acc>>4))
	case 3:
		if pad > 1 {
			return nil, errors.New("incorrect padding")
		}
		out = append(out, byte(acc>>10), byte(acc>>2))
	}
	return out, nil
}
