package parser

import (
	"strconv"
	"unicode/utf8"

	"github.com/kimhsiao/capturegallery/internal/dataurl"
)

// Truncate truncates string to at most maxLen bytes without splitting a rune.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return "..."
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// SourceLabel describes a source for logs without dumping embedded payloads.
func SourceLabel(src string) string {
	if dataurl.Is(src) {
		payload, _ := dataurl.Payload(src)
		return "data:" + dataurl.MIMEType(src) + " (" + strconv.Itoa(len(payload)) + " base64 chars)"
	}
	return Truncate(src, 120)
}
