package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/personasim/internal/generation"
)

const fence = "```"

// Normalize turns raw model output into a JSON document. Markdown code
// fences (with or without a language tag) are stripped, the size limit is
// enforced, and the remainder must be well-formed JSON.
func Normalize(raw string, maxBytes int) (string, error) {
	if maxBytes > 0 && len(raw) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", generation.ErrResponseTooLarge, len(raw), maxBytes)
	}

	out := StripFences(raw)
	if out == "" {
		return "", fmt.Errorf("%w: empty content", generation.ErrInvalidResponse)
	}
	if !json.Valid([]byte(out)) {
		return "", fmt.Errorf("%w: content is not valid JSON", generation.ErrInvalidResponse)
	}
	return out, nil
}

// StripFences removes a surrounding markdown code block, if any, and trims
// whitespace. Prose before the opening fence or after the closing one is
// dropped. Content that is already valid JSON is returned as is, even when
// its strings contain fences.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if json.Valid([]byte(s)) {
		return s
	}
	start := strings.Index(s, fence)
	if start < 0 {
		return s
	}
	body := s[start+len(fence):]
	end := strings.LastIndex(body, fence)
	if end < 0 {
		// Unterminated fence: keep what follows the opening line.
		end = len(body)
	}
	body = body[:end]

	// Drop the info string ("json", "JSON", ...) on the opening line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if tag := strings.TrimSpace(body[:nl]); tag == "" || isInfoString(tag) {
			body = body[nl+1:]
		}
	}
	return strings.TrimSpace(body)
}

func isInfoString(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
