// Package redact scrubs secrets and infrastructure details from text before
// it is logged, persisted as an error message, or returned to API clients.
package redact

import (
	"regexp"
	"unicode/utf8"
)

// Placeholders substituted for redacted content.
const (
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
)

type rule struct {
	re          *regexp.Regexp
	placeholder string
}

// Rules run in order; provider keys come before the generic key=value rule
// so their shape is recognized even without a label.
var rules = []rule{
	// OpenAI, OpenRouter and Groq style keys.
	{regexp.MustCompile(`\b(sk|gsk|sk-or-v1|sk-proj)[-_][A-Za-z0-9_\-]{16,}`), RedactedKeyPlaceholder},
	// Google API keys.
	{regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{30,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.~+/]{8,}=*`), "Bearer " + RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?i)([?&](?:key|api_key|apikey)=)[^&\s"']+`), "${1}" + RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|authorization)(["'\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`), "${1}${2}" + RedactedKeyPlaceholder},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), "[REDACTED_JWT]"},
	{regexp.MustCompile(`(?i)\b(postgres(?:ql)?|mysql|redis)://[^@\s]+@`), "${1}://" + RedactedCredentialPlaceholder + "@"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)=\S+`), "${1}=" + RedactedCredentialPlaceholder},
	{regexp.MustCompile(`(?:/[\w.-]+){3,}\.go:\d+`), RedactedPathPlaceholder},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	out := input
	for _, r := range rules {
		out = r.re.ReplaceAllString(out, r.placeholder)
	}
	return out
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Truncated is Error limited to max bytes, cut on a rune boundary. It is used
// for error text persisted alongside records.
func Truncated(err error, max int) string {
	s := Error(err)
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
