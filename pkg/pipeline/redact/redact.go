package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// OpenAI-style opaque keys sometimes leak through provider error bodies.
	openAIKeyRe = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`)

	// Common key=value formats that leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b((?:openai|groq|gemini)?[_-]?api[_-]?key)\b\s*[:=]\s*[^\s"']+`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings
// before they are recorded in the checkpoint or printed.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = openAIKeyRe.ReplaceAllString(out, "<redacted_key>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}
