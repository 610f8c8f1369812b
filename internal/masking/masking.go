// Package masking strips credential material from error text and log lines
// before persistence or transmission.
package masking

import (
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// Built-in patterns. Order matters: URL credentials are stripped before the
// generic token patterns so the redacted marker itself is not re-matched.
var patterns = []*CompiledPattern{
	{
		Name:        "url_credentials",
		Regex:       regexp.MustCompile(`(https?://)[^/\s:@]+:[^/\s@]+@`),
		Replacement: `$1***:***@`,
	},
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/=]{8,}`),
		Replacement: "Bearer ***",
	},
	{
		Name:        "github_token",
		Regex:       regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr|github_pat)_[A-Za-z0-9_]{16,}\b`),
		Replacement: "***",
	},
	{
		Name:        "api_key_assignment",
		Regex:       regexp.MustCompile(`(?i)\b((?:api[_-]?key|token|secret|password|passwd|pwd)\s*[=:]\s*)\S+`),
		Replacement: `$1***`,
	},
	{
		Name:        "authorization_header",
		Regex:       regexp.MustCompile(`(?i)(authorization:\s*)\S.*`),
		Replacement: `$1***`,
	},
}

// Scrub replaces credential material in s with redaction markers.
func Scrub(s string) string {
	for _, p := range patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// ScrubError returns the scrubbed text of err, or "" for a nil error.
func ScrubError(err error) string {
	if err == nil {
		return ""
	}
	return Scrub(err.Error())
}
