package logging

import (
	"regexp"
	"strings"
)

// Sanitizer redacts credentials from log messages. Everything logged during a
// session ends up in the mailed capture log, so mail secrets must not leak.
type Sanitizer struct {
	patterns []*regexp.Regexp
	secrets  []string
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// SMTP AUTH PLAIN / LOGIN payloads
		`(?i)auth\s+(plain|login)\s+[A-Za-z0-9+/=]{8,}`,
		// Passwords and mail authorization codes
		`(?i)(password|passwd|pass|auth[_-]?code)["'\s:=]+[^\s"']{4,}`,
		// Generic Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// Generic API keys
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		// Generic secrets
		`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		// Generic tokens
		`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, secret := range s.secrets {
		result = strings.ReplaceAll(result, secret, s.redacted)
	}
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddSecret redacts an exact value wherever it appears, e.g. the configured mail password.
func (s *Sanitizer) AddSecret(secret string) {
	if len(secret) < 4 {
		return
	}
	s.secrets = append(s.secrets, secret)
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}
