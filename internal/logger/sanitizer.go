package logger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Sanitizer masks credentials in log messages and attribute values.
//
// Only values of sensitive keys are masked in attributes. A secret embedded
// in the value of an innocuous key (e.g. a full URL under "url") is caught
// only if one of the message patterns matches it.
type Sanitizer struct {
	mu       sync.RWMutex
	patterns []SanitizeRule
}

// SanitizeRule is one regexp replacement
type SanitizeRule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// NewSanitizer returns a sanitizer with the default rules.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{patterns: defaultSanitizeRules()}
}

func defaultSanitizeRules() []SanitizeRule {
	return []SanitizeRule{
		{regexp.MustCompile(`(?i)(access_token|refresh_token|client_secret|permanent_token)=[^&\s]+`), "$1=***"},
		{regexp.MustCompile(`(?i)([?&]code)=[^&\s]+`), "$1=***"},
		{regexp.MustCompile(`(?i)token=[^&\s]+`), "token=***"},
		{regexp.MustCompile(`(?i)bearer\s+\S+`), "bearer ***"},
		{regexp.MustCompile(`(?i)password=\S+`), "password=***"},
		{regexp.MustCompile(`/home/[^/\s]+`), "/home/***"},
		{regexp.MustCompile(`/Users/[^/\s]+`), "/Users/***"},
	}
}

// Sanitize applies every pattern to input.
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rule := range s.patterns {
		input = rule.Pattern.ReplaceAllString(input, rule.Replacement)
	}
	return input
}

// SanitizeArgs masks the values of sensitive keys in slog key/value pairs.
// String values of other keys go through the message patterns.
func (s *Sanitizer) SanitizeArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}

	result := make([]any, len(args))
	copy(result, args)

	for i := 0; i < len(result)-1; i += 2 {
		key, ok := result[i].(string)
		if !ok {
			continue
		}
		if isSensitiveKey(key) {
			switch v := result[i+1].(type) {
			case string:
				result[i+1] = maskValue(v)
			case error:
				result[i+1] = maskValue(v.Error())
			}
			continue
		}
		switch v := result[i+1].(type) {
		case string:
			result[i+1] = s.Sanitize(v)
		case error:
			result[i+1] = s.Sanitize(v.Error())
		}
	}

	return result
}

var sensitiveKeys = []string{
	"password", "token", "secret", "credential", "auth_code", "api_key",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sk := range sensitiveKeys {
		if strings.Contains(lower, sk) {
			return true
		}
	}
	return false
}

// maskValue keeps the first and last character of long values.
func maskValue(value string) string {
	switch {
	case len(value) <= 2:
		return "***"
	case len(value) <= 8:
		return fmt.Sprintf("%c***", value[0])
	default:
		return fmt.Sprintf("%c***%c", value[0], value[len(value)-1])
	}
}

// AddRule appends a custom pattern.
func (s *Sanitizer) AddRule(pattern string, replacement string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, SanitizeRule{Pattern: re, Replacement: replacement})
	return nil
}
