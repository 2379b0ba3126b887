package textutil

import (
	"strings"
	"unicode/utf8"
)

// NormalizeStringMap trims keys and values, drops empty keys, and caps values at maxValueRunes
// runes when maxValueRunes is positive.
func NormalizeStringMap(values map[string]string, maxValueRunes int) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = Truncate(strings.TrimSpace(value), maxValueRunes)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// Truncate shortens s to at most n runes. A non-positive n leaves s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
