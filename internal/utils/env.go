// Package utils collects small helpers shared across the agent's entrypoint and
// control loops.
package utils

import (
	"os"
	"strconv"
	"strings"
)

// GetenvTrim returns the trimmed value of an environment variable, or "" if unset.
func GetenvTrim(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// ParseBool interprets common truthy/falsy spellings, defaulting to false for
// anything it doesn't recognize.
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// ParseBoolDefault is like ParseBool but returns def when value is empty.
func ParseBoolDefault(value string, def bool) bool {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return ParseBool(value)
}

// ParseIntDefault parses value as a base-10 integer, returning def on empty or
// malformed input.
func ParseIntDefault(value string, def int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return def
	}
	return parsed
}

// SplitList splits a comma/semicolon/newline separated list into trimmed,
// non-empty entries.
func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	items := strings.FieldsFunc(value, func(r rune) bool {
		switch r {
		case ',', ';', '\n', '\r':
			return true
		default:
			return false
		}
	})
	result := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
