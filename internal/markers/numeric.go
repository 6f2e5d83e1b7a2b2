package markers

import (
	"strconv"
	"strings"
)

// MinSizeFloor is the minimum accepted token budget for a hot-tuned
// size directive; smaller requests would configure an unusable store.
const MinSizeFloor = 1024

func isNameChar(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case first:
		return false
	case c >= '0' && c <= '9', c == '_', c == '-':
		return true
	default:
		return false
	}
}

func unquoteArg(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// parseNumeric parses a plain number or one suffixed with k/kb (x1e3)
// or m/mb (x1e6), case-insensitively.
func parseNumeric(s string) (float64, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, false
	}
	mult := 1.0
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasSuffix(lower, "kb"):
		mult = 1e3
		trimmed = trimmed[:len(trimmed)-2]
	case strings.HasSuffix(lower, "mb"):
		mult = 1e6
		trimmed = trimmed[:len(trimmed)-2]
	case strings.HasSuffix(lower, "k"):
		mult = 1e3
		trimmed = trimmed[:len(trimmed)-1]
	case strings.HasSuffix(lower, "m"):
		mult = 1e6
		trimmed = trimmed[:len(trimmed)-1]
	}
	trimmed = strings.TrimSpace(trimmed)
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return f * mult, true
}

// ParseSize parses a directive size argument (e.g. "128k", "24mb") into
// a token count, rejecting anything below MinSizeFloor.
func ParseSize(s string) (int64, bool) {
	f, ok := parseNumeric(s)
	if !ok {
		return 0, false
	}
	n := int64(f)
	if n < MinSizeFloor {
		return 0, false
	}
	return n, true
}
