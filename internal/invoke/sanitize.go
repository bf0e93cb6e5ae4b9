package invoke

import "strings"

// injectionChars are characters usable to break out of a command or
// query context on the host side. They are stripped, not escaped:
// nothing crossing this boundary legitimately contains them.
const injectionChars = "`$|;&<>\"'\\" + "\x00"

// SanitizeString strips injection-usable and control characters.
func SanitizeString(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		if strings.ContainsRune(injectionChars, r) {
			return -1
		}
		return r
	}, s)
}

// SanitizeValue recursively sanitizes a decoded JSON-shaped value:
// strings are stripped of injection characters, object keys that are
// not plain identifiers are dropped with their values, arrays and
// nested objects are walked. Numbers, booleans, and nil pass through.
func SanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return SanitizeString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if !identifierKey(k) {
				continue
			}
			out[k] = SanitizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = SanitizeValue(inner)
		}
		return out
	default:
		return v
	}
}

// identifierKey reports whether k is a plain alphanumeric identifier
// (underscores allowed, never empty).
func identifierKey(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
