package integration

import (
	"fmt"
	"strconv"
	"strings"
)

// Credentials is a free-form credential map for one channel. Values come
// from JSON so numbers arrive as float64 and lists as []any.
type Credentials map[string]any

// String returns the value as a trimmed string, or "" when absent
func (c Credentials) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// Has returns true if the key is present and not empty
func (c Credentials) Has(key string) bool {
	v, ok := c[key]
	if !ok || v == nil {
		return false
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// Int64 parses the value as an integer
func (c Credentials) Int64(key string) (int64, bool) {
	switch val := c[key].(type) {
	case int:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		if val != float64(int64(val)) {
			return 0, false
		}
		return int64(val), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// StringSlice returns the value as a list of strings. A single string is
// split on commas.
func (c Credentials) StringSlice(key string) []string {
	switch val := c[key].(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			out = append(out, strings.TrimSpace(fmt.Sprint(item)))
		}
		return out
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	default:
		return nil
	}
}

// Clone returns a shallow copy
func (c Credentials) Clone() Credentials {
	out := make(Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns a copy with the other map's keys layered on top
func (c Credentials) Merge(other map[string]any) Credentials {
	out := c.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Redacted returns the key names only, for logging
func (c Credentials) Redacted() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
