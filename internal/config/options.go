package config

import "math"

// OptString returns the string option key, or "" if it is absent or not a
// string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptFloat returns the numeric option key, or def if it is absent or not a
// number. YAML integers are accepted.
func (e ProviderEntry) OptFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// OptInt returns the integer option key, or def if it is absent or not a
// whole number.
func (e ProviderEntry) OptInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	}
	return def
}

// OptStrings returns the list option key. Non-string elements are skipped.
func (e ProviderEntry) OptStrings(key string) []string {
	raw, ok := e.Options[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
