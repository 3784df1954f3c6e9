package params

import (
	"encoding/json"
	"strings"
)

// NormalizeName strips at most one leading parameter prefix character.
// Empty names pass through unchanged; normalization is idempotent.
func NormalizeName(name string) string {
	if strings.HasPrefix(name, "@") {
		return name[1:]
	}
	return name
}

// NormalizeMap folds a caller-supplied parameter map to prefix-free,
// case-insensitively keyed entries. Keys differing only by case or by a
// leading prefix collide to one entry; with map input the surviving value is
// whichever the range visits last, matching last-write-wins semantics for
// ordered inputs (see SetNormalized).
func NormalizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for name, value := range in {
		SetNormalized(out, name, value)
	}
	return out
}

// SetNormalized inserts one entry under its normalized key, overwriting any
// earlier entry that normalizes to the same key.
func SetNormalized(dst map[string]any, name string, value any) {
	dst[strings.ToLower(NormalizeName(name))] = NormalizeValue(value)
}

// NormalizeValue converts dynamic representations that arrive from decoded
// JSON into native scalar or array forms. Objects are reserialized and
// passed through as opaque strings; arrays convert element-wise; numbers
// keep integral form when they have one. Values that are already native pass
// through unchanged.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case float64:
		// encoding/json decodes every number to float64; recover integers.
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	case map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return val
		}
		return string(data)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeValue(item)
		}
		return out
	default:
		return v
	}
}
