package params

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError aggregates every violation found while binding one call.
// Validation is deliberately not fail-fast: the caller gets all missing,
// unknown and unconvertible parameters in a single report.
type ValidationError struct {
	Missing    []string // required catalog parameters absent from the call
	Unknown    []string // caller-supplied names absent from the catalog
	Conversion []string // per-parameter coercion failures
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required parameters: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown parameters: "+strings.Join(e.Unknown, ", "))
	}
	if len(e.Conversion) > 0 {
		parts = append(parts, "conversion failures: "+strings.Join(e.Conversion, "; "))
	}
	return "parameter validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) empty() bool {
	return len(e.Missing) == 0 && len(e.Unknown) == 0 && len(e.Conversion) == 0
}

// Bind normalizes the caller's parameter map, validates it against the
// procedure's catalog metadata and coerces every value to its native type.
// The result is ordered by catalog ordinal. The return-value slot (ordinal
// 0) is skipped; output-only parameters are included even when absent so the
// call can still execute.
func Bind(in map[string]any, meta []Metadata) ([]NativeParameter, error) {
	supplied := NormalizeMap(in)
	verr := &ValidationError{}

	// Violations must name parameters the way the caller spelled them, not
	// by their normalized keys.
	spelled := make(map[string]string, len(in))
	for name := range in {
		spelled[strings.ToLower(NormalizeName(name))] = name
	}

	known := make(map[string]bool, len(meta))
	var bound []NativeParameter

	for _, m := range meta {
		if m.Ordinal == 0 {
			continue
		}
		key := strings.ToLower(NormalizeName(m.Name))
		known[key] = true

		value, ok := supplied[key]
		if !ok {
			switch {
			case m.IsOutput:
				bound = append(bound, NativeParameter{Name: NormalizeName(m.Name), IsOutput: true})
			case m.Required():
				verr.Missing = append(verr.Missing, m.Name)
			}
			// Defaulted parameters are simply omitted so the server applies
			// the default.
			continue
		}

		coerced, err := Coerce(value, m)
		if err != nil {
			verr.Conversion = append(verr.Conversion,
				fmt.Sprintf("%s (%s): %v", m.Name, m.DataType, err))
			continue
		}
		bound = append(bound, NativeParameter{
			Name:     NormalizeName(m.Name),
			Value:    coerced,
			IsOutput: m.IsOutput,
		})
	}

	var unknown []string
	for key := range supplied {
		if !known[key] {
			unknown = append(unknown, spelled[key])
		}
	}
	sort.Strings(unknown)
	verr.Unknown = unknown

	if !verr.empty() {
		return nil, verr
	}
	return bound, nil
}
