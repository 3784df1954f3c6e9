package params

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Coerce maps a normalized value to the concrete native type implied by the
// catalog SQL type. An unrecognized type name passes the value through
// unmodified; nil maps to the native NULL marker for every type.
func Coerce(value any, m Metadata) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch strings.ToLower(m.DataType) {
	case "int", "bigint", "smallint", "tinyint":
		return coerceInt(value)
	case "float", "real":
		return coerceFloat(value)
	case "decimal", "numeric", "money", "smallmoney":
		return coerceDecimal(value, m.Scale)
	case "varchar", "char", "text":
		return coerceString(value, m.MaxLength)
	case "nvarchar", "nchar", "ntext":
		// Wide types store two bytes per character, so the usable length is
		// half the catalog byte length.
		return coerceString(value, halve(m.MaxLength))
	case "bit":
		return coerceBool(value)
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return coerceDateTime(value)
	case "date":
		return coerceDate(value)
	case "time":
		return coerceTime(value)
	case "uniqueidentifier":
		return coerceUUID(value)
	case "binary", "varbinary", "image":
		return coerceBinary(value, m.MaxLength)
	default:
		return value, nil
	}
}

func halve(byteLength int) int {
	if byteLength > 0 {
		return byteLength / 2
	}
	return byteLength
}

func coerceInt(v any) (any, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case float64:
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("value %v has a fractional part", val)
		}
		return int64(val), nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as integer", val)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to integer", v)
	}
}

func coerceFloat(v any) (any, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case int:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as float", val)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to float", v)
	}
}

// coerceDecimal binds exact numerics through shopspring/decimal, rounded to
// the catalog scale, and passes them to the driver in text form.
func coerceDecimal(v any, scale int) (any, error) {
	var d decimal.Decimal
	switch val := v.(type) {
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as decimal", val)
		}
		d = parsed
	case float64:
		d = decimal.NewFromFloat(val)
	case int64:
		d = decimal.NewFromInt(val)
	case int:
		d = decimal.NewFromInt(int64(val))
	default:
		return nil, fmt.Errorf("cannot convert %T to decimal", v)
	}
	return d.Round(int32(scale)).String(), nil
}

func coerceString(v any, maxChars int) (any, error) {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case []any:
		return nil, fmt.Errorf("cannot convert array to string")
	default:
		s = fmt.Sprintf("%v", val)
	}
	if maxChars > 0 && len([]rune(s)) > maxChars {
		return nil, fmt.Errorf("string length %d exceeds maximum %d", len([]rune(s)), maxChars)
	}
	return s, nil
}

func coerceBool(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case int64:
		return val != 0, nil
	case float64:
		return val != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "true":
			return true, nil
		case "0", "false":
			return false, nil
		}
		return nil, fmt.Errorf("cannot parse %q as bit", val)
	default:
		return nil, fmt.Errorf("cannot convert %T to bit", v)
	}
}

// dateTimeLayouts are the accepted ISO-ish input forms, most specific first.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as datetime", s)
}

func coerceDateTime(v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case string:
		return parseDateTime(val)
	default:
		return nil, fmt.Errorf("cannot convert %T to datetime", v)
	}
}

// coerceDate truncates any time component: the date-only type keeps only the
// calendar date.
func coerceDate(v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return civil.DateOf(val), nil
	case civil.Date:
		return val, nil
	case string:
		t, err := parseDateTime(val)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as date", val)
		}
		return civil.DateOf(t), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to date", v)
	}
}

var timeLayouts = []string{"15:04:05.999999999", "15:04:05", "15:04"}

func coerceTime(v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return civil.TimeOf(val), nil
	case civil.Time:
		return val, nil
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return civil.TimeOf(t), nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as time", val)
	default:
		return nil, fmt.Errorf("cannot convert %T to time", v)
	}
}

func coerceUUID(v any) (any, error) {
	switch val := v.(type) {
	case uuid.UUID:
		return val.String(), nil
	case string:
		id, err := uuid.Parse(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as uniqueidentifier", val)
		}
		return id.String(), nil
	default:
		return nil, fmt.Errorf("cannot convert %T to uniqueidentifier", v)
	}
}

// coerceBinary decodes base64 text into the original byte sequence.
func coerceBinary(v any, maxBytes int) (any, error) {
	var b []byte
	switch val := v.(type) {
	case []byte:
		b = val
	case string:
		decoded, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return nil, fmt.Errorf("cannot decode base64 binary value")
		}
		b = decoded
	default:
		return nil, fmt.Errorf("cannot convert %T to binary", v)
	}
	if maxBytes > 0 && len(b) > maxBytes {
		return nil, fmt.Errorf("binary length %d exceeds maximum %d", len(b), maxBytes)
	}
	return b, nil
}
