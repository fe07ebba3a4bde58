package remoteid

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Lenient coercion helpers for telemetry field values. Radio front-ends mix
// numbers, numeric strings, and strings with trailing units ("0.25 m/s");
// a field that fails to coerce falls back to the caller's default and never
// aborts parsing of the rest of the message.

// Float coerces v to a float64, falling back to def
func Float(v any, def float64) float64 {
	if f, ok := toFloat(v); ok {
		return f
	}
	return def
}

// FloatPtr coerces v to a float64 pointer, nil when absent or unparseable
func FloatPtr(v any) *float64 {
	if f, ok := toFloat(v); ok {
		return &f
	}
	return nil
}

// Int coerces v to an int, falling back to def
func Int(v any, def int) int {
	if i, ok := toInt(v); ok {
		return i
	}
	return def
}

// Str coerces v to a string, falling back to def
func Str(v any, def string) string {
	switch t := v.(type) {
	case nil:
		return def
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return def
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		// Take only the leading numeric token ("0.25 m/s" -> 0.25)
		fields := strings.Fields(t)
		if len(fields) == 0 {
			return 0, false
		}
		f, err := strconv.ParseFloat(fields[0], 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case float32:
		return int(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), true
		}
		if f, err := t.Float64(); err == nil {
			return int(f), true
		}
		return 0, false
	case string:
		fields := strings.Fields(t)
		if len(fields) == 0 {
			return 0, false
		}
		if i, err := strconv.Atoi(fields[0]); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(fields[0], 64); err == nil {
			return int(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}
