package feature

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// ValuesEqual compares attribute values. Numbers compare by value across
// integer, float and json.Number representations, so a code decoded from JSON
// as float64 equals the integer code of a domain.
func ValuesEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	}
	return 0, false
}

// NormalizeNumber turns a json.Number into int64 when it is integral and
// float64 otherwise. Other values are returned as-is.
func NormalizeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// NormalizeAttributes applies NormalizeNumber to every value of attrs in place.
func NormalizeAttributes(attrs map[string]any) map[string]any {
	for k, v := range attrs {
		attrs[k] = NormalizeNumber(v)
	}
	return attrs
}
