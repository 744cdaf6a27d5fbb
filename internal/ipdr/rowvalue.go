package ipdr

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RawRow is one decoded input row, regardless of source format. Values are
// strings, numbers, booleans, nested maps or slices.
type RawRow map[string]any

// Lookup returns the value stored under key. An exact match wins; otherwise
// keys are compared case-insensitively ignoring surrounding spaces. Empty
// strings and nil values count as absent.
func (r RawRow) Lookup(key string) (any, bool) {
	if v, ok := r[key]; ok {
		return v, present(v)
	}
	for k, v := range r {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return v, present(v)
		}
	}
	return nil, false
}

// Has reports whether key carries a non-empty value.
func (r RawRow) Has(key string) bool {
	_, ok := r.Lookup(key)
	return ok
}

// String returns the value under key rendered as a trimmed string.
func (r RawRow) String(key string) (string, bool) {
	v, ok := r.Lookup(key)
	if !ok {
		return "", false
	}
	return stringValue(v), true
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	}
	return true
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// floatValue converts numbers and numeric strings. Non-finite values fail.
func floatValue(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// intValue accepts integers and integral floats such as "1024" or 1024.0.
func intValue(v any) (int64, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
	}
	f, ok := floatValue(v)
	if !ok {
		return 0, fmt.Errorf("%q is not a number", stringValue(v))
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f >= 1<<63 || f < -1<<63 {
		return 0, fmt.Errorf("%v is out of range", f)
	}
	return int64(f), nil
}

func boolValue(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case int:
		return t != 0, nil
	}
	return strconv.ParseBool(strings.ToLower(stringValue(v)))
}

// listValue accepts a slice or a string separated by commas, semicolons or pipes.
func listValue(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []string:
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range t {
			if present(item) {
				out = append(out, stringValue(item))
			}
		}
	default:
		fields := strings.FieldsFunc(stringValue(v), func(r rune) bool {
			return r == ',' || r == ';' || r == '|'
		})
		for _, s := range fields {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
