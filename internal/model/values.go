package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// AsMap returns v as a JSON object, or nil when v is not one.
func AsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// AsString returns v when it is a string, or "".
func AsString(v any) string {
	s, _ := v.(string)
	return s
}

// AsStringSlice decodes a stored ID array. Non-string entries are skipped.
func AsStringSlice(v any) []string {
	switch arr := v.(type) {
	case []string:
		out := make([]string, len(arr))
		copy(out, arr)
		return out
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		// sparse arrays come back as objects keyed by index
		out := make([]string, 0, len(arr))
		for i := 0; i < len(arr); i++ {
			if s, ok := arr[strconv.Itoa(i)].(string); ok {
				out = append(out, s)
			}
		}
		return out
	}

	return nil
}

// AsFloat converts a stored number or numeric string.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}

	return 0, false
}

// AsInt64 converts a stored integer number.
func AsInt64(v any) int64 {
	f, ok := AsFloat(v)
	if !ok {
		return 0
	}

	return int64(f)
}

// Timestamp renders t the way records store it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses a stored timestamp.
func ParseTimestamp(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp is %T, not a string", v)
	}

	return time.Parse(time.RFC3339Nano, s)
}

// Decode converts a stored JSON value into out via its JSON form.
func Decode(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, out)
}

// Encode converts in into its stored JSON value form.
func Encode(in any) (any, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return out, nil
}
