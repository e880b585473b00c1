package provider

import "time"

// Field helpers for walking duck-typed provider payloads. Each takes a
// key path into nested maps and returns the zero value on any missing or
// mistyped step; transforms decide which fields are load-bearing.

// Str returns the string at the key path, or "".
func Str(m map[string]any, path ...string) string {
	v := walk(m, path)
	s, _ := v.(string)
	return s
}

// Int returns the integer at the key path, or 0. JSON numbers decode as
// float64; both forms are accepted.
func Int(m map[string]any, path ...string) int {
	switch v := walk(m, path).(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Bool returns the boolean at the key path, or false.
func Bool(m map[string]any, path ...string) bool {
	v, _ := walk(m, path).(bool)
	return v
}

// Time parses an RFC 3339 timestamp at the key path, or returns the zero
// time.
func Time(m map[string]any, path ...string) time.Time {
	s := Str(m, path...)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// TimePtr is Time returning nil for absent or unparseable values, for
// nullable columns like merged_at.
func TimePtr(m map[string]any, path ...string) *time.Time {
	t := Time(m, path...)
	if t.IsZero() {
		return nil
	}
	return &t
}

// List returns the slice at the key path, or nil.
func List(m map[string]any, path ...string) []any {
	v, _ := walk(m, path).([]any)
	return v
}

// StrList returns the string elements of the slice at the key path.
func StrList(m map[string]any, path ...string) []string {
	var out []string
	for _, v := range List(m, path...) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func walk(m map[string]any, path []string) any {
	var cur any = m
	for _, key := range path {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mm[key]
	}
	return cur
}
