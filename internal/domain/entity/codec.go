package entity

import (
	"sort"
	"strings"
	"time"
)

// Document values arrive from Firestore (time.Time, int64, []interface{},
// map[string]interface{}) or from the in-memory store, which normalizes to
// the same shapes. Absent or mistyped fields decode to zero values.

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func getTime(m map[string]interface{}, key string) time.Time {
	if t := getTimePtr(m, key); t != nil {
		return *t
	}
	return time.Time{}
}

func getTimePtr(m map[string]interface{}, key string) *time.Time {
	return asTime(m[key])
}

func asTime(v interface{}) *time.Time {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil
		}
		u := t.UTC()
		return &u
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil
		}
		u := t.UTC()
		return &u
	}
	return nil
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	}
	return 0
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func getMap(m map[string]interface{}, key string) map[string]interface{} {
	if v, ok := m[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

func getStringSlice(m map[string]interface{}, key string) []string {
	switch raw := m[key].(type) {
	case []string:
		out := make([]string, len(raw))
		copy(out, raw)
		return out
	case []interface{}:
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func getIntMap(m map[string]interface{}, key string) map[string]int {
	out := map[string]int{}
	for k, v := range getMap(m, key) {
		out[k] = asInt(v)
	}
	return out
}

func getBoolMap(m map[string]interface{}, key string) map[string]bool {
	out := map[string]bool{}
	for k, v := range getMap(m, key) {
		b, _ := v.(bool)
		out[k] = b
	}
	return out
}

func getTimeMap(m map[string]interface{}, key string) map[string]*time.Time {
	out := map[string]*time.Time{}
	for k, v := range getMap(m, key) {
		out[k] = asTime(v)
	}
	return out
}

func stringsToAny(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// UniqueStrings drops empty and duplicate entries, keeping first-seen order.
func UniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// SortedKey builds a stable key for a set of ids.
func SortedKey(ids []string) string {
	sorted := UniqueStrings(ids)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
