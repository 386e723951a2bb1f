package qa

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Lenient accessors over decoded model JSON. Models sometimes quote numbers
// or return a scalar where a list was asked for.

func getString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case string:
			return x, true
		case json.Number:
			return x.String(), true
		case bool:
			return strconv.FormatBool(x), true
		default:
			return fmt.Sprint(x), true
		}
	}
	return "", false
}

func stringOr(m map[string]any, fallback string, keys ...string) string {
	s, ok := getString(m, keys...)
	if !ok || strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n), true
		}
		if f, err := x.Float64(); err == nil {
			return int(math.Round(f)), true
		}
	case float64:
		return int(math.Round(x)), true
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(x), "%"))
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(math.Round(f)), true
		}
	}
	return 0, false
}

func getInt(m map[string]any, keys ...string) int {
	for _, k := range keys {
		if n, ok := toInt(m[k]); ok {
			return n
		}
	}
	return 0
}

func getIntSlice(m map[string]any, keys ...string) []int {
	for _, k := range keys {
		switch v := m[k].(type) {
		case []any:
			out := make([]int, 0, len(v))
			for _, e := range v {
				if n, ok := toInt(e); ok {
					out = append(out, n)
				}
			}
			return out
		case nil:
			continue
		default:
			if n, ok := toInt(v); ok {
				return []int{n}
			}
		}
	}
	return []int{}
}

func getStringSlice(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		arr, ok := m[k].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(arr))
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}
