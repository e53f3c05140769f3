package validator

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/cardcheck/internal/schema"
)

// asObject returns candidate as a decoded JSON object. Typed cards and other
// structs are converted through their JSON encoding so they are checked by
// wire field names.
func asObject(candidate any) (map[string]any, bool) {
	switch c := candidate.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return c, true
	case schema.Card:
		m, err := c.Map()
		return m, err == nil
	case *schema.Card:
		if c == nil {
			return nil, false
		}
		m, err := c.Map()
		return m, err == nil
	}
	rv := reflect.ValueOf(candidate)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
	default:
		return nil, false
	}
	b, err := json.Marshal(candidate)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, false
	}
	return m, true
}

// asSlice returns the elements of an array-like candidate sequence.
func asSlice(candidates any) ([]any, bool) {
	switch c := candidates.(type) {
	case nil:
		return nil, false
	case []any:
		return c, true
	}
	rv := reflect.ValueOf(candidates)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// asNumber accepts every numeric representation produced by the JSON and
// YAML decoders.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// typeName names the JSON type of v for violation messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if _, ok := asNumber(v); ok {
		return "number"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func quote(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return typeName(v)
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func describeShapes(shapes [][]string) string {
	parts := make([]string, len(shapes))
	for i, keys := range shapes {
		parts[i] = strings.Join(keys, "/")
	}
	return strings.Join(parts, ", ")
}

func describeKeys(obj map[string]any) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "{" + strings.Join(keys, ", ") + "}"
}
