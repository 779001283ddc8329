// Package normalize converts store-native container values into plain Go
// values before they leave a repository.
//
// Value turns values from the MongoDB driver (bson.D, bson.M, bson.A, int32,
// bson.ObjectID, bson.DateTime), from a JSON decoder running with UseNumber
// (json.Number), and typed maps, slices and named scalars into
// map[string]any, []any, string, int64, float64, bool, time.Time, []byte and
// nil. Maps with non-string keys, structs and pointers pass through
// unchanged.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Value recursively normalizes v. Scalars that are already plain pass
// through unchanged.
func Value(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = Value(e.Value)
		}
		return m
	case bson.M:
		return mapValue(t)
	case map[string]any:
		return mapValue(t)
	case bson.A:
		return sliceValue(t)
	case []any:
		return sliceValue(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time().UTC()
	case bson.Binary:
		return t.Data
	case string, int64, float64, bool, []byte, time.Time:
		return v
	default:
		return reflectValue(v)
	}
}

// reflectValue handles typed maps, slices and named scalars such as
// map[string]string or []int. Anything else passes through.
func reflectValue(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Value(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Value(rv.Index(i).Interface())
		}
		return out
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if u := rv.Uint(); u <= math.MaxInt64 {
			return int64(u)
		}
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	default:
		return v
	}
}

// Document normalizes v and asserts the result is a map. ok is false when v
// is not document-shaped.
func Document(v any) (map[string]any, bool) {
	m, ok := Value(v).(map[string]any)
	return m, ok
}

func mapValue(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = Value(v)
	}
	return out
}

func sliceValue(in []any) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = Value(v)
	}
	return out
}

// Int64 reads an integer out of a normalized or raw value. Floats are
// truncated and numeric strings are parsed; anything else is an error.
func Int64(v any) (int64, error) {
	switch t := Value(v).(type) {
	case int64:
		return t, nil
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

// String returns v as a string, or "" when v is nil or not a string.
func String(v any) string {
	s, _ := Value(v).(string)
	return s
}

// Strings converts a list value into []string, skipping non-string items.
// A nil value yields a nil slice.
func Strings(v any) []string {
	list, ok := Value(v).([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
