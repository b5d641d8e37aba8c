package mirror

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Kind identifies the shape carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is an immutable tree value: null, a scalar, or an ordered map of
// values. The zero Value is null.
//
// Maps never contain null children and are never empty; writing an empty map
// yields null, matching the remote service where an object without children
// does not exist.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	m    *node
}

type node struct {
	keys []string
	vals map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int wraps an integer as a number.
func Int(n int) Value { return Number(float64(n)) }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Map builds a map value from entries. Null entries are dropped and an empty
// result collapses to null.
func Map(entries map[string]Value) Value {
	vals := make(map[string]Value, len(entries))
	for key, value := range entries {
		if value.IsNull() {
			continue
		}
		vals[key] = value
	}
	return fromNode(vals)
}

func fromNode(vals map[string]Value) Value {
	if len(vals) == 0 {
		return Null()
	}
	keys := make([]string, 0, len(vals))
	for key := range vals {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return CompareKeys(keys[i], keys[j]) < 0 })
	return Value{kind: KindMap, m: &node{keys: keys, vals: vals}}
}

// Kind reports the value's shape.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsMap reports whether v is a map.
func (v Value) IsMap() bool { return v.kind == KindMap }

// Bool returns the boolean payload and whether v is a bool.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Number returns the numeric payload and whether v is a number.
func (v Value) Number() (float64, bool) { return v.n, v.kind == KindNumber }

// Text returns the string payload and whether v is a string.
func (v Value) Text() (string, bool) { return v.s, v.kind == KindString }

// Len returns the number of children of a map, zero otherwise.
func (v Value) Len() int {
	if v.kind != KindMap {
		return 0
	}
	return len(v.m.keys)
}

// Keys returns the map keys in remote ordering (integer-like keys first,
// numerically, then the rest lexicographically).
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	out := make([]string, len(v.m.keys))
	copy(out, v.m.keys)
	return out
}

// Child returns the child stored under key, or null.
func (v Value) Child(key string) Value {
	if v.kind != KindMap {
		return Null()
	}
	return v.m.vals[key]
}

// Get walks segments and returns the value found there, or null.
func (v Value) Get(segments ...string) Value {
	current := v
	for _, segment := range segments {
		current = current.Child(segment)
		if current.IsNull() {
			return current
		}
	}
	return current
}

// Range calls fn for every child in key order until fn returns false.
func (v Value) Range(fn func(key string, child Value) bool) {
	if v.kind != KindMap {
		return
	}
	for _, key := range v.m.keys {
		if !fn(key, v.m.vals[key]) {
			return
		}
	}
}

// With returns a copy of v where key holds child. Non-map values are treated
// as empty maps. A null child removes the key; a map left empty becomes null.
// Children other than key are shared with v.
func (v Value) With(key string, child Value) Value {
	var size int
	if v.kind == KindMap {
		size = len(v.m.vals)
	}
	vals := make(map[string]Value, size+1)
	if v.kind == KindMap {
		for k, existing := range v.m.vals {
			vals[k] = existing
		}
	}
	if child.IsNull() {
		if _, ok := vals[key]; !ok && v.kind == KindMap {
			return v
		}
		delete(vals, key)
		return fromNode(vals)
	}
	vals[key] = child
	return fromNode(vals)
}

// Without returns v with key removed.
func (v Value) Without(key string) Value {
	return v.With(key, Null())
}

// Equal reports deep structural equality.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n == other.n
	case KindString:
		return v.s == other.s
	case KindMap:
		if v.m == other.m {
			return true
		}
		if len(v.m.keys) != len(other.m.keys) {
			return false
		}
		for key, child := range v.m.vals {
			peer, ok := other.m.vals[key]
			if !ok || !child.Equal(peer) {
				return false
			}
		}
		return true
	}
	return false
}

// Same reports whether v and other are the identical stored value. For maps
// this is pointer identity, which is what structural sharing preserves.
func (v Value) Same(other Value) bool {
	if v.kind == KindMap && other.kind == KindMap {
		return v.m == other.m
	}
	return v.Equal(other)
}

// Interface converts v into plain Go values: nil, bool, float64, string or
// map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindMap:
		out := make(map[string]any, len(v.m.vals))
		for key, child := range v.m.vals {
			out[key] = child.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) String() string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(raw)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts decoded JSON or plain Go data into a Value. Slices become
// maps keyed by decimal index.
func FromAny(input any) (Value, error) {
	switch typed := input.(type) {
	case nil:
		return Null(), nil
	case Value:
		return typed, nil
	case bool:
		return Bool(typed), nil
	case string:
		return String(typed), nil
	case float64:
		return Number(typed), nil
	case float32:
		return Number(float64(typed)), nil
	case int:
		return Int(typed), nil
	case int64:
		return Number(float64(typed)), nil
	case int32:
		return Number(float64(typed)), nil
	case json.Number:
		n, err := typed.Float64()
		if err != nil {
			return Null(), fmt.Errorf("mirror: number %q: %w", typed.String(), err)
		}
		return Number(n), nil
	case map[string]any:
		vals := make(map[string]Value, len(typed))
		for key, raw := range typed {
			child, err := FromAny(raw)
			if err != nil {
				return Null(), fmt.Errorf("mirror: key %q: %w", key, err)
			}
			if !child.IsNull() {
				vals[key] = child
			}
		}
		return fromNode(vals), nil
	case map[string]Value:
		return Map(typed), nil
	case []any:
		vals := make(map[string]Value, len(typed))
		for i, raw := range typed {
			child, err := FromAny(raw)
			if err != nil {
				return Null(), fmt.Errorf("mirror: index %d: %w", i, err)
			}
			if !child.IsNull() {
				vals[strconv.Itoa(i)] = child
			}
		}
		return fromNode(vals), nil
	}
	return fromReflect(reflect.ValueOf(input))
}

func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return FromAny(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Null(), fmt.Errorf("mirror: unsupported map key type %s", rv.Type().Key())
		}
		vals := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			child, err := FromAny(iter.Value().Interface())
			if err != nil {
				return Null(), fmt.Errorf("mirror: key %q: %w", iter.Key().String(), err)
			}
			if !child.IsNull() {
				vals[iter.Key().String()] = child
			}
		}
		return fromNode(vals), nil
	case reflect.Slice, reflect.Array:
		vals := make(map[string]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			child, err := FromAny(rv.Index(i).Interface())
			if err != nil {
				return Null(), fmt.Errorf("mirror: index %d: %w", i, err)
			}
			if !child.IsNull() {
				vals[strconv.Itoa(i)] = child
			}
		}
		return fromNode(vals), nil
	}
	if !rv.IsValid() {
		return Null(), nil
	}
	return Null(), fmt.Errorf("mirror: unsupported value type %s", rv.Type())
}

// MustValue is FromAny for literals known to be valid. It panics otherwise.
func MustValue(input any) Value {
	v, err := FromAny(input)
	if err != nil {
		panic(err)
	}
	return v
}

// CompareKeys orders child keys the way the remote service does: keys that
// parse as 32-bit integers sort first, numerically; all others follow in
// lexicographic order.
func CompareKeys(a, b string) int {
	ai, aInt := integerKey(a)
	bi, bInt := integerKey(b)
	switch {
	case aInt && bInt:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return strings.Compare(a, b)
	case aInt:
		return -1
	case bInt:
		return 1
	}
	return strings.Compare(a, b)
}

func integerKey(key string) (int64, bool) {
	n, err := strconv.ParseInt(key, 10, 32)
	if err != nil || strconv.FormatInt(n, 10) != key {
		return 0, false
	}
	return n, true
}

func formatNumber(n float64) string {
	abs := math.Abs(n)
	if n == 0 || (abs >= 1e-6 && abs < 1e21) {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}
