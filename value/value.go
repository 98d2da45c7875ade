// Package value defines the closed set of shapes a stored value can take and
// the merge rules between them.
//
// A Value is one of:
//
//	Null      - absence; also the delete sentinel for Set and Merge
//	Scalar    - bool, number (float64) or string
//	Sequence  - ordered list of Values
//	Mapping   - string-keyed Values
//
// Values are immutable. Constructors copy their inputs and accessors return
// copies, so a Value can be shared between the cache, subscribers and the
// write queue without locking.
package value

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
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
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is the zero-value-is-Null variant. See package doc.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	seq  []Value
	m    map[string]Value

	// replace is only ever set on mappings produced by Fold: the mapping
	// overwrites whatever it is merged onto instead of merging into it.
	replace bool
}

func Null() Value            { return Value{} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Number(f float64) Value { return Value{kind: KindNumber, n: f} }
func Int(i int64) Value      { return Value{kind: KindNumber, n: float64(i)} }
func String(s string) Value  { return Value{kind: KindString, s: s} }

// Seq builds a Sequence. Null elements are kept: only mapping fields treat
// Null as a deletion.
func Seq(items ...Value) Value {
	out := make([]Value, len(items))
	copy(out, items)
	return Value{kind: KindSequence, seq: out}
}

// Map builds a Mapping. A nil map yields an empty Mapping, not Null.
func Map(fields map[string]Value) Value {
	out := make(map[string]Value, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return Value{kind: KindMapping, m: out}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }
func (v Value) AsString() (string, bool)  { return v.s, v.kind == KindString }

// Len returns the number of elements of a Sequence or fields of a Mapping.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.seq)
	case KindMapping:
		return len(v.m)
	default:
		return 0
	}
}

// Index returns element i of a Sequence, or Null when out of range.
func (v Value) Index(i int) Value {
	if v.kind != KindSequence || i < 0 || i >= len(v.seq) {
		return Null()
	}
	return v.seq[i]
}

// Field returns the named field of a Mapping.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMapping {
		return Null(), false
	}
	f, ok := v.m[name]
	return f, ok
}

// Keys returns the sorted field names of a Mapping.
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	out := make([]string, 0, len(v.m))
	for k := range v.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Items returns a copy of a Sequence's elements.
func (v Value) Items() []Value {
	if v.kind != KindSequence {
		return nil
	}
	out := make([]Value, len(v.seq))
	copy(out, v.seq)
	return out
}

// Fields returns a copy of a Mapping's fields.
func (v Value) Fields() map[string]Value {
	if v.kind != KindMapping {
		return nil
	}
	out := make(map[string]Value, len(v.m))
	for k, f := range v.m {
		out[k] = f
	}
	return out
}

// Interface converts v to plain Go data: nil, bool, float64, string,
// []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindSequence:
		out := make([]any, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.Interface()
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(v.m))
		for k, f := range v.m {
			out[k] = f.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports structural equality. Fold's internal replace marker is not
// part of equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, f := range v.m {
			g, ok := o.m[k]
			if !ok || !f.Equal(g) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s: %v>", v.kind, err)
	}
	return string(b)
}

// FromAny converts decoded Go data into a Value. It understands the shapes
// produced by encoding/json, CBOR and msgpack decoders and structpb, plus
// any integer/float kind, slices, arrays and string-keyed maps.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint64:
		return Number(float64(t)), nil
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Null(), fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = ev
		}
		return Value{kind: KindSequence, seq: out}, nil
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Null(), fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = ev
		}
		return Value{kind: KindMapping, m: out}, nil
	case map[any]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			ks, ok := k.(string)
			if !ok {
				return Null(), fmt.Errorf("non-string map key %T", k)
			}
			ev, err := FromAny(e)
			if err != nil {
				return Null(), fmt.Errorf("field %q: %w", ks, err)
			}
			out[ks] = ev
		}
		return Value{kind: KindMapping, m: out}, nil
	}
	return fromReflect(reflect.ValueOf(x))
}

// MustFromAny is like FromAny but panics on error. Handy in tests.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Number(float64(u)), nil
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null(), nil
		}
		out := make([]Value, rv.Len())
		for i := range out {
			ev, err := FromAny(rv.Index(i).Interface())
			if err != nil {
				return Null(), fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = ev
		}
		return Value{kind: KindSequence, seq: out}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Null(), fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		if rv.IsNil() {
			return Null(), nil
		}
		out := make(map[string]Value, rv.Len())
		it := rv.MapRange()
		for it.Next() {
			ev, err := FromAny(it.Value().Interface())
			if err != nil {
				return Null(), fmt.Errorf("field %q: %w", it.Key().String(), err)
			}
			out[it.Key().String()] = ev
		}
		return Value{kind: KindMapping, m: out}, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return FromAny(rv.Elem().Interface())
	case reflect.Invalid:
		return Null(), nil
	}
	return Null(), fmt.Errorf("unsupported type %s", rv.Type())
}
