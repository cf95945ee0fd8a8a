package wire

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Value errors.
var (
	ErrInvalidValue     = errors.New("invalid attribute value")
	ErrUnsupportedValue = errors.New("unsupported CBOR value type")
	ErrNotAMap          = errors.New("CBOR item is not a map")
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInteger
	KindBytes
	KindMap
	KindArray
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "INTEGER"
	case KindBytes:
		return "BYTES"
	case KindMap:
		return "MAP"
	case KindArray:
		return "ARRAY"
	default:
		return "INVALID"
	}
}

// Value is an attribute value: an integer, a byte string, a Map or an array.
// The zero Value is invalid and cannot be encoded.
type Value struct {
	kind Kind
	i    int64
	b    []byte
	m    *Map
	a    []Value
}

// IntValue returns an integer Value.
func IntValue(v int64) Value {
	return Value{kind: KindInteger, i: v}
}

// BytesValue returns a byte string Value. A nil slice encodes as an empty
// byte string.
func BytesValue(b []byte) Value {
	c := make([]byte, len(b))
	copy(c, b)
	return Value{kind: KindBytes, b: c}
}

// MapValue returns a Value wrapping m.
func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

// ArrayValue returns an array Value.
func ArrayValue(vs ...Value) Value {
	a := make([]Value, len(vs))
	copy(a, vs)
	return Value{kind: KindArray, a: a}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a variant.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInteger
}

// AsBytes returns the byte string held by v.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.b, true
}

// AsMap returns the Map held by v.
func (v Value) AsMap() (*Map, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// AsArray returns the elements held by v.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.a, true
}

// Equal reports whether v and o hold the same variant and contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == o.i
	case KindBytes:
		return bytes.Equal(v.b, o.b)
	case KindMap:
		return v.m.Equal(o.m)
	case KindArray:
		if len(v.a) != len(o.a) {
			return false
		}
		for i := range v.a {
			if !v.a[i].Equal(o.a[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String returns a compact diagnostic form.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return fmt.Sprintf("%d", v.i)
	case KindBytes:
		return fmt.Sprintf("h'%x'", v.b)
	case KindMap:
		return v.m.String()
	case KindArray:
		var sb bytes.Buffer
		sb.WriteByte('[')
		for i, e := range v.a {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.String())
		}
		sb.WriteByte(']')
		return sb.String()
	default:
		return "<invalid>"
	}
}

// MarshalCBOR implements cbor.Marshaler.
func (v Value) MarshalCBOR() ([]byte, error) {
	switch v.kind {
	case KindInteger:
		return encMode.Marshal(v.i)
	case KindBytes:
		b := v.b
		if b == nil {
			b = []byte{}
		}
		return encMode.Marshal(b)
	case KindMap:
		return v.m.MarshalCBOR()
	case KindArray:
		a := v.a
		if a == nil {
			a = []Value{}
		}
		return encMode.Marshal(a)
	default:
		return nil, ErrInvalidValue
	}
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var raw any
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return err
	}
	out, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// fromAny converts a generically decoded CBOR item into a Value.
func fromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: integer %d overflows int64", ErrUnsupportedValue, x)
		}
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case []byte:
		return Value{kind: KindBytes, b: x}, nil
	case map[any]any:
		m := NewMap()
		for k, e := range x {
			key, err := intKey(k)
			if err != nil {
				return Value{}, err
			}
			ev, err := fromAny(e)
			if err != nil {
				return Value{}, err
			}
			m.entries[key] = ev
		}
		return MapValue(m), nil
	case []any:
		a := make([]Value, 0, len(x))
		for _, e := range x {
			ev, err := fromAny(e)
			if err != nil {
				return Value{}, err
			}
			a = append(a, ev)
		}
		return Value{kind: KindArray, a: a}, nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, raw)
	}
}

func intKey(k any) (int64, error) {
	switch x := k.(type) {
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%w: map key %d overflows int64", ErrUnsupportedValue, x)
		}
		return int64(x), nil
	case int64:
		return x, nil
	default:
		return 0, fmt.Errorf("%w: map key of type %T", ErrUnsupportedValue, k)
	}
}

// Map is an integer-keyed map of Values. The zero value is not usable;
// create maps with NewMap. Map is not safe for concurrent use.
type Map struct {
	entries map[int64]Value
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{entries: make(map[int64]Value)}
}

// Set stores v under key, replacing any previous value.
func (m *Map) Set(key int64, v Value) {
	m.entries[key] = v
}

// Get returns the value stored under key.
func (m *Map) Get(key int64) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.entries[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map) Has(key int64) bool {
	_, ok := m.Get(key)
	return ok
}

// Delete removes key.
func (m *Map) Delete(key int64) {
	delete(m.entries, key)
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Keys returns the keys in ascending order.
func (m *Map) Keys() []int64 {
	if m == nil {
		return nil
	}
	keys := make([]int64, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Clone returns a copy of m. Byte strings are shared.
func (m *Map) Clone() *Map {
	c := NewMap()
	if m == nil {
		return c
	}
	for k, v := range m.entries {
		c.entries[k] = v
	}
	return c
}

// Equal reports whether m and o hold the same entries.
func (m *Map) Equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for _, k := range m.Keys() {
		ov, ok := o.Get(k)
		if !ok {
			return false
		}
		mv, _ := m.Get(k)
		if !mv.Equal(ov) {
			return false
		}
	}
	return true
}

// String returns a compact diagnostic form.
func (m *Map) String() string {
	var sb bytes.Buffer
	sb.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			sb.WriteString(", ")
		}
		v, _ := m.Get(k)
		fmt.Fprintf(&sb, "%d: %s", k, v.String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// MarshalCBOR implements cbor.Marshaler. Keys are written in deterministic
// order.
func (m *Map) MarshalCBOR() ([]byte, error) {
	entries := map[int64]Value{}
	if m != nil {
		entries = m.entries
	}
	return encMode.Marshal(entries)
}

// UnmarshalCBOR implements cbor.Unmarshaler. data must be a CBOR map with
// integer keys.
func (m *Map) UnmarshalCBOR(data []byte) error {
	mt, err := PeekMajorType(data)
	if err != nil {
		return err
	}
	if mt != MajorMap {
		return ErrNotAMap
	}
	v := Value{}
	if err := v.UnmarshalCBOR(data); err != nil {
		return err
	}
	decoded, _ := v.AsMap()
	m.entries = decoded.entries
	return nil
}
