// Package namespace defines the typed variable namespace a cell runs against
// and its wire representation.
package namespace

import (
	"math"

	"nbexec/internal/table"
)

// Kind identifies the variant held by a Value.
type Kind int

// Value kinds. The set is closed.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindText
	KindList
	KindMap
	KindTable
	KindBytes
	KindOpaque
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindNumber: "number",
	KindText:   "text",
	KindList:   "list",
	KindMap:    "map",
	KindTable:  "table",
	KindBytes:  "bytes",
	KindOpaque: "opaque",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Opaque is a value with no JSON representation: functions, class
// instances, document readers and the like. Ref holds the runtime handle
// while the value lives inside one call; it is never serialized.
type Opaque struct {
	TypeName string
	Ref      any
}

// Value is a tagged union over the namespace value kinds.
// The zero Value is null.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	s      string
	list   []Value
	m      *Map
	t      *table.Table
	bytes  []byte
	opaque Opaque
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Text returns a string value.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// List returns a list value.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// MapOf returns a map value.
func MapOf(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

// TableOf returns a table value.
func TableOf(t *table.Table) Value { return Value{kind: KindTable, t: t} }

// Bytes returns a byte-buffer value.
func Bytes(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: KindBytes, bytes: b}
}

// OpaqueOf returns an opaque value.
func OpaqueOf(typeName string, ref any) Value {
	return Value{kind: KindOpaque, opaque: Opaque{TypeName: typeName, Ref: ref}}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsText returns the string payload.
func (v Value) AsText() (string, bool) { return v.s, v.kind == KindText }

// AsList returns the list payload.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsMap returns the map payload.
func (v Value) AsMap() (*Map, bool) { return v.m, v.kind == KindMap }

// AsTable returns the table payload.
func (v Value) AsTable() (*table.Table, bool) { return v.t, v.kind == KindTable }

// AsBytes returns the byte payload.
func (v Value) AsBytes() ([]byte, bool) { return v.bytes, v.kind == KindBytes }

// AsOpaque returns the opaque payload.
func (v Value) AsOpaque() (Opaque, bool) { return v.opaque, v.kind == KindOpaque }

// TypeName returns the user-facing type name used in placeholders.
func (v Value) TypeName() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return "Boolean"
	case KindNumber:
		return "Number"
	case KindText:
		return "String"
	case KindList:
		return "Array"
	case KindMap:
		return "Object"
	case KindTable:
		return "Table"
	case KindBytes:
		return "Uint8Array"
	case KindOpaque:
		if v.opaque.TypeName != "" {
			return v.opaque.TypeName
		}
		return "Object"
	}
	return "unknown"
}

// Equal reports deep equality. Opaque values are equal when their type
// names match and their refs are identical.
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
		if math.IsNaN(v.n) && math.IsNaN(o.n) {
			return true
		}
		return v.n == o.n
	case KindText:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(o.m)
	case KindTable:
		return v.t.Equal(o.t)
	case KindBytes:
		return string(v.bytes) == string(o.bytes)
	case KindOpaque:
		return v.opaque.TypeName == o.opaque.TypeName && v.opaque.Ref == o.opaque.Ref
	}
	return false
}

// Map is an insertion-ordered string-keyed map of Values.
type Map struct {
	keys []string
	vals map[string]Value
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

// Set inserts or replaces key. Replacing keeps the original position.
func (m *Map) Set(key string, v Value) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
}

// Get returns the value bound to key.
func (m *Map) Get(key string) (Value, bool) {
	v, ok := m.vals[key]
	return v, ok
}

// Delete removes key.
func (m *Map) Delete(key string) {
	if _, ok := m.vals[key]; !ok {
		return
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// Equal reports whether both maps hold equal values for the same keys.
// Order is not significant.
func (m *Map) Equal(o *Map) bool {
	if m == nil || o == nil {
		return m == o
	}
	if len(m.keys) != len(o.keys) {
		return false
	}
	for k, v := range m.vals {
		ov, ok := o.vals[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
