package kernel

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"nbexec/internal/document"
	"nbexec/internal/namespace"
)

// maxDepth bounds recursion when converting nested JS values.
const maxDepth = 64

// toJS converts a namespace value into a value of this runtime.
func (e *Engine) toJS(v namespace.Value) (goja.Value, error) {
	switch v.Kind() {
	case namespace.KindNull:
		return goja.Null(), nil
	case namespace.KindBool:
		b, _ := v.AsBool()
		return e.vm.ToValue(b), nil
	case namespace.KindNumber:
		n, _ := v.AsNumber()
		return e.vm.ToValue(n), nil
	case namespace.KindText:
		s, _ := v.AsText()
		return e.vm.ToValue(s), nil
	case namespace.KindList:
		items, _ := v.AsList()
		vals := make([]any, len(items))
		for i, item := range items {
			jv, err := e.toJS(item)
			if err != nil {
				return nil, err
			}
			vals[i] = jv
		}
		return e.vm.NewArray(vals...), nil
	case namespace.KindMap:
		m, _ := v.AsMap()
		obj := e.vm.NewObject()
		for _, k := range m.Keys() {
			item, _ := m.Get(k)
			jv, err := e.toJS(item)
			if err != nil {
				return nil, err
			}
			if err := obj.Set(k, jv); err != nil {
				return nil, err
			}
		}
		return obj, nil
	case namespace.KindTable:
		t, _ := v.AsTable()
		return e.newTableObject(t), nil
	case namespace.KindBytes:
		b, _ := v.AsBytes()
		return e.newUint8Array(b)
	case namespace.KindOpaque:
		o, _ := v.AsOpaque()
		switch ref := o.Ref.(type) {
		case goja.Value:
			return ref, nil
		case *document.Document:
			return e.newPDFObject(ref), nil
		}
		return goja.Null(), nil
	}
	return nil, fmt.Errorf("unknown value kind %s", v.Kind())
}

func (e *Engine) newUint8Array(b []byte) (goja.Value, error) {
	buf := e.vm.NewArrayBuffer(append([]byte(nil), b...))
	return e.vm.New(e.vm.Get("Uint8Array"), e.vm.ToValue(buf))
}

// fromJS converts a runtime value into a namespace value. Values with no
// namespace kind become opaque; a cyclic container is marked opaque under
// its own type name so the enclosing value fails the serializability probe.
func (e *Engine) fromJS(v goja.Value) namespace.Value {
	return e.convert(v, make(map[*goja.Object]bool), 0)
}

func (e *Engine) convert(v goja.Value, stack map[*goja.Object]bool, depth int) namespace.Value {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return namespace.Null()
	}

	obj, isObj := v.(*goja.Object)
	if !isObj {
		switch x := v.Export().(type) {
		case bool:
			return namespace.Bool(x)
		case int64:
			return namespace.Number(float64(x))
		case float64:
			return namespace.Number(x)
		case string:
			return namespace.Text(x)
		}
		return namespace.OpaqueOf(primitiveTypeName(v), v)
	}

	if stack[obj] || depth > maxDepth {
		return namespace.OpaqueOf(e.typeName(obj), obj)
	}

	switch x := obj.Export().(type) {
	case *tableObject:
		return namespace.TableOf(x.t)
	case *pdfObject:
		return namespace.OpaqueOf(document.TypeName, x.doc)
	case *pageObject:
		return namespace.OpaqueOf("PdfPage", obj)
	}

	if _, ok := goja.AssertFunction(obj); ok {
		return namespace.OpaqueOf("Function", obj)
	}

	switch e.typeName(obj) {
	case "Array":
		stack[obj] = true
		defer delete(stack, obj)
		n := int(obj.Get("length").ToInteger())
		items := make([]namespace.Value, n)
		for i := 0; i < n; i++ {
			items[i] = e.convert(obj.Get(strconv.Itoa(i)), stack, depth+1)
		}
		return namespace.List(items...)
	case "Uint8Array":
		if b, ok := e.typedArrayBytes(obj); ok {
			return namespace.Bytes(b)
		}
	case "ArrayBuffer":
		if ab, ok := obj.Export().(goja.ArrayBuffer); ok {
			return namespace.Bytes(append([]byte(nil), ab.Bytes()...))
		}
	case "Object":
		if !e.isPlainObject(obj) {
			break
		}
		stack[obj] = true
		defer delete(stack, obj)
		m := namespace.NewMap()
		for _, k := range obj.Keys() {
			m.Set(k, e.convert(obj.Get(k), stack, depth+1))
		}
		return namespace.MapOf(m)
	}

	return namespace.OpaqueOf(e.typeName(obj), obj)
}

// typeName returns the constructor name of obj, falling back to its class.
func (e *Engine) typeName(obj *goja.Object) string {
	if ctor, ok := obj.Get("constructor").(*goja.Object); ok {
		if name := ctor.Get("name"); name != nil && !goja.IsUndefined(name) {
			if s := name.String(); s != "" {
				return s
			}
		}
	}
	if c := obj.ClassName(); c != "" {
		return c
	}
	return "Object"
}

func (e *Engine) isPlainObject(obj *goja.Object) bool {
	proto := obj.Prototype()
	if proto == nil {
		return true
	}
	objectProto := e.vm.Get("Object").ToObject(e.vm).Get("prototype")
	return proto.SameAs(objectProto)
}

func (e *Engine) typedArrayBytes(obj *goja.Object) ([]byte, bool) {
	buf, ok := obj.Get("buffer").(*goja.Object)
	if !ok {
		return nil, false
	}
	ab, ok := buf.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, false
	}
	off := int(obj.Get("byteOffset").ToInteger())
	n := int(obj.Get("byteLength").ToInteger())
	raw := ab.Bytes()
	if off < 0 || n < 0 || off+n > len(raw) {
		return nil, false
	}
	return append([]byte(nil), raw[off:off+n]...), true
}

// bytesArg accepts a string, Uint8Array or ArrayBuffer argument.
func (e *Engine) bytesArg(v goja.Value) ([]byte, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	if _, isObj := v.(*goja.Object); !isObj {
		if s, ok := v.Export().(string); ok {
			return []byte(s), true
		}
		return nil, false
	}
	b, ok := e.fromJS(v).AsBytes()
	return b, ok
}

func primitiveTypeName(v goja.Value) string {
	if _, ok := v.(*goja.Symbol); ok {
		return "Symbol"
	}
	if _, ok := v.Export().(*big.Int); ok {
		return "BigInt"
	}
	return "Number"
}

// display renders a value for print and for the cell's return value.
func (e *Engine) display(v goja.Value) string {
	return e.format(v, true, make(map[*goja.Object]bool), 0)
}

func (e *Engine) format(v goja.Value, top bool, seen map[*goja.Object]bool, depth int) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}

	obj, isObj := v.(*goja.Object)
	if !isObj {
		if s, ok := v.Export().(string); ok {
			if top {
				return s
			}
			return strconv.Quote(s)
		}
		return v.String()
	}

	switch x := obj.Export().(type) {
	case *tableObject:
		if top {
			return x.t.String()
		}
		return fmt.Sprintf("Table(%d rows x %d columns)", x.t.NumRows(), x.t.NumCols())
	case *pdfObject:
		return fmt.Sprintf("<PdfReader: %d pages>", x.doc.NumPages())
	case *pageObject:
		return fmt.Sprintf("<PdfPage %d>", x.index)
	}

	if _, ok := goja.AssertFunction(obj); ok {
		name := "(anonymous)"
		if nv := obj.Get("name"); nv != nil && nv.String() != "" {
			name = nv.String()
		}
		return "[Function: " + name + "]"
	}
	if seen[obj] {
		return "[Circular]"
	}
	if depth > 4 {
		return "[" + e.typeName(obj) + "]"
	}

	switch obj.ClassName() {
	case "Error":
		return obj.String()
	case "Date", "RegExp":
		return obj.String()
	}

	switch name := e.typeName(obj); name {
	case "Array":
		seen[obj] = true
		defer delete(seen, obj)
		n := int(obj.Get("length").ToInteger())
		parts := make([]string, n)
		for i := 0; i < n; i++ {
			parts[i] = e.format(obj.Get(strconv.Itoa(i)), false, seen, depth+1)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case "Uint8Array":
		n := obj.Get("length").ToInteger()
		return fmt.Sprintf("Uint8Array(%d)", n)
	default:
		seen[obj] = true
		defer delete(seen, obj)
		keys := obj.Keys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + e.format(obj.Get(k), false, seen, depth+1)
		}
		body := "{" + strings.Join(parts, ", ") + "}"
		if name != "Object" && name != "" {
			return name + " " + body
		}
		return body
	}
}
