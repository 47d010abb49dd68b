package namespace

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"nbexec/internal/table"
)

// Tag keys of the JSON wire form for values that have no native JSON shape.
const (
	TableTag = "$table"
	BytesTag = "$bytes"
	MapTag   = "$map"
)

// ErrNotSerializable is returned by Encode for values with no JSON form.
var ErrNotSerializable = errors.New("value is not JSON-serializable")

// NotSerializableError names the offending type.
type NotSerializableError struct {
	TypeName string
	Path     string
}

func (e *NotSerializableError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s at %s is not JSON-serializable", e.TypeName, e.Path)
	}
	return fmt.Sprintf("%s is not JSON-serializable", e.TypeName)
}

// Is implements errors.Is.
func (e *NotSerializableError) Is(target error) bool {
	return target == ErrNotSerializable
}

// Encode converts v into plain JSON-compatible Go data: nil, bool, float64,
// string, []any and map[string]any. Tables and byte buffers become tagged
// objects. Opaque values and non-finite numbers fail.
func Encode(v Value) (any, error) {
	return encode(v, "")
}

func encode(v Value, path string) (any, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.b, nil
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return nil, &NotSerializableError{TypeName: "Number", Path: path}
		}
		return v.n, nil
	case KindText:
		return v.s, nil
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			e, err := encode(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case KindMap:
		out := make(map[string]any, v.m.Len())
		for _, k := range v.m.Keys() {
			item, _ := v.m.Get(k)
			e, err := encode(item, path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = e
		}
		if len(out) == 1 && isTag(v.m.Keys()[0]) {
			return map[string]any{MapTag: out}, nil
		}
		return out, nil
	case KindTable:
		if v.t.HasNonFinite() {
			return nil, &NotSerializableError{TypeName: "Table", Path: path}
		}
		rows := v.t.Rows()
		if rows == nil {
			rows = [][]any{}
		}
		return map[string]any{
			TableTag: map[string]any{
				"columns": v.t.Columns(),
				"rows":    rows,
			},
		}, nil
	case KindBytes:
		return map[string]any{BytesTag: base64.StdEncoding.EncodeToString(v.bytes)}, nil
	default:
		return nil, &NotSerializableError{TypeName: v.TypeName(), Path: path}
	}
}

func isTag(k string) bool {
	return k == TableTag || k == BytesTag || k == MapTag
}

// Decode converts JSON data produced by encoding/json into a Value.
// Objects carrying exactly one tag key are decoded as tables, bytes or an
// escaped map whose only key is itself a tag.
func Decode(data any) (Value, error) {
	switch x := data.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", x, err)
		}
		return Number(f), nil
	case string:
		return Text(x), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := Decode(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		if len(x) == 1 {
			if raw, ok := x[MapTag]; ok {
				inner, ok := raw.(map[string]any)
				if !ok {
					return Value{}, fmt.Errorf("%s must be an object", MapTag)
				}
				return decodeMap(inner)
			}
			if raw, ok := x[TableTag]; ok {
				return decodeTable(raw)
			}
			if raw, ok := x[BytesTag]; ok {
				s, ok := raw.(string)
				if !ok {
					return Value{}, fmt.Errorf("%s must be a base64 string", BytesTag)
				}
				b, err := base64.StdEncoding.DecodeString(s)
				if err != nil {
					return Value{}, fmt.Errorf("decode %s: %w", BytesTag, err)
				}
				return Bytes(b), nil
			}
		}
		return decodeMap(x)
	default:
		return Value{}, fmt.Errorf("unsupported JSON value of type %T", data)
	}
}

// decodeMap decodes x as a plain map without looking for tags at its top.
func decodeMap(x map[string]any) (Value, error) {
	m := NewMap()
	for _, k := range sortedKeys(x) {
		v, err := Decode(x[k])
		if err != nil {
			return Value{}, err
		}
		m.Set(k, v)
	}
	return MapOf(m), nil
}

func decodeTable(raw any) (Value, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Value{}, fmt.Errorf("%s must be an object", TableTag)
	}
	rawCols, _ := obj["columns"].([]any)
	columns := make([]string, len(rawCols))
	for i, c := range rawCols {
		s, ok := c.(string)
		if !ok {
			return Value{}, fmt.Errorf("%s column %d is not a string", TableTag, i)
		}
		columns[i] = s
	}

	rawRows, _ := obj["rows"].([]any)
	rows := make([][]any, len(rawRows))
	for i, r := range rawRows {
		cells, ok := r.([]any)
		if !ok {
			return Value{}, fmt.Errorf("%s row %d is not an array", TableTag, i)
		}
		for j, c := range cells {
			if n, ok := c.(json.Number); ok {
				f, err := n.Float64()
				if err != nil {
					return Value{}, err
				}
				cells[j] = f
			}
		}
		rows[i] = cells
	}

	t, err := table.New(columns, rows)
	if err != nil {
		return Value{}, fmt.Errorf("decode %s: %w", TableTag, err)
	}
	return TableOf(t), nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	e, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	dv, err := Decode(raw)
	if err != nil {
		return err
	}
	*v = dv
	return nil
}
