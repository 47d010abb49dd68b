package kernel

import (
	"bytes"
	"errors"
	"math"
	"strconv"

	"github.com/dop251/goja"

	"nbexec/internal/namespace"
	"nbexec/internal/table"
)

// registerTable installs the Table factory.
func (e *Engine) registerTable() error {
	factory := e.vm.NewObject()

	_ = factory.Set("from_records", func(call goja.FunctionCall) goja.Value {
		arr, ok := call.Argument(0).(*goja.Object)
		if !ok || e.typeName(arr) != "Array" {
			e.throw("TypeError", "Table.from_records() expects an array of objects")
		}
		n := int(arr.Get("length").ToInteger())
		records := make([]map[string]any, n)
		order := make([][]string, n)
		for i := 0; i < n; i++ {
			rec, ok := arr.Get(strconv.Itoa(i)).(*goja.Object)
			if !ok {
				e.throw("TypeError", "record %d is not an object", i)
			}
			keys := rec.Keys()
			m := make(map[string]any, len(keys))
			for _, k := range keys {
				m[k] = e.cellFromJS(rec.Get(k))
			}
			records[i] = m
			order[i] = keys
		}
		t, err := table.FromRecords(records, order)
		if err != nil {
			e.throw("ValueError", "%v", err)
		}
		return e.newTableObject(t)
	})

	_ = factory.Set("from_columns", func(call goja.FunctionCall) goja.Value {
		obj, ok := call.Argument(0).(*goja.Object)
		if !ok {
			e.throw("TypeError", "Table.from_columns() expects an object of arrays")
		}
		names := obj.Keys()
		values := make([][]any, len(names))
		for i, name := range names {
			col, ok := obj.Get(name).(*goja.Object)
			if !ok || e.typeName(col) != "Array" {
				e.throw("TypeError", "column %q is not an array", name)
			}
			n := int(col.Get("length").ToInteger())
			cells := make([]any, n)
			for j := 0; j < n; j++ {
				cells[j] = e.cellFromJS(col.Get(strconv.Itoa(j)))
			}
			values[i] = cells
		}
		t, err := table.FromColumns(names, values)
		if err != nil {
			e.throw("ValueError", "%v", err)
		}
		return e.newTableObject(t)
	})

	_ = factory.Set("read_csv", func(call goja.FunctionCall) goja.Value {
		data, ok := e.bytesArg(call.Argument(0))
		if !ok {
			e.throw("TypeError", "Table.read_csv() expects a string or Uint8Array")
		}
		t, err := table.ReadCSV(bytes.NewReader(data))
		if err != nil {
			e.throw("ValueError", "%v", err)
		}
		return e.newTableObject(t)
	})

	return e.defineHidden("Table", factory)
}

// cellFromJS converts a JS value into a table cell, raising TypeError for
// values that cannot live in a table.
func (e *Engine) cellFromJS(v goja.Value) any {
	nv := e.fromJS(v)
	switch nv.Kind() {
	case namespace.KindNull:
		return nil
	case namespace.KindBool:
		b, _ := nv.AsBool()
		return b
	case namespace.KindNumber:
		n, _ := nv.AsNumber()
		return n
	case namespace.KindText:
		s, _ := nv.AsText()
		return s
	}
	e.throw("TypeError", "unsupported table cell of type %s", nv.TypeName())
	return nil
}

func (e *Engine) cellToJS(c any) goja.Value {
	if c == nil {
		return goja.Null()
	}
	return e.vm.ToValue(c)
}

// tableObject exposes a *table.Table to cell code as a read-only object.
type tableObject struct {
	e *Engine
	t *table.Table
}

func (e *Engine) newTableObject(t *table.Table) *goja.Object {
	return e.vm.NewDynamicObject(&tableObject{e: e, t: t})
}

var tableProps = []string{"row_count", "column_count", "columns", "shape"}

func (o *tableObject) Get(key string) goja.Value {
	e, t := o.e, o.t
	switch key {
	case "row_count":
		return e.vm.ToValue(t.NumRows())
	case "column_count":
		return e.vm.ToValue(t.NumCols())
	case "shape":
		return e.vm.NewArray(t.NumRows(), t.NumCols())
	case "columns":
		return e.stringArray(t.Columns())
	case "column":
		return e.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			return o.column(call.Argument(0).String())
		})
	case "row":
		return e.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			i := int(call.Argument(0).ToInteger())
			if i < 0 {
				i += t.NumRows()
			}
			row, ok := t.Row(i)
			if !ok {
				e.throw("IndexError", "row index %d out of range for %d rows", call.Argument(0).ToInteger(), t.NumRows())
			}
			return o.record(row)
		})
	case "records":
		return e.vm.ToValue(func(goja.FunctionCall) goja.Value {
			rows := t.Rows()
			out := make([]any, len(rows))
			for i, r := range rows {
				out[i] = o.record(r)
			}
			return e.vm.NewArray(out...)
		})
	case "head":
		return e.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			n := 5
			if a := call.Argument(0); !goja.IsUndefined(a) {
				n = int(a.ToInteger())
			}
			return e.newTableObject(t.Head(n))
		})
	case "select":
		return e.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			names := e.namesArg(call.Arguments)
			sel, err := t.Select(names...)
			if err != nil {
				var missing *table.MissingColumnError
				if errors.As(err, &missing) {
					e.throw("KeyError", "%q", missing.Name)
				}
				e.throw("ValueError", "%v", err)
			}
			return e.newTableObject(sel)
		})
	case "filter":
		return e.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				e.throw("TypeError", "filter() expects a function")
			}
			out, err := t.Filter(func(i int, row []any) (bool, error) {
				res, err := fn(goja.Undefined(), o.record(row), e.vm.ToValue(i))
				if err != nil {
					return false, err
				}
				return res.ToBoolean(), nil
			})
			if err != nil {
				var ex *goja.Exception
				if errors.As(err, &ex) {
					panic(ex.Value())
				}
				panic(err)
			}
			return e.newTableObject(out)
		})
	case "sum", "mean":
		op := key
		return e.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			return e.vm.ToValue(o.aggregate(op, call.Argument(0).String()))
		})
	case "to_csv":
		return e.vm.ToValue(func(goja.FunctionCall) goja.Value {
			return e.vm.ToValue(string(t.CSV()))
		})
	case "toString":
		return e.vm.ToValue(func(goja.FunctionCall) goja.Value {
			return e.vm.ToValue(t.String())
		})
	}
	if _, ok := t.ColumnIndex(key); ok {
		return o.column(key)
	}
	return nil
}

func (o *tableObject) Set(string, goja.Value) bool { return false }

func (o *tableObject) Has(key string) bool {
	switch key {
	case "row_count", "column_count", "shape", "columns", "column", "row", "records",
		"head", "select", "filter", "sum", "mean", "to_csv", "toString":
		return true
	}
	_, ok := o.t.ColumnIndex(key)
	return ok
}

func (o *tableObject) Delete(string) bool { return false }

func (o *tableObject) Keys() []string { return tableProps }

func (o *tableObject) column(name string) goja.Value {
	cells, ok := o.t.Column(name)
	if !ok {
		o.e.throw("KeyError", "%q", name)
	}
	vals := make([]any, len(cells))
	for i, c := range cells {
		vals[i] = o.e.cellToJS(c)
	}
	return o.e.vm.NewArray(vals...)
}

func (o *tableObject) record(row []any) *goja.Object {
	rec := o.e.vm.NewObject()
	for i, name := range o.t.Columns() {
		_ = rec.Set(name, o.e.cellToJS(row[i]))
	}
	return rec
}

func (o *tableObject) aggregate(op, name string) float64 {
	cells, ok := o.t.Column(name)
	if !ok {
		o.e.throw("KeyError", "%q", name)
	}
	var sum float64
	var n int
	for _, c := range cells {
		switch x := c.(type) {
		case nil:
		case float64:
			sum += x
			n++
		default:
			o.e.throw("TypeError", "column %q is not numeric", name)
		}
	}
	if op == "mean" {
		if n == 0 {
			return math.NaN()
		}
		return sum / float64(n)
	}
	return sum
}

func (e *Engine) stringArray(items []string) *goja.Object {
	vals := make([]any, len(items))
	for i, s := range items {
		vals[i] = s
	}
	return e.vm.NewArray(vals...)
}

// namesArg accepts either variadic strings or a single array of strings.
func (e *Engine) namesArg(args []goja.Value) []string {
	if len(args) == 1 {
		if arr, ok := args[0].(*goja.Object); ok && e.typeName(arr) == "Array" {
			n := int(arr.Get("length").ToInteger())
			names := make([]string, n)
			for i := 0; i < n; i++ {
				names[i] = arr.Get(strconv.Itoa(i)).String()
			}
			return names
		}
	}
	names := make([]string, len(args))
	for i, a := range args {
		names[i] = a.String()
	}
	return names
}
