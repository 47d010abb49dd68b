package kernel

import (
	"reflect"
	"sort"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
)

// cellName is the source name reported in stack traces.
const cellName = "<cell>"

// cellInfo describes properties of a cell found while instrumenting it.
type cellInfo struct {
	// hasResult is set when the last top-level statement is an expression
	// other than an assignment; its value is the cell's return value.
	hasResult bool
}

// patch replaces src[pos:end] with text. Insertions have pos == end.
type patch struct {
	pos   int
	end   int
	text  string
	order int
}

// instrument rewrites a cell so that it behaves like a notebook cell:
//
//   - the right operand of every / and % (including /= and %=) is wrapped
//     in a check that raises ZeroDivisionError for a zero divisor;
//   - top-level let and const declarations become var so their bindings
//     land in the namespace;
//   - top-level class declarations are bound as namespace variables.
//
// Sources that fail to parse are returned unchanged so that compilation
// reports the syntax error against the original text.
func instrument(src string) (string, cellInfo) {
	prog, err := parser.ParseFile(nil, cellName, src, 0, parser.WithDisableSourceMaps)
	if err != nil {
		return src, cellInfo{}
	}

	var info cellInfo
	var patches []patch

	wrap := func(expr ast.Expression, helper string) {
		start, end := offset(expr.Idx0()), offset(expr.Idx1())
		if start < 0 || end > len(src) || start >= end {
			return
		}
		patches = append(patches,
			patch{pos: start, end: start, text: helper + "(", order: 1},
			patch{pos: end, end: end, text: ")", order: 0},
		)
	}

	w := &walker{seen: make(map[nodeKey]bool)}
	w.walk(reflect.ValueOf(prog), func(n any) {
		switch x := n.(type) {
		case *ast.BinaryExpression:
			switch x.Operator {
			case token.SLASH:
				wrap(x.Right, "__zdiv")
			case token.REMAINDER:
				wrap(x.Right, "__zmod")
			}
		case *ast.AssignExpression:
			switch x.Operator {
			case token.SLASH:
				wrap(x.Right, "__zdiv")
			case token.REMAINDER:
				wrap(x.Right, "__zmod")
			}
		}
	})

	for _, stmt := range prog.Body {
		switch x := stmt.(type) {
		case *ast.LexicalDeclaration:
			kw := x.Token.String()
			start := offset(x.Idx)
			if start >= 0 && strings.HasPrefix(src[start:], kw) {
				patches = append(patches, patch{pos: start, end: start + len(kw), text: "var", order: 1})
			}
		case *ast.ClassDeclaration:
			if x.Class == nil || x.Class.Name == nil {
				continue
			}
			start, end := offset(x.Idx0()), offset(x.Idx1())
			if start < 0 || end > len(src) {
				continue
			}
			patches = append(patches,
				patch{pos: start, end: start, text: "var " + x.Class.Name.Name.String() + " = ", order: 1},
				patch{pos: end, end: end, text: ";", order: 0},
			)
		}
	}

	if n := len(prog.Body); n > 0 {
		if es, ok := prog.Body[n-1].(*ast.ExpressionStatement); ok {
			if _, assign := es.Expression.(*ast.AssignExpression); !assign {
				info.hasResult = true
			}
		}
	}

	return apply(src, patches), info
}

func offset(idx file.Idx) int {
	return int(idx) - 1
}

func apply(src string, patches []patch) string {
	if len(patches) == 0 {
		return src
	}
	// At equal positions closing text goes before opening text.
	sort.SliceStable(patches, func(i, j int) bool {
		if patches[i].pos != patches[j].pos {
			return patches[i].pos < patches[j].pos
		}
		return patches[i].order < patches[j].order
	})

	var b strings.Builder
	b.Grow(len(src) + 16*len(patches))
	last := 0
	for _, p := range patches {
		if p.pos < last {
			continue
		}
		b.WriteString(src[last:p.pos])
		b.WriteString(p.text)
		last = p.end
	}
	b.WriteString(src[last:])
	return b.String()
}

var fileType = reflect.TypeOf((*file.File)(nil))

type nodeKey struct {
	t reflect.Type
	p uintptr
}

// walker visits every AST node reachable from the root exactly once.
type walker struct {
	seen map[nodeKey]bool
}

func (w *walker) walk(v reflect.Value, visit func(any)) {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() || v.Type() == fileType {
			return
		}
		key := nodeKey{t: v.Type(), p: v.Pointer()}
		if w.seen[key] {
			return
		}
		w.seen[key] = true
		if v.CanInterface() {
			visit(v.Interface())
		}
		w.walk(v.Elem(), visit)
	case reflect.Interface:
		if !v.IsNil() {
			w.walk(v.Elem(), visit)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			w.walk(v.Field(i), visit)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			w.walk(v.Index(i), visit)
		}
	}
}
