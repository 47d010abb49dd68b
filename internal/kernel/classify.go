package kernel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"nbexec/internal/kernelerr"
)

// maxCauseDepth bounds how far Error.cause chains are followed.
const maxCauseDepth = 8

// classify converts an error returned by goja into a *kernelerr.Fault.
func (e *Engine) classify(err error) error {
	var fault *kernelerr.Fault
	if errors.As(err, &fault) {
		return fault
	}

	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return &kernelerr.Fault{
			ErrKind: "SyntaxError",
			Message: strings.TrimSpace(syntax.Error()),
		}
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		f := e.describe(ex.Value(), 0)
		f.Trace = formatStack(ex.Stack())
		return f
	}

	return &kernelerr.Fault{ErrKind: "Error", Message: err.Error()}
}

// describe builds a fault from a thrown JS value using the prelude's
// __describe helper, following the cause chain.
func (e *Engine) describe(thrown goja.Value, depth int) *kernelerr.Fault {
	f := &kernelerr.Fault{ErrKind: "Error"}
	if thrown == nil {
		return f
	}

	fn, ok := goja.AssertFunction(e.vm.Get("__describe"))
	if !ok {
		f.Message = thrown.String()
		return f
	}
	res, err := fn(goja.Undefined(), thrown)
	if err != nil {
		f.Message = thrown.String()
		return f
	}
	info := res.ToObject(e.vm)
	f.ErrKind = info.Get("kind").String()
	f.Message = info.Get("message").String()

	if depth < maxCauseDepth && info.Get("hasCause").ToBoolean() {
		f.Cause = e.describe(info.Get("cause"), depth+1)
	}
	return f
}

func formatStack(frames []goja.StackFrame) string {
	var b strings.Builder
	for _, fr := range frames {
		pos := fr.Position()
		if pos.Filename == "prelude.js" {
			continue
		}
		name := fr.FuncName()
		if name == "" {
			name = "<module>"
		}
		src := fr.SrcName()
		if src == "" {
			src = "<native>"
		}
		if pos.Line > 0 {
			fmt.Fprintf(&b, "    at %s (%s:%d:%d)\n", name, src, pos.Line, pos.Column)
		} else {
			fmt.Fprintf(&b, "    at %s (%s)\n", name, src)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
