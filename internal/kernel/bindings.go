package kernel

import (
	"io"
	"strings"

	"github.com/dop251/goja"
)

// defineHidden installs a non-enumerable global so the binding never shows
// up in the collected namespace.
func (e *Engine) defineHidden(name string, value any) error {
	return e.vm.GlobalObject().DefineDataProperty(name, e.vm.ToValue(value), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

func (e *Engine) stdout() io.Writer {
	w, _ := e.sinks.Current()
	return w
}

func (e *Engine) stderr() io.Writer {
	_, w := e.sinks.Current()
	return w
}

// formatArgs joins arguments with a space the way print does.
func (e *Engine) formatArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = e.display(a)
	}
	return strings.Join(parts, " ")
}

// registerStreams installs print, stdout and stderr.
func (e *Engine) registerStreams() error {
	if err := e.defineHidden("print", func(call goja.FunctionCall) goja.Value {
		_, _ = io.WriteString(e.stdout(), e.formatArgs(call.Arguments)+"\n")
		return goja.Undefined()
	}); err != nil {
		return err
	}

	for name, sink := range map[string]func() io.Writer{
		"stdout": e.stdout,
		"stderr": e.stderr,
	} {
		obj := e.vm.NewObject()
		stream := name
		w := sink
		_ = obj.Set("write", func(call goja.FunctionCall) goja.Value {
			arg := call.Argument(0)
			s, ok := arg.Export().(string)
			if !ok {
				e.throw("TypeError", "%s.write() argument must be a string, not %s", stream, e.display(arg))
			}
			_, _ = io.WriteString(w(), s)
			return e.vm.ToValue(len([]rune(s)))
		})
		_ = obj.Set("flush", func(goja.FunctionCall) goja.Value {
			return goja.Undefined()
		})
		if err := e.defineHidden(stream, obj); err != nil {
			return err
		}
	}
	return nil
}

// registerConsole installs console; log, info and debug go to stdout,
// warn and error to stderr.
func (e *Engine) registerConsole() error {
	console := e.vm.NewObject()

	toStdout := func(call goja.FunctionCall) goja.Value {
		_, _ = io.WriteString(e.stdout(), e.formatArgs(call.Arguments)+"\n")
		return goja.Undefined()
	}
	toStderr := func(call goja.FunctionCall) goja.Value {
		_, _ = io.WriteString(e.stderr(), e.formatArgs(call.Arguments)+"\n")
		return goja.Undefined()
	}

	_ = console.Set("log", toStdout)
	_ = console.Set("info", toStdout)
	_ = console.Set("debug", toStdout)
	_ = console.Set("warn", toStderr)
	_ = console.Set("error", toStderr)

	return e.defineHidden("console", console)
}
