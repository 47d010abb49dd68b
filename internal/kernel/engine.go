package kernel

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dop251/goja"

	"nbexec/internal/capture"
	"nbexec/internal/kernelerr"
	"nbexec/internal/namespace"
)

//go:embed prelude.js
var preludeSource string

var (
	preludeOnce sync.Once
	prelude     *goja.Program
	preludeErr  error
)

func compiledPrelude() (*goja.Program, error) {
	preludeOnce.Do(func() {
		prelude, preludeErr = goja.Compile("prelude.js", preludeSource, true)
	})
	return prelude, preludeErr
}

// ErrEngineUsed is returned when Execute is called twice on one engine.
var ErrEngineUsed = errors.New("kernel: engine already used")

// Outcome is the terminal state of a cell, faulted or not.
type Outcome struct {
	// Namespace holds every non-reserved global binding after the cell ran.
	Namespace *namespace.Namespace
	// ReturnValue is the display string of the cell's final expression.
	ReturnValue string
	HasReturn   bool
}

// Engine is a single-use goja runtime with the cell helpers installed.
// It implements capture.Target.
type Engine struct {
	vm        *goja.Runtime
	sinks     capture.Sinks
	createdAt time.Time

	mu   sync.Mutex
	used bool
}

// NewEngine creates a runtime, runs the prelude and installs the helper
// bindings. maxCallStack bounds recursion depth; zero keeps the goja default.
func NewEngine(maxCallStack int) (*Engine, error) {
	prog, err := compiledPrelude()
	if err != nil {
		return nil, fmt.Errorf("compile prelude: %w", err)
	}

	vm := goja.New()
	if maxCallStack > 0 {
		vm.SetMaxCallStackSize(maxCallStack)
	}
	if _, err := vm.RunProgram(prog); err != nil {
		return nil, fmt.Errorf("run prelude: %w", err)
	}

	e := &Engine{vm: vm, createdAt: time.Now()}
	for _, register := range []func() error{
		e.registerStreams,
		e.registerConsole,
		e.registerTable,
	} {
		if err := register(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// SwapSinks implements capture.Target.
func (e *Engine) SwapSinks(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	return e.sinks.SwapSinks(stdout, stderr)
}

// Execute binds ns into the runtime's globals, runs code and collects the
// resulting namespace.
//
// A fault raised by the cell is returned as a *kernelerr.Fault together
// with a non-nil Outcome. When ctx ends first the runtime is interrupted
// and Execute returns kernelerr.ErrTimeout or kernelerr.ErrInterrupted with
// no Outcome.
func (e *Engine) Execute(ctx context.Context, code string, ns *namespace.Namespace) (*Outcome, error) {
	e.mu.Lock()
	if e.used {
		e.mu.Unlock()
		return nil, ErrEngineUsed
	}
	e.used = true
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, boundaryError(err)
	}

	if err := e.bind(ns); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.vm.Interrupt(boundaryError(ctx.Err()))
		case <-done:
		}
	}()
	defer func() {
		close(done)
		e.vm.ClearInterrupt()
	}()

	var (
		val   goja.Value
		fault error
	)
	src, info := instrument(code)
	prog, err := goja.Compile(cellName, src, false)
	if err != nil {
		fault = e.classify(err)
	} else {
		var runErr error
		val, runErr = e.vm.RunProgram(prog)
		if err, ok := interruption(runErr); ok {
			return nil, err
		}
		if runErr != nil {
			fault = e.classify(runErr)
		}
	}

	// Collection reads properties, so getters and proxy traps run here and
	// must stay interruptible.
	out := &Outcome{Namespace: namespace.New()}
	collectErr := e.guard(func() {
		e.collect(out.Namespace)
		if fault == nil && info.hasResult && val != nil && !goja.IsUndefined(val) {
			out.ReturnValue = e.display(val)
			out.HasReturn = true
		}
	})
	if collectErr != nil {
		if err, ok := interruption(collectErr); ok {
			return nil, err
		}
		out.ReturnValue, out.HasReturn = "", false
		if fault == nil {
			fault = e.classify(collectErr)
		}
	}
	return out, fault
}

// interruption reports whether err comes from vm.Interrupt and, if so,
// returns the boundary error it carried.
func interruption(err error) (error, bool) {
	var interrupted *goja.InterruptedError
	if !errors.As(err, &interrupted) {
		return nil, false
	}
	if v, ok := interrupted.Value().(error); ok {
		return v, true
	}
	return kernelerr.ErrInterrupted, true
}

// guard runs f and returns what a JS throw or an interrupt inside it
// panicked with. Go panics pass through.
func (e *Engine) guard(f func()) (err error) {
	defer func() {
		x := recover()
		if x == nil {
			return
		}
		switch v := x.(type) {
		case *goja.Exception:
			err = v
		case *goja.InterruptedError:
			err = v
		case goja.Value:
			err = e.describe(v, 0)
		case error:
			var interrupted *goja.InterruptedError
			if !errors.As(v, &interrupted) {
				panic(x)
			}
			err = v
		default:
			panic(x)
		}
	}()
	f()
	return nil
}

func boundaryError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return kernelerr.ErrTimeout
	}
	return kernelerr.ErrInterrupted
}

// bind installs every non-reserved binding of ns as an enumerable global.
func (e *Engine) bind(ns *namespace.Namespace) error {
	if ns == nil {
		return nil
	}
	global := e.vm.GlobalObject()
	for _, name := range ns.Names() {
		if namespace.IsReserved(name) {
			continue
		}
		v, _ := ns.Get(name)
		jv, err := e.toJS(v)
		if err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
		if err := global.Set(name, jv); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}

// collect snapshots the enumerable, non-reserved globals into ns.
func (e *Engine) collect(ns *namespace.Namespace) {
	global := e.vm.GlobalObject()
	for _, name := range global.Keys() {
		if namespace.IsReserved(name) {
			continue
		}
		ns.Set(name, e.fromJS(global.Get(name)))
	}
}

// throw panics with a new instance of the named error class. Host
// functions call it to raise typed errors inside the cell.
func (e *Engine) throw(kind, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ctor := e.vm.Get(kind)
	if ctor != nil && !goja.IsUndefined(ctor) {
		if obj, err := e.vm.New(ctor, e.vm.ToValue(msg)); err == nil {
			panic(obj)
		}
	}
	panic(e.vm.NewTypeError(msg))
}
