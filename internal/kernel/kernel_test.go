package kernel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nbexec/internal/capture"
	"nbexec/internal/kernelerr"
	"nbexec/internal/namespace"
	"nbexec/internal/table"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	k := New(PoolConfig{MaxSize: 2, AcquireTimeout: 5 * time.Second}, zerolog.Nop())
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func run(t *testing.T, k *Kernel, code string, ns *namespace.Namespace) (*Outcome, capture.Output, error) {
	t.Helper()
	return k.Execute(context.Background(), code, ns, 0)
}

func mustFault(t *testing.T, err error) *kernelerr.Fault {
	t.Helper()
	var f *kernelerr.Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected *kernelerr.Fault, got %T: %v", err, err)
	}
	return f
}

func TestExecute_Print(t *testing.T) {
	k := newTestKernel(t)

	outcome, out, err := run(t, k, `print("hi")`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Stdout != "hi\n" {
		t.Errorf("expected stdout %q, got %q", "hi\n", out.Stdout)
	}
	if outcome.HasReturn {
		t.Errorf("print should not produce a return value, got %q", outcome.ReturnValue)
	}
}

func TestExecute_PrintJoinsArguments(t *testing.T) {
	k := newTestKernel(t)

	_, out, err := run(t, k, `print("a", 1, true, null, [1, "b"])`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want := "a 1 true null [1, \"b\"]\n"
	if out.Stdout != want {
		t.Errorf("expected stdout %q, got %q", want, out.Stdout)
	}
}

func TestExecute_Streams(t *testing.T) {
	k := newTestKernel(t)

	code := `
stdout.write("out ")
stdout.flush()
console.log("log")
console.warn("careful")
stderr.write("raw")
`
	_, out, err := run(t, k, code, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Stdout != "out log\n" {
		t.Errorf("unexpected stdout %q", out.Stdout)
	}
	if out.Stderr != "careful\nraw" {
		t.Errorf("unexpected stderr %q", out.Stderr)
	}
}

func TestExecute_StreamWriteRejectsNonString(t *testing.T) {
	k := newTestKernel(t)

	_, _, err := run(t, k, `stdout.write(42)`, nil)
	f := mustFault(t, err)
	if f.ErrKind != "TypeError" {
		t.Errorf("expected TypeError, got %s", f.ErrKind)
	}
}

func TestExecute_FaultKeepsEarlierOutput(t *testing.T) {
	k := newTestKernel(t)

	outcome, out, err := run(t, k, "print(\"before\")\nx = 1\nnull.y", nil)
	f := mustFault(t, err)
	if f.ErrKind != "TypeError" {
		t.Errorf("expected TypeError, got %s", f.ErrKind)
	}
	if out.Stdout != "before\n" {
		t.Errorf("expected earlier output to survive, got %q", out.Stdout)
	}
	if outcome == nil {
		t.Fatal("expected an outcome alongside the fault")
	}
	if v, ok := outcome.Namespace.Get("x"); !ok || !v.Equal(namespace.Number(1)) {
		t.Errorf("expected x=1 in namespace after fault, got %v (%v)", v, ok)
	}
	if !strings.Contains(f.Trace, cellName) {
		t.Errorf("expected trace to mention %s, got %q", cellName, f.Trace)
	}
}

func TestExecute_OneShotIsolation(t *testing.T) {
	k := newTestKernel(t)

	if _, _, err := run(t, k, `secret = 41`, nil); err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}
	outcome, _, err := run(t, k, `typeof secret`, nil)
	if err != nil {
		t.Fatalf("second Execute failed: %v", err)
	}
	if outcome.ReturnValue != "undefined" {
		t.Errorf("expected variables not to leak between calls, got %q", outcome.ReturnValue)
	}
}

func TestExecute_ZeroDivision(t *testing.T) {
	k := newTestKernel(t)

	tests := []struct {
		name string
		code string
	}{
		{"division", "x = 1 / 0"},
		{"float division", "x = 1.5 / 0.0"},
		{"modulo", "x = 5 % 0"},
		{"compound", "x = 3\nx /= 0"},
		{"inside function", "function f(a, b) { return a / b }\nf(1, 0)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, k, tt.code, nil)
			f := mustFault(t, err)
			if f.ErrKind != "ZeroDivisionError" {
				t.Errorf("expected ZeroDivisionError, got %s: %s", f.ErrKind, f.Message)
			}
		})
	}
}

func TestExecute_DivisionStillWorks(t *testing.T) {
	k := newTestKernel(t)

	outcome, _, err := run(t, k, "x = 7 / 2\ny = 7 % 4\nx + y", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.ReturnValue != "6.5" {
		t.Errorf("expected 6.5, got %q", outcome.ReturnValue)
	}
}

func TestExecute_ReturnValue(t *testing.T) {
	k := newTestKernel(t)

	tests := []struct {
		code       string
		want       string
		wantReturn bool
	}{
		{"1 + 2", "3", true},
		{`"hi"`, "hi", true},
		{`[1, "a", null]`, `[1, "a", null]`, true},
		{`({a: 1, b: "x"})`, `{a: 1, b: "x"}`, true},
		{"function add(a, b) { return a + b }\nadd", "[Function: add]", true},
		{"x = 5", "", false},
		{"void 0", "", false},
	}
	for _, tt := range tests {
		outcome, _, err := run(t, k, tt.code, nil)
		if err != nil {
			t.Fatalf("Execute(%q) failed: %v", tt.code, err)
		}
		if outcome.HasReturn != tt.wantReturn {
			t.Errorf("Execute(%q): HasReturn = %v, want %v", tt.code, outcome.HasReturn, tt.wantReturn)
		}
		if outcome.ReturnValue != tt.want {
			t.Errorf("Execute(%q): ReturnValue = %q, want %q", tt.code, outcome.ReturnValue, tt.want)
		}
	}
}

func TestExecute_HoistsTopLevelBindings(t *testing.T) {
	k := newTestKernel(t)

	code := `
let count = 3
const label = "total"
class Point { constructor(x) { this.x = x } }
p = new Point(2)
`
	outcome, _, err := run(t, k, code, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	ns := outcome.Namespace

	if v, _ := ns.Get("count"); !v.Equal(namespace.Number(3)) {
		t.Errorf("expected count=3, got %v", v)
	}
	if v, _ := ns.Get("label"); !v.Equal(namespace.Text("total")) {
		t.Errorf("expected label=total, got %v", v)
	}
	if v, _ := ns.Get("Point"); v.TypeName() != "Function" {
		t.Errorf("expected Point to be an opaque Function, got %s", v.TypeName())
	}
	if v, _ := ns.Get("p"); v.TypeName() != "Point" {
		t.Errorf("expected p to be an opaque Point, got %s", v.TypeName())
	}
}

func TestExecute_HelpersStayHidden(t *testing.T) {
	k := newTestKernel(t)

	outcome, _, err := run(t, k, `x = 1`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	names := outcome.Namespace.Names()
	if len(names) != 1 || names[0] != "x" {
		t.Errorf("expected only x in namespace, got %v", names)
	}
}

func TestExecute_BindsNamespace(t *testing.T) {
	k := newTestKernel(t)

	ns := namespace.New()
	ns.Set("base", namespace.Number(10))
	ns.Set("tags", namespace.List(namespace.Text("a"), namespace.Text("b")))
	ns.Set("payload", namespace.Bytes([]byte{1, 2, 3}))
	ns.Set("__hidden", namespace.Number(1))

	outcome, _, err := run(t, k, "n = base + tags.length + payload.length\ntypeof __hidden", ns)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.ReturnValue != "undefined" {
		t.Errorf("reserved names must not be bound, got %q", outcome.ReturnValue)
	}
	if v, _ := outcome.Namespace.Get("n"); !v.Equal(namespace.Number(15)) {
		t.Errorf("expected n=15, got %v", v)
	}
	if v, _ := outcome.Namespace.Get("payload"); !v.Equal(namespace.Bytes([]byte{1, 2, 3})) {
		t.Errorf("expected payload bytes to round-trip, got %v", v)
	}
}

func TestExecute_TableBinding(t *testing.T) {
	k := newTestKernel(t)

	ns := namespace.New()
	ns.Set("file_content", namespace.Text("name,score\nann,3\nbob,5\ncid,\n"))

	code := `
df = Table.read_csv(file_content)
rows = df.row_count
total = df.sum("score")
top = df.filter(r => r.score > 4).column("name")
`
	outcome, _, err := run(t, k, code, ns)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	got := outcome.Namespace

	df, _ := got.Get("df")
	tbl, ok := df.AsTable()
	if !ok {
		t.Fatalf("expected df to be a table, got %s", df.TypeName())
	}
	if tbl.NumRows() != 3 {
		t.Errorf("expected 3 rows, got %d", tbl.NumRows())
	}
	if v, _ := got.Get("rows"); !v.Equal(namespace.Number(3)) {
		t.Errorf("expected rows=3, got %v", v)
	}
	if v, _ := got.Get("total"); !v.Equal(namespace.Number(8)) {
		t.Errorf("expected total=8, got %v", v)
	}
	if v, _ := got.Get("top"); !v.Equal(namespace.List(namespace.Text("bob"))) {
		t.Errorf("expected top=[bob], got %v", v)
	}
}

func TestExecute_TableFromNamespace(t *testing.T) {
	k := newTestKernel(t)

	tbl, err := table.New([]string{"a", "b"}, [][]any{{1.0, "x"}, {2.0, "y"}})
	if err != nil {
		t.Fatalf("table.New failed: %v", err)
	}
	ns := namespace.New()
	ns.Set("df", namespace.TableOf(tbl))

	outcome, _, err := run(t, k, `df.select("b").columns.join(",")`, ns)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.ReturnValue != "b" {
		t.Errorf("expected b, got %q", outcome.ReturnValue)
	}

	_, _, err = run(t, k, `df.select("missing")`, ns)
	if f := mustFault(t, err); f.ErrKind != "KeyError" {
		t.Errorf("expected KeyError, got %s", f.ErrKind)
	}

	_, _, err = run(t, k, `df.row(5)`, ns)
	if f := mustFault(t, err); f.ErrKind != "IndexError" {
		t.Errorf("expected IndexError, got %s", f.ErrKind)
	}
}

func TestExecute_CauseChain(t *testing.T) {
	k := newTestKernel(t)

	code := `throw new ValueError("bad input", { cause: new KeyError("missing") })`
	_, _, err := run(t, k, code, nil)
	f := mustFault(t, err)
	if f.ErrKind != "ValueError" || f.Message != "bad input" {
		t.Errorf("unexpected fault %s: %s", f.ErrKind, f.Message)
	}
	if f.Cause == nil || f.Cause.ErrKind != "KeyError" {
		t.Fatalf("expected KeyError cause, got %+v", f.Cause)
	}
	if !strings.Contains(kernelerr.Render(err), "KeyError") {
		t.Errorf("expected rendered error to include cause, got %q", kernelerr.Render(err))
	}
}

func TestExecute_ErrorKinds(t *testing.T) {
	k := newTestKernel(t)

	tests := []struct {
		code string
		kind string
		msg  string
	}{
		{`throw "boom"`, "Error", "boom"},
		{`class MyError extends Error {}; throw new MyError("mine")`, "MyError", "mine"},
		{`undefinedName + 1`, "ReferenceError", ""},
		{`x = (1 +`, "SyntaxError", ""},
		{`throw new IndexError("out")`, "IndexError", "out"},
	}
	for _, tt := range tests {
		_, _, err := run(t, k, tt.code, nil)
		f := mustFault(t, err)
		if f.ErrKind != tt.kind {
			t.Errorf("Execute(%q): kind = %s, want %s", tt.code, f.ErrKind, tt.kind)
		}
		if tt.msg != "" && f.Message != tt.msg {
			t.Errorf("Execute(%q): message = %q, want %q", tt.code, f.Message, tt.msg)
		}
	}
}

func TestExecute_CollectsOpaqueAndCyclicValues(t *testing.T) {
	k := newTestKernel(t)

	outcome, _, err := run(t, k, "a = {}\na.self = a\nd = new Date(0)", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	a, _ := outcome.Namespace.Get("a")
	if _, err := namespace.Probe(a); err == nil {
		t.Error("expected cyclic object to fail the probe")
	}
	d, _ := outcome.Namespace.Get("d")
	if d.TypeName() != "Date" {
		t.Errorf("expected Date, got %s", d.TypeName())
	}
}

func TestExecute_Timeout(t *testing.T) {
	k := newTestKernel(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	outcome, _, err := k.Execute(ctx, `while (true) {}`, nil, 0)
	if !errors.Is(err, kernelerr.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if outcome != nil {
		t.Error("expected no outcome after timeout")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}
}

func TestExecute_GetterLoopHonoursTimeout(t *testing.T) {
	k := newTestKernel(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := k.Execute(ctx, `x = { get a() { while (true) {} } }`, nil, 0)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, kernelerr.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute still running 5s after its deadline")
	}

	// the slot must come back to the pool
	if _, _, err := run(t, k, `1`, nil); err != nil {
		t.Fatalf("Execute after timeout failed: %v", err)
	}
}

func TestExecute_ThrowingGetterIsFault(t *testing.T) {
	k := newTestKernel(t)

	outcome, out, err := run(t, k, `x = { get a() { throw new RangeError("boom") } }; print("ok")`, nil)
	f := mustFault(t, err)
	if f.ErrKind != "RangeError" || f.Message != "boom" {
		t.Errorf("expected RangeError: boom, got %s: %s", f.ErrKind, f.Message)
	}
	if out.Stdout != "ok\n" {
		t.Errorf("expected stdout %q, got %q", "ok\n", out.Stdout)
	}
	if outcome == nil {
		t.Fatal("expected an outcome with the fault")
	}
	if outcome.HasReturn {
		t.Errorf("expected no return value, got %q", outcome.ReturnValue)
	}
}

func TestExecute_ThrowingGetterInReturnValue(t *testing.T) {
	k := newTestKernel(t)

	_, _, err := run(t, k, `({ get a() { throw new TypeError("bad getter") } })`, nil)
	f := mustFault(t, err)
	if f.ErrKind != "TypeError" {
		t.Errorf("expected TypeError, got %s", f.ErrKind)
	}
}

func TestExecute_Cancelled(t *testing.T) {
	k := newTestKernel(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, _, err := k.Execute(ctx, `while (true) {}`, nil, 0)
	if !errors.Is(err, kernelerr.ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}

func TestExecute_OutputLimit(t *testing.T) {
	k := newTestKernel(t)

	_, out, err := k.Execute(context.Background(), `for (let i = 0; i < 100; i++) print("line " + i)`, nil, 64)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !out.Truncated {
		t.Error("expected output to be truncated")
	}
	if !strings.HasSuffix(out.Stdout, capture.TruncatedMarker+"\n") {
		t.Errorf("expected truncation marker, got %q", out.Stdout)
	}
}

func TestEngine_SingleUse(t *testing.T) {
	e, err := NewEngine(0)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if _, err := e.Execute(context.Background(), `x = 1`, nil); err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}
	if _, err := e.Execute(context.Background(), `x = 2`, nil); !errors.Is(err, ErrEngineUsed) {
		t.Errorf("expected ErrEngineUsed, got %v", err)
	}
}

func TestEngine_RecursionLimit(t *testing.T) {
	e, err := NewEngine(100)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	_, err = e.Execute(context.Background(), "function f(n) { return f(n + 1) }\nf(0)", nil)
	if err == nil {
		t.Fatal("expected unbounded recursion to fail")
	}
}
