// Package capture redirects a runtime's standard streams into bounded
// in-memory buffers for the duration of a call.
package capture

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"
)

// TruncatedMarker is appended to a stream whose output exceeded the limit.
const TruncatedMarker = "[output truncated]"

// Target is anything with swappable stdout and stderr sinks.
// SwapSinks installs the given writers and returns the previous ones.
type Target interface {
	SwapSinks(stdout, stderr io.Writer) (prevStdout, prevStderr io.Writer)
}

// Streams are the capture sinks handed to the captured function. Stages
// that run before user code write their diagnostics here.
type Streams struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Output is what was captured.
type Output struct {
	Stdout    string
	Stderr    string
	Truncated bool
}

// PanicError carries a panic raised inside Run together with the output
// captured before it. Run re-panics with a *PanicError after restoring
// the previous sinks.
type PanicError struct {
	Value  any
	Output Output
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during capture: %v", e.Value)
}

// Run installs fresh bounded sinks on target, calls fn and restores the
// previous sinks on every exit path. limit bounds each stream in bytes;
// zero or negative means unbounded.
func Run(target Target, limit int, fn func(Streams) error) (out Output, err error) {
	stdout := &boundedBuffer{limit: limit}
	stderr := &boundedBuffer{limit: limit}

	prevOut, prevErr := target.SwapSinks(stdout, stderr)

	defer func() {
		target.SwapSinks(prevOut, prevErr)
		out = Output{
			Stdout:    stdout.String(),
			Stderr:    stderr.String(),
			Truncated: stdout.Truncated() || stderr.Truncated(),
		}
		if r := recover(); r != nil {
			panic(&PanicError{Value: r, Output: out})
		}
	}()

	err = fn(Streams{Stdout: stdout, Stderr: stderr})
	return out, err
}

// boundedBuffer keeps at most limit bytes and silently drops the rest.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	remaining := b.limit - b.buf.Len()
	if b.truncated || remaining <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		// never split a rune
		cut := remaining
		for cut > 0 && !utf8.RuneStart(p[cut]) {
			cut--
		}
		b.buf.Write(p[:cut])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.truncated {
		return b.buf.String()
	}
	s := b.buf.String()
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s + TruncatedMarker + "\n"
}

// Sinks is a Target holding a pair of writers. Until something is swapped
// in, both discard their input.
type Sinks struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

// SwapSinks implements Target.
func (d *Sinks) SwapSinks(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prevOut, prevErr := d.stdout, d.stderr
	if prevOut == nil {
		prevOut = io.Discard
	}
	if prevErr == nil {
		prevErr = io.Discard
	}
	d.stdout, d.stderr = stdout, stderr
	return prevOut, prevErr
}

// Current returns the installed writers.
func (d *Sinks) Current() (io.Writer, io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, errw := d.stdout, d.stderr
	if out == nil {
		out = io.Discard
	}
	if errw == nil {
		errw = io.Discard
	}
	return out, errw
}
