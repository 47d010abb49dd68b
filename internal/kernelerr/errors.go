// Package kernelerr provides the error taxonomy shared by the kernel, the
// staging layer and the executor.
// It exists so that staging and kernel can both raise typed failures without
// importing each other.
package kernelerr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for runtime-boundary failures.
var (
	// ErrTimeout indicates the call exceeded its timeout and was abandoned.
	ErrTimeout = errors.New("kernel: execution timeout")

	// ErrInterrupted indicates the runtime was interrupted by a cancelled context.
	ErrInterrupted = errors.New("kernel: execution interrupted")

	// ErrPoolExhausted indicates no runtime became available in time.
	ErrPoolExhausted = errors.New("kernel: runtime pool exhausted")

	// ErrClosed indicates the kernel or pool has been shut down.
	ErrClosed = errors.New("kernel: closed")
)

// Kinded is implemented by errors that carry a user-facing kind name.
type Kinded interface {
	Kind() string
}

// ValidationError indicates a malformed request, rejected before any work.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Kind implements Kinded.
func (e *ValidationError) Kind() string { return "ValidationError" }

// Is implements errors.Is for ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// ErrValidation is a sentinel for errors.Is matching.
var ErrValidation = &ValidationError{}

// TransferError indicates a failed download or upload.
type TransferError struct {
	Op     string // "download" or "upload"
	URL    string // already redacted
	Status int
	Cause  error
}

func (e *TransferError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(" failed")
	if e.URL != "" {
		b.WriteString(" for ")
		b.WriteString(e.URL)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.Status)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *TransferError) Unwrap() error {
	return e.Cause
}

// Kind implements Kinded.
func (e *TransferError) Kind() string { return "TransferError" }

// Is implements errors.Is for TransferError.
func (e *TransferError) Is(target error) bool {
	_, ok := target.(*TransferError)
	return ok
}

// ErrTransfer is a sentinel for errors.Is matching.
var ErrTransfer = &TransferError{}

// DecodingError indicates that downloaded bytes could not be decoded under
// the requested type hint.
type DecodingError struct {
	Hint  string
	Cause error
}

func (e *DecodingError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("cannot decode input as %s", e.Hint)
	}
	return fmt.Sprintf("cannot decode input as %s: %v", e.Hint, e.Cause)
}

func (e *DecodingError) Unwrap() error {
	return e.Cause
}

// Kind implements Kinded.
func (e *DecodingError) Kind() string { return "DecodingError" }

// Is implements errors.Is for DecodingError.
func (e *DecodingError) Is(target error) bool {
	_, ok := target.(*DecodingError)
	return ok
}

// ErrDecoding is a sentinel for errors.Is matching.
var ErrDecoding = &DecodingError{}

// SerializationError indicates output_content holds a value that has no
// byte representation.
type SerializationError struct {
	TypeName string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("cannot serialize value of type %s for upload; use text, a table or bytes", e.TypeName)
}

// Kind implements Kinded.
func (e *SerializationError) Kind() string { return "SerializationError" }

// Is implements errors.Is for SerializationError.
func (e *SerializationError) Is(target error) bool {
	_, ok := target.(*SerializationError)
	return ok
}

// ErrSerialization is a sentinel for errors.Is matching.
var ErrSerialization = &SerializationError{}

// Fault is an error raised by user code (or by a host binding on its
// behalf) while a cell was running.
type Fault struct {
	// ErrKind is the concrete error class name, e.g. "TypeError".
	ErrKind string
	Message string
	// Trace is the stack trace, one frame per line, possibly empty.
	Trace string
	// Cause is the next fault in the chain set through Error.cause.
	Cause *Fault
}

func (e *Fault) Error() string {
	if e.Message == "" {
		return e.ErrKind
	}
	return e.ErrKind + ": " + e.Message
}

func (e *Fault) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Kind implements Kinded.
func (e *Fault) Kind() string { return e.ErrKind }

// Is implements errors.Is for Fault.
func (e *Fault) Is(target error) bool {
	_, ok := target.(*Fault)
	return ok
}

// ErrFault is a sentinel for errors.Is matching.
var ErrFault = &Fault{}

// InternalError wraps a recovered panic from engine code.
type InternalError struct {
	Value any
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%v", e.Value)
}

// Kind implements Kinded.
func (e *InternalError) Kind() string { return "InternalError" }

// KindOf returns the kind name of err, falling back to "Error".
func KindOf(err error) string {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return "Error"
}

// Render formats err as "<Kind>: <message>" followed by the trace and any
// "Caused by:" lines.
func Render(err error) string {
	if err == nil {
		return ""
	}

	var f *Fault
	if errors.As(err, &f) {
		return renderFault(f)
	}

	var k Kinded
	if errors.As(err, &k) {
		return k.Kind() + ": " + err.Error()
	}
	return "Error: " + err.Error()
}

func renderFault(f *Fault) string {
	var b strings.Builder
	for depth := 0; f != nil; depth++ {
		if depth > 0 {
			b.WriteString("\nCaused by: ")
		}
		if f.Message != "" {
			b.WriteString(f.ErrKind)
			b.WriteString(": ")
			b.WriteString(f.Message)
		} else {
			b.WriteString(f.ErrKind)
		}
		if t := strings.TrimRight(f.Trace, "\n"); t != "" {
			b.WriteString("\n")
			b.WriteString(t)
		}
		f = f.Cause
		// Cause chains built in JS can be cyclic.
		if depth > 16 {
			break
		}
	}
	return b.String()
}
