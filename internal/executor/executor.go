// Package executor runs one call end to end: input staging, the cell
// itself and output staging, all inside one output capture, followed by
// session-state filtering in session mode.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nbexec/internal/capture"
	"nbexec/internal/kernel"
	"nbexec/internal/kernelerr"
	"nbexec/internal/metrics"
	"nbexec/internal/namespace"
	"nbexec/internal/session"
	"nbexec/internal/staging"
)

// Result is the outcome of a call that ran to a terminal state.
type Result struct {
	ExecID  string
	Success bool
	// Output is everything written to stdout, including staging diagnostics.
	Output string
	// Error is the rendered failure, or the captured stderr on success.
	Error string
	// ErrorKind is the failure kind, empty on success.
	ErrorKind     string
	ExecutionTime time.Duration
	ReturnValue   string
	HasReturn     bool
	Uploaded      bool
	// FailedStage is empty on success.
	FailedStage Stage
	Truncated   bool
	// State is set in session mode, on failure too.
	State   namespace.State
	Profile ResourceProfile
}

// Executor runs calls. It is safe for concurrent use; each call takes its
// own runtime from the kernel.
type Executor struct {
	kernel *kernel.Kernel
	input  *staging.Input
	output *staging.Output
	cfg    Config
	logger zerolog.Logger
}

// New creates an executor.
func New(k *kernel.Kernel, in *staging.Input, out *staging.Output, cfg Config, logger zerolog.Logger) *Executor {
	def := DefaultConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = def.MaxTimeout
	}
	if cfg.StagingMinTimeout < 0 {
		cfg.StagingMinTimeout = 0
	}
	return &Executor{
		kernel: k,
		input:  in,
		output: out,
		cfg:    cfg,
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

// Execute runs req in the given mode.
//
// Every failure inside the call, including validation, staging and cell
// faults and recovered panics, is reported through a Result with Success
// false. The returned error is reserved for runtime-boundary failures:
// kernelerr.ErrTimeout, kernelerr.ErrInterrupted, kernelerr.ErrPoolExhausted
// and kernelerr.ErrClosed. No Result is returned with them.
func (x *Executor) Execute(ctx context.Context, req Request, mode Mode) (*Result, error) {
	start := time.Now()
	res := &Result{ExecID: uuid.NewString()}
	log := x.logger.With().Str("exec_id", res.ExecID).Str("mode", string(mode)).Logger()

	norm, err := x.cfg.normalize(req)
	if err != nil {
		x.fail(res, StageValidate, err, capture.Output{})
		x.finish(log, mode, res, start, len(req.Code))
		return res, nil
	}
	res.Profile = ProfileFor(norm.timeout)

	ns := namespace.New()
	if mode == ModeSession {
		restored, err := session.Restore(norm.PriorState)
		if err != nil {
			x.fail(res, StageValidate, err, capture.Output{})
			x.finish(log, mode, res, start, len(req.Code))
			return res, nil
		}
		ns = restored
	}

	ctx, cancel := context.WithTimeout(ctx, norm.timeout)
	defer cancel()

	engine, err := x.kernel.Acquire(ctx)
	if err != nil {
		return nil, x.boundary(ctx, log, mode, err, start)
	}
	defer x.kernel.Release(engine)

	metrics.RuntimesActive.Inc()
	defer metrics.RuntimesActive.Dec()

	r := &run{x: x, ctx: ctx, req: norm, engine: engine, ns: ns}
	out, runErr := r.captured()

	if isBoundary(runErr) || (runErr != nil && ctx.Err() != nil) {
		return nil, x.boundary(ctx, log, mode, runErr, start)
	}

	res.Output = out.Stdout
	res.Truncated = out.Truncated
	res.Uploaded = r.uploaded
	res.ReturnValue = r.returnValue
	res.HasReturn = r.hasReturn
	if runErr != nil {
		x.fail(res, r.stage, runErr, out)
	} else {
		res.Success = true
		res.Error = out.Stderr
	}
	if mode == ModeSession {
		res.State = session.Filter(r.ns)
	}

	x.finish(log, mode, res, start, len(req.Code))
	return res, nil
}

// run holds the per-call state threaded through the captured stages.
type run struct {
	x      *Executor
	ctx    context.Context
	req    normalized
	engine *kernel.Engine
	// ns is the latest namespace: prior state, then with staged input
	// merged, then as collected after the cell.
	ns *namespace.Namespace

	stage       Stage
	uploaded    bool
	returnValue string
	hasReturn   bool
}

// captured runs every stage inside one capture and turns a panic into an
// InternalError carrying the output captured before it.
func (r *run) captured() (out capture.Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var pe *capture.PanicError
			if e, ok := rec.(error); ok && errors.As(e, &pe) {
				out = pe.Output
				rec = pe.Value
			}
			r.x.logger.Error().Interface("panic", rec).Str("stage", string(r.stage)).Msg("recovered panic")
			err = &kernelerr.InternalError{Value: rec}
		}
	}()
	return capture.Run(r.engine, r.x.cfg.MaxOutputBytes, r.stages)
}

func (r *run) stages(streams capture.Streams) error {
	if r.req.InputURL != "" {
		r.stage = StageInput
		frag, desc, err := r.x.input.Materialize(r.ctx, r.req.InputURL, r.req.InputTypeHint)
		_, _ = io.WriteString(streams.Stdout, desc)
		if err != nil {
			return err
		}
		r.ns.Merge(frag)
	}

	r.stage = StageExecute
	outcome, err := r.engine.Execute(r.ctx, r.req.Code, r.ns)
	if outcome != nil {
		r.ns = outcome.Namespace
		r.returnValue = outcome.ReturnValue
		r.hasReturn = outcome.HasReturn
	}
	if err != nil {
		return err
	}

	if r.req.OutputURL != "" {
		r.stage = StageOutput
		n, uploaded, err := r.x.output.Materialize(r.ctx, r.req.OutputURL, r.ns)
		if err != nil {
			return err
		}
		r.uploaded = uploaded
		if uploaded {
			fmt.Fprintf(streams.Stdout, "Uploaded %s bytes\n", humanize.Comma(int64(n)))
		}
	}
	return nil
}

func isBoundary(err error) bool {
	return errors.Is(err, kernelerr.ErrTimeout) ||
		errors.Is(err, kernelerr.ErrInterrupted) ||
		errors.Is(err, kernelerr.ErrPoolExhausted) ||
		errors.Is(err, kernelerr.ErrClosed)
}

// boundary maps err to a runtime-boundary sentinel, records it and returns it.
func (x *Executor) boundary(ctx context.Context, log zerolog.Logger, mode Mode, err error, start time.Time) error {
	switch {
	case isBoundary(err):
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = kernelerr.ErrTimeout
	default:
		err = kernelerr.ErrInterrupted
	}

	outcome := "timeout"
	switch {
	case errors.Is(err, kernelerr.ErrPoolExhausted):
		outcome = "rejected"
	case errors.Is(err, kernelerr.ErrClosed), errors.Is(err, kernelerr.ErrInterrupted):
		outcome = "aborted"
	}
	elapsed := time.Since(start)
	metrics.ExecutionsTotal.WithLabelValues(string(mode), outcome).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	log.Warn().Err(err).Dur("duration", elapsed).Msg("call abandoned")
	return err
}

// fail records a failed stage on res. Captured stderr precedes the
// rendered failure so nothing written before the fault is lost.
func (x *Executor) fail(res *Result, stage Stage, err error, out capture.Output) {
	res.Success = false
	res.FailedStage = stage
	res.ErrorKind = kernelerr.KindOf(err)

	rendered := kernelerr.Render(err)
	if out.Stderr != "" {
		stderr := out.Stderr
		if !strings.HasSuffix(stderr, "\n") {
			stderr += "\n"
		}
		rendered = stderr + rendered
	}
	res.Error = rendered
}

func (x *Executor) finish(log zerolog.Logger, mode Mode, res *Result, start time.Time, codeLen int) {
	res.ExecutionTime = time.Since(start)

	outcome := "success"
	if !res.Success {
		outcome = "failure"
		metrics.FailedStagesTotal.WithLabelValues(string(res.FailedStage)).Inc()
	}
	metrics.ExecutionsTotal.WithLabelValues(string(mode), outcome).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(mode)).Observe(res.ExecutionTime.Seconds())
	if res.Profile.MemoryMB > 0 {
		metrics.ProfileMemoryBytes.Observe(float64(res.Profile.MemoryMB) * (1 << 20))
	}

	ev := log.Info()
	if !res.Success {
		ev = log.Warn().Str("failed_stage", string(res.FailedStage)).Str("error_kind", res.ErrorKind)
	}
	ev.Int("code_len", codeLen).
		Dur("duration", res.ExecutionTime).
		Bool("success", res.Success).
		Bool("uploaded", res.Uploaded).
		Float64("cpu", res.Profile.CPU).
		Int("memory_mb", res.Profile.MemoryMB).
		Dur("timeout", res.Profile.Timeout).
		Msg("call finished")
}
