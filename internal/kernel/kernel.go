// Package kernel runs notebook cells written in JavaScript on embedded goja
// runtimes. Each call gets a fresh runtime whose global object is the
// cell's namespace.
package kernel

import (
	"context"

	"github.com/rs/zerolog"

	"nbexec/internal/capture"
	"nbexec/internal/namespace"
)

// Kernel hands out engines from a pool and runs cells on them.
type Kernel struct {
	pool   *Pool
	logger zerolog.Logger
}

// New creates a kernel backed by a pool built from cfg.
func New(cfg PoolConfig, logger zerolog.Logger) *Kernel {
	return &Kernel{
		pool:   NewPool(cfg),
		logger: logger.With().Str("component", "kernel").Logger(),
	}
}

// Acquire returns a fresh engine. Callers must Release it.
func (k *Kernel) Acquire(ctx context.Context) (*Engine, error) {
	e, err := k.pool.Acquire(ctx)
	if err != nil {
		k.logger.Warn().Err(err).Msg("acquire engine failed")
		return nil, err
	}
	return e, nil
}

// Release discards an engine.
func (k *Kernel) Release(e *Engine) {
	k.pool.Release(e)
}

// Stats reports pool statistics.
func (k *Kernel) Stats() PoolStats {
	return k.pool.Stats()
}

// Close shuts down the pool.
func (k *Kernel) Close() error {
	return k.pool.Close()
}

// Execute runs code against ns on a fresh engine and captures its output.
// limit bounds each captured stream; zero means unbounded.
func (k *Kernel) Execute(ctx context.Context, code string, ns *namespace.Namespace, limit int) (*Outcome, capture.Output, error) {
	e, err := k.Acquire(ctx)
	if err != nil {
		return nil, capture.Output{}, err
	}
	defer k.Release(e)

	var outcome *Outcome
	out, err := capture.Run(e, limit, func(capture.Streams) error {
		var execErr error
		outcome, execErr = e.Execute(ctx, code, ns)
		return execErr
	})
	return outcome, out, err
}
