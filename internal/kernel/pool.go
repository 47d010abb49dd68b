package kernel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"nbexec/internal/kernelerr"
)

// PoolConfig holds configuration for the engine pool.
type PoolConfig struct {
	// MaxSize bounds the number of engines in use at once.
	MaxSize int
	// IdleTimeout is the duration after which a pre-warmed engine is evicted.
	IdleTimeout time.Duration
	// AcquireTimeout is the maximum time to wait for a free slot.
	AcquireTimeout time.Duration
	// MaxCallStack bounds recursion depth inside cells.
	MaxCallStack int
}

// DefaultPoolConfig returns a PoolConfig with sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:        4,
		IdleTimeout:    10 * time.Minute,
		AcquireTimeout: 30 * time.Second,
		MaxCallStack:   10000,
	}
}

// warmEngine wraps a pre-built engine with the time it was parked.
type warmEngine struct {
	engine   *Engine
	parkedAt time.Time
}

func (w *warmEngine) isExpired(idleTimeout time.Duration) bool {
	return time.Since(w.parkedAt) > idleTimeout
}

// Pool hands out single-use engines. Engines are never returned for reuse:
// Release discards the engine and a fresh one is built in the background,
// so no state can leak from one call into the next.
type Pool struct {
	warm           chan *warmEngine
	slots          chan struct{}
	maxSize        int
	idleTimeout    time.Duration
	acquireTimeout time.Duration
	maxCallStack   int
	createCount    atomic.Int64
	activeCount    atomic.Int64

	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}
	wg       sync.WaitGroup
}

// NewPool creates a pool and starts warming MaxSize engines.
func NewPool(cfg PoolConfig) *Pool {
	def := DefaultPoolConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}

	p := &Pool{
		warm:           make(chan *warmEngine, cfg.MaxSize),
		slots:          make(chan struct{}, cfg.MaxSize),
		maxSize:        cfg.MaxSize,
		idleTimeout:    cfg.IdleTimeout,
		acquireTimeout: cfg.AcquireTimeout,
		maxCallStack:   cfg.MaxCallStack,
		closedCh:       make(chan struct{}),
	}

	for i := 0; i < cfg.MaxSize; i++ {
		p.refill()
	}

	p.wg.Add(1)
	go p.cleanupLoop()

	return p
}

// Acquire reserves a slot and returns a fresh engine. It blocks until a
// slot frees up, ctx ends or the acquire timeout passes; the latter two
// yield kernelerr.ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*Engine, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, kernelerr.ErrClosed
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, kernelerr.ErrPoolExhausted
	case <-timer.C:
		return nil, kernelerr.ErrPoolExhausted
	case <-p.closedCh:
		return nil, kernelerr.ErrClosed
	}

	// Take a pre-warmed engine if one is ready, otherwise build one.
	for {
		var w *warmEngine
		select {
		case w = <-p.warm:
		default:
		}
		if w == nil {
			break
		}
		if w.isExpired(p.idleTimeout) {
			p.createCount.Add(-1)
			continue
		}
		p.activeCount.Add(1)
		return w.engine, nil
	}

	e, err := NewEngine(p.maxCallStack)
	if err != nil {
		<-p.slots
		return nil, err
	}
	p.createCount.Add(1)
	p.activeCount.Add(1)
	return e, nil
}

// Release discards a used engine, frees its slot and warms a replacement.
func (p *Pool) Release(e *Engine) {
	if e == nil {
		return
	}
	p.activeCount.Add(-1)
	p.createCount.Add(-1)
	<-p.slots
	p.refill()
}

// refill builds one engine in the background and parks it if there is room.
func (p *Pool) refill() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		e, err := NewEngine(p.maxCallStack)
		if err != nil {
			return
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return
		}
		select {
		case p.warm <- &warmEngine{engine: e, parkedAt: time.Now()}:
			p.createCount.Add(1)
		default:
		}
	}()
}

// Close shuts down the pool and drops all parked engines.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closedCh)
	p.mu.Unlock()

	p.wg.Wait()

	close(p.warm)
	for range p.warm {
		p.createCount.Add(-1)
	}

	return nil
}

// cleanupLoop periodically evicts idle engines.
func (p *Pool) cleanupLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictExpired()
		case <-p.closedCh:
			return
		}
	}
}

// evictExpired removes expired engines from the pool.
func (p *Pool) evictExpired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	var kept []*warmEngine
loop:
	for {
		select {
		case w := <-p.warm:
			if w.isExpired(p.idleTimeout) {
				p.createCount.Add(-1)
			} else {
				kept = append(kept, w)
			}
		default:
			break loop
		}
	}

	for _, w := range kept {
		select {
		case p.warm <- w:
		default:
			p.createCount.Add(-1)
		}
	}
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		MaxSize:     p.maxSize,
		Created:     int(p.createCount.Load()),
		Active:      int(p.activeCount.Load()),
		Warm:        len(p.warm),
		IdleTimeout: p.idleTimeout,
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	MaxSize     int
	Created     int
	Active      int
	Warm        int
	IdleTimeout time.Duration
}
