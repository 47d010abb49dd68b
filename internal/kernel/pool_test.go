package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nbexec/internal/kernelerr"
)

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(PoolConfig{})
	defer pool.Close()

	stats := pool.Stats()
	if stats.MaxSize != 4 {
		t.Errorf("expected default MaxSize 4, got %d", stats.MaxSize)
	}
	if stats.IdleTimeout != 10*time.Minute {
		t.Errorf("expected default IdleTimeout 10m, got %v", stats.IdleTimeout)
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	pool := NewPool(PoolConfig{MaxSize: 2})
	defer pool.Close()

	ctx := context.Background()
	e1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	e2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if e1 == e2 {
		t.Error("expected distinct engines")
	}
	if got := pool.Stats().Active; got != 2 {
		t.Errorf("expected 2 active, got %d", got)
	}

	pool.Release(e1)
	pool.Release(e2)
	if got := pool.Stats().Active; got != 0 {
		t.Errorf("expected 0 active, got %d", got)
	}
}

func TestPool_EnginesAreNeverReused(t *testing.T) {
	pool := NewPool(PoolConfig{MaxSize: 1})
	defer pool.Close()

	ctx := context.Background()
	e1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	pool.Release(e1)

	e2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer pool.Release(e2)
	if e1 == e2 {
		t.Error("released engine was handed out again")
	}
}

func TestPool_AcquireTimeout(t *testing.T) {
	pool := NewPool(PoolConfig{MaxSize: 1, AcquireTimeout: 50 * time.Millisecond})
	defer pool.Close()

	e, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer pool.Release(e)

	_, err = pool.Acquire(context.Background())
	if !errors.Is(err, kernelerr.ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestPool_AcquireContextDone(t *testing.T) {
	pool := NewPool(PoolConfig{MaxSize: 1, AcquireTimeout: 5 * time.Second})
	defer pool.Close()

	e, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer pool.Release(e)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, kernelerr.ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestPool_Close(t *testing.T) {
	pool := NewPool(PoolConfig{MaxSize: 2})
	if err := pool.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := pool.Acquire(context.Background()); !errors.Is(err, kernelerr.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestPool_Concurrent(t *testing.T) {
	pool := NewPool(PoolConfig{MaxSize: 3, AcquireTimeout: 10 * time.Second})
	defer pool.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := pool.Acquire(context.Background())
			if err != nil {
				errs <- err
				return
			}
			defer pool.Release(e)
			if _, err := e.Execute(context.Background(), "x = 1 + 1", nil); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent use failed: %v", err)
	}
}

func TestWarmEngine_IsExpired(t *testing.T) {
	w := &warmEngine{parkedAt: time.Now().Add(-time.Hour)}
	if !w.isExpired(time.Minute) {
		t.Error("expected engine parked an hour ago to be expired")
	}
	w.parkedAt = time.Now()
	if w.isExpired(time.Minute) {
		t.Error("expected fresh engine not to be expired")
	}
}
