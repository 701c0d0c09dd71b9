// Package worker runs job executions on a bounded set of goroutines.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// PoolConfig holds configuration for the pool.
type PoolConfig struct {
	Concurrency int
}

// Pool executes dispatched tasks with at most Concurrency running at once.
// Tasks dispatched under a key that is already queued or running are
// folded into the pending one.
type Pool struct {
	config PoolConfig
	logger *slog.Logger

	sem   chan struct{}
	group singleflight.Group
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	active atomic.Int64
}

// NewPool creates a pool; tasks receive a context that is cancelled only
// when Shutdown runs out of time.
func NewPool(config PoolConfig, logger *slog.Logger) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config: config,
		logger: logger,
		sem:    make(chan struct{}, config.Concurrency),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Dispatch schedules task under key. It reports false once the pool is
// shutting down.
func (p *Pool) Dispatch(key string, task func(ctx context.Context)) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.group.Do(key, func() (any, error) {
			select {
			case p.sem <- struct{}{}:
			case <-p.ctx.Done():
				return nil, nil
			}
			defer func() { <-p.sem }()

			p.active.Add(1)
			defer p.active.Add(-1)

			p.run(key, task)
			return nil, nil
		})
	}()
	return true
}

func (p *Pool) run(key string, task func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				slog.String("key", key),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	task(p.ctx)
}

// Active returns the number of tasks currently holding a slot.
func (p *Pool) Active() int64 {
	return p.active.Load()
}

// Shutdown stops accepting tasks and waits for in-flight ones. When ctx
// expires first the task context is cancelled and Shutdown still waits for
// the tasks to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.Int64("active", p.Active()))

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling running tasks")
		p.cancel()
		<-drained
		err = ctx.Err()
	}
	p.cancel()
	close(p.done)
	return err
}

// Done returns a channel that is closed when the pool has fully stopped.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}
