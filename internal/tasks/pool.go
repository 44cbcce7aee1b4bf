// Package tasks runs fire-and-forget work on a bounded queue drained by a
// fixed set of workers.
package tasks

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("task queue full")
	ErrStopped   = errors.New("task pool stopped")
)

// Task is a unit of background work. The context is cancelled only when the
// pool is stopped with an expired deadline.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type Pool struct {
	queue   chan Task
	workers int
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
	stopped bool
}

func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:   make(chan Task, queueSize),
		workers: workers,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopped {
		return
	}
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.logger.Info("Task pool started",
		zap.Int("workers", p.workers),
		zap.Int("queue_size", cap(p.queue)))
}

// TrySubmit enqueues without blocking and returns ErrQueueFull when saturated.
func (p *Pool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new work, drains the queue and waits for the workers. If ctx
// expires first the running tasks are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	running := p.running
	p.mu.Unlock()

	if !running {
		// Nobody will drain the queue.
		p.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("Task pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks.
func (p *Pool) Pending() int {
	return len(p.queue)
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for task := range p.queue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked",
				zap.String("task", task.Name),
				zap.Any("panic", r))
		}
	}()

	if err := task.Run(p.ctx); err != nil {
		p.logger.Warn("Task failed",
			zap.String("task", task.Name),
			zap.Error(err))
	}
}
