// Package taskpool runs fire-and-forget work on a supervised pool of workers.
package taskpool

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	apperrors "fundx/internal/errors"
	"fundx/internal/logging"
)

// Task is one unit of dispatched work.
type Task struct {
	FundID string
	Action string
	Run    func(ctx context.Context) error
}

// Pool manages a fixed set of workers. Failures, panics and rejections are
// logged here so callers can submit and forget.
type Pool struct {
	workers   int
	taskQueue chan Task
	logger    zerolog.Logger

	mu       sync.RWMutex
	stopped  bool
	started  bool
	workerWG sync.WaitGroup

	// pending counts accepted tasks that have not finished; idle is closed
	// whenever pending is zero
	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
	rejected  atomic.Uint64
	running   atomic.Int64
}

// New creates a pool. If workers is 0 it defaults to runtime.NumCPU().
func New(workers, queueSize int, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = workers * 16
	}
	idle := make(chan struct{})
	close(idle)
	return &Pool{
		workers:   workers,
		taskQueue: make(chan Task, queueSize),
		logger:    logging.ForComponent(logger, "taskpool"),
		idle:      idle,
	}
}

func (p *Pool) addPending() {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if p.pending == 0 {
		p.idle = make(chan struct{})
	}
	p.pending++
}

func (p *Pool) donePending() {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
}

// Start starts the workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.workerWG.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.workerWG.Done()
	for task := range p.taskQueue {
		p.execute(task)
	}
}

func (p *Pool) execute(task Task) {
	defer p.donePending()

	logger := logging.WithAction(logging.WithFund(p.logger, task.FundID), task.Action)
	ctx := logging.WithLogger(context.Background(), logger)

	p.running.Add(1)
	defer p.running.Add(-1)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			logger.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("Task panicked")
		}
	}()

	if err := task.Run(ctx); err != nil {
		p.failed.Add(1)
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Task failed")
		return
	}
	p.completed.Add(1)
	logger.Debug().Dur("duration", time.Since(start)).Msg("Task completed")
}

// Submit queues a task without waiting for it. It fails when the pool is
// stopped or the queue is full; rejections are logged.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.reject(task, apperrors.ErrPoolStopped)
		return apperrors.ErrPoolStopped
	}

	p.addPending()
	select {
	case p.taskQueue <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.donePending()
		err := fmt.Errorf("task queue full (%d)", cap(p.taskQueue))
		p.reject(task, err)
		return err
	}
}

func (p *Pool) reject(task Task, err error) {
	p.rejected.Add(1)
	logger := logging.WithAction(logging.WithFund(p.logger, task.FundID), task.Action)
	logger.Warn().Err(err).Msg("Task rejected")
}

// Stop stops accepting tasks. Queued and running tasks still finish; use
// Wait to block until they have.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.taskQueue)
	if !p.started {
		// Drain so Wait does not block on tasks nobody will run
		for range p.taskQueue {
			p.donePending()
		}
	}
}

// Wait blocks until every accepted task has finished or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	p.pendingMu.Lock()
	idle := p.idle
	p.pendingMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	stopped := p.stopped
	p.mu.RUnlock()

	return Stats{
		Workers:   p.workers,
		Stopped:   stopped,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
		Running:   int(p.running.Load()),
		Queued:    len(p.taskQueue),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Workers   int
	Stopped   bool
	Submitted uint64
	Completed uint64
	Failed    uint64
	Panicked  uint64
	Rejected  uint64
	Running   int
	Queued    int
}
