package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"submission_service/pkg/logging"
	"submission_service/pkg/retry"
)

type Config struct {
	Workers     int
	Size        int
	MaxRetries  int
	BaseDelay   time.Duration
	TaskTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Size <= 0 {
		c.Size = 256
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Second
	}
	return c
}

type task struct {
	ctx  context.Context
	name string
	fn   func(ctx context.Context) error
}

// Queue runs best-effort side effects off the request path. Enqueue never
// blocks: when the buffer is full the task is dropped and logged.
type Queue struct {
	cfg    Config
	logger *logging.Logger
	tasks  chan task
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Int64
}

func New(cfg Config, logger *logging.Logger) *Queue {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Queue{
		cfg:    cfg,
		logger: logger,
		tasks:  make(chan task, cfg.Size),
	}
}

func (q *Queue) Start() {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for t := range q.tasks {
				q.run(t)
			}
		}()
	}
}

// Enqueue schedules fn. The task keeps ctx values such as the trace id but
// not its cancellation, so it outlives the request that produced it.
func (q *Queue) Enqueue(ctx context.Context, name string, fn func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(ctx, name, "queue closed")
		return false
	}
	select {
	case q.tasks <- task{ctx: context.WithoutCancel(ctx), name: name, fn: fn}:
		return true
	default:
		q.drop(ctx, name, "queue full")
		return false
	}
}

func (q *Queue) drop(ctx context.Context, name, reason string) {
	q.dropped.Add(1)
	q.logger.Warn(ctx, "background task dropped", zap.String("task", name), zap.String("reason", reason))
}

func (q *Queue) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Error(t.ctx, "background task panicked", zap.String("task", t.name), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(t.ctx, q.cfg.TaskTimeout)
	defer cancel()

	err := retry.Do(ctx, q.cfg.MaxRetries, q.cfg.BaseDelay, func() error {
		return t.fn(ctx)
	})
	if err != nil {
		q.failed.Add(1)
		q.logger.Warn(t.ctx, "background task failed", zap.String("task", t.name), zap.Error(err))
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish or for
// ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

func (q *Queue) Failed() int64 {
	return q.failed.Load()
}
