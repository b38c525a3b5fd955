// Package worker consumes ingestion tasks from a broker and runs them on a
// bounded goroutine pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/raphaelgruber/kintel/internal/models"
	"github.com/raphaelgruber/kintel/internal/queue"
)

// Runner executes one task. *service.TaskManager implements it.
type Runner interface {
	Run(ctx context.Context, p models.TaskPayload) error
}

// Worker pulls deliveries off a broker and hands them to a pool.
type Worker struct {
	broker       queue.Broker
	runner       Runner
	pool         *ants.Pool
	logger       *slog.Logger
	retryBackoff time.Duration
	inflight     sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker) error

// WithPoolSize sets how many tasks run at once. Default is runtime.NumCPU().
func WithPoolSize(size int) Option {
	return func(w *Worker) error {
		if size < 1 {
			size = 1
		}
		if w.pool != nil {
			w.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return fmt.Errorf("create pool: %w", err)
		}
		w.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// New creates a worker. Call Release when done.
func New(broker queue.Broker, runner Runner, opts ...Option) (*Worker, error) {
	if broker == nil || runner == nil {
		return nil, errors.New("worker: broker and runner required")
	}
	pool, err := ants.NewPool(max(runtime.NumCPU(), 1))
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	w := &Worker{
		broker:       broker,
		runner:       runner,
		pool:         pool,
		logger:       slog.Default(),
		retryBackoff: time.Second,
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			w.Release()
			return nil, err
		}
	}
	w.logger = w.logger.With("component", "worker")
	return w, nil
}

// Start consumes until ctx is cancelled or the broker closes, then waits
// for in-flight tasks to finish. Running tasks are not cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if r, ok := w.broker.(queue.Recoverer); ok {
		if _, err := r.Recover(ctx); err != nil {
			return err
		}
	}
	w.logger.Info("worker started", "pool_size", w.pool.Cap())
	defer w.inflight.Wait()

	for {
		d, err := w.broker.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				w.logger.Info("worker stopping", "running", w.pool.Running())
				return nil
			}
			w.logger.Error("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.retryBackoff):
			}
			continue
		}

		w.inflight.Add(1)
		// blocks while the pool is full
		if err := w.pool.Submit(func() {
			defer w.inflight.Done()
			w.handle(context.WithoutCancel(ctx), d)
		}); err != nil {
			w.inflight.Done()
			w.logger.Error("failed to submit task", "task_id", d.Payload.TaskID, "error", err)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d *queue.Delivery) {
	log := w.logger.With("task_id", d.Payload.TaskID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r)
		}
		if err := d.Ack(ctx); err != nil {
			log.Error("failed to ack task", "error", err)
		}
	}()

	if err := w.runner.Run(ctx, d.Payload); err != nil {
		// already recorded as FAILURE by the runner
		log.Warn("task finished with error", "error", err)
	}
}

// Release frees the pool.
func (w *Worker) Release() {
	if w.pool != nil {
		w.pool.Release()
	}
}
