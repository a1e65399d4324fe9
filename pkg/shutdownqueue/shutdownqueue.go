// Package shutdownqueue runs named cleanup tasks in LIFO order when the
// process stops.
//
// Components register their cleanup next to where they are built:
//
//	shutdownqueue.Add("http server", srv.Shutdown)
//
// and main drains the queue once with a deadline:
//
//	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
//	defer cancel()
//	err := shutdownqueue.Shutdown(ctx)
//
// Tasks run once, in reverse order of registration. Panics are recovered and
// reported as errors. Shutdown is idempotent.
package shutdownqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is a shutdown function. It should honor ctx.
type Task func(ctx context.Context) error

type entry struct {
	name string
	run  Task
}

// Queue is a LIFO list of shutdown tasks.
type Queue struct {
	mu     sync.Mutex
	tasks  []entry
	closed bool
	logger *slog.Logger
}

func New(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{tasks: make([]entry, 0, 8), logger: logger}
}

var std = New(nil)

// Add registers t under name on the process-wide queue.
func Add(name string, t Task) { std.Add(name, t) }

// Shutdown drains the process-wide queue.
func Shutdown(ctx context.Context) error { return std.Shutdown(ctx) }

// SetLogger replaces the logger of the process-wide queue.
func SetLogger(l *slog.Logger) {
	std.mu.Lock()
	defer std.mu.Unlock()

	if l != nil {
		std.logger = l
	}
}

// Add registers t to run on Shutdown. A nil task, or any task added after
// Shutdown started, is ignored.
func (q *Queue) Add(name string, t Task) {
	if t == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("shutdown task registered too late", "task", name)
		return
	}

	q.tasks = append(q.tasks, entry{name: name, run: t})
}

// Len reports how many tasks are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks)
}

// Shutdown runs every registered task in LIFO order. If ctx ends mid-drain
// the remaining tasks are skipped and the context error is joined with the
// task errors collected so far. Task errors are prefixed with the task name.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	tasks := q.tasks
	q.tasks = nil
	logger := q.logger
	q.mu.Unlock()

	var errs []error

	for i := len(tasks) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			skipped := make([]string, 0, i+1)
			for j := i; j >= 0; j-- {
				skipped = append(skipped, tasks[j].name)
			}

			logger.Error("shutdown deadline reached", "skipped", skipped)
			errs = append(errs, fmt.Errorf("shutdown canceled: %w", ctx.Err()))

			return errors.Join(errs...)
		}

		e := tasks[i]
		start := time.Now()

		err := runTask(ctx, e)
		if err != nil {
			logger.Error("shutdown task failed", "task", e.name, "error", err, "took", time.Since(start))
			errs = append(errs, err)

			continue
		}

		logger.Info("shutdown task done", "task", e.name, "took", time.Since(start))
	}

	return errors.Join(errs...)
}

func runTask(ctx context.Context, e entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic in shutdown task: %v", e.name, r)
		}
	}()

	if err := e.run(ctx); err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}

	return nil
}
