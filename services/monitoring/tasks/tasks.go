package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
)

// Task represents a scheduled task
type Task struct {
	ID          string
	Name        string
	Fn          func(context.Context) error
	Interval    time.Duration // For recurring tasks. Zero means run once
	LastRun     time.Time
	IsRecurring bool
}

// TaskScheduler manages all scheduled background tasks. Shutdown cancels the
// shared context and waits for every running task to return.
type TaskScheduler struct {
	tasks  map[string]*Task
	mu     sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *logging.Logger
}

// NewTaskScheduler creates a new TaskScheduler
func NewTaskScheduler(logger *logging.Logger) *TaskScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskScheduler{
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Context returns the scheduler-wide context. Background work spawned outside
// the scheduler (per-payment watchers) should derive from it so shutdown
// reaches them too.
func (ts *TaskScheduler) Context() context.Context {
	return ts.ctx
}

// AddTask adds a new task to the scheduler
func (ts *TaskScheduler) AddTask(id, name string, fn func(context.Context) error, interval time.Duration) (*Task, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, exists := ts.tasks[id]; exists {
		return nil, fmt.Errorf("task with ID %s already exists", id)
	}

	task := &Task{
		ID:          id,
		Name:        name,
		Fn:          fn,
		Interval:    interval,
		IsRecurring: interval > 0,
	}

	ts.tasks[id] = task
	ts.logger.Info(fmt.Sprintf("Added task %s to scheduler", id))
	return task, nil
}

// ScheduleTask schedules a task to run after a delay, and keeps re-running
// recurring tasks at their interval until the scheduler shuts down.
func (ts *TaskScheduler) ScheduleTask(id string, delay time.Duration) error {
	ts.mu.RLock()
	task, exists := ts.tasks[id]
	ts.mu.RUnlock()

	if !exists {
		return fmt.Errorf("task with ID %s not found", id)
	}

	ts.logger.Info(fmt.Sprintf("Scheduling task %s to run in %s", id, delay))

	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		for {
			select {
			case <-ts.ctx.Done():
				ts.logger.Info(fmt.Sprintf("Task %s context cancelled", id))
				return
			case <-timer.C:
				if err := task.Fn(ts.ctx); err != nil {
					ts.logger.Error(fmt.Sprintf("Task %s failed: %v", task.Name, err))
				}
				ts.touch(id)

				if !task.IsRecurring {
					return
				}
				timer.Reset(task.Interval)
			}
		}
	}()

	return nil
}

// Go runs fn on the scheduler's context and waits for it during Shutdown.
// Used for one-off background work such as per-payment watchers.
func (ts *TaskScheduler) Go(name string, fn func(context.Context) error) {
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		if err := fn(ts.ctx); err != nil {
			ts.logger.Error(fmt.Sprintf("Background task %s failed: %v", name, err))
		}
	}()
}

// Shutdown stops all tasks and blocks until running ones have returned, or
// the supplied context expires.
func (ts *TaskScheduler) Shutdown(ctx context.Context) error {
	ts.cancel()

	done := make(chan struct{})
	go func() {
		ts.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		ts.logger.Info("Task scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("task scheduler shutdown timed out: %w", ctx.Err())
	}
}

func (ts *TaskScheduler) touch(id string) {
	ts.mu.Lock()
	if task, exists := ts.tasks[id]; exists {
		task.LastRun = time.Now()
	}
	ts.mu.Unlock()
}
