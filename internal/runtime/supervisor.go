package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
)

// TaskState is the lifecycle state of a supervised task.
type TaskState string

const (
	TaskRunning  TaskState = "running"
	TaskFinished TaskState = "finished"
	TaskFailed   TaskState = "failed"
	TaskCanceled TaskState = "canceled"
)

// TaskFunc is the body of a background task. It must return once ctx is done.
type TaskFunc func(ctx context.Context) error

// TaskInfo is a point-in-time copy of a task's bookkeeping.
type TaskInfo struct {
	Name      string    `json:"name"`
	State     TaskState `json:"state"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Runs      int64     `json:"runs"`
	Error     string    `json:"error,omitempty"`
}

type task struct {
	info   TaskInfo
	cancel context.CancelFunc
}

// ErrTaskExists is returned when a name is already registered.
var ErrTaskExists = errors.New("task already registered")

// ErrShutdown is returned when starting a task after Shutdown.
var ErrShutdown = errors.New("supervisor is shutting down")

// Supervisor owns the process's background loops: the write-back flusher,
// cooldown sweeps and limiter cleanup. Panics are contained per task.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor derives task contexts from parent.
func NewSupervisor(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel, tasks: make(map[string]*task)}
}

// Go starts fn under name.
func (s *Supervisor) Go(name string, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	if t, ok := s.tasks[name]; ok && t.info.State == TaskRunning {
		return fmt.Errorf("%w: %s", ErrTaskExists, name)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{
		info:   TaskInfo{Name: name, State: TaskRunning, StartedAt: time.Now().UTC()},
		cancel: cancel,
	}
	s.tasks[name] = t
	s.wg.Add(1)
	go s.run(ctx, t, fn)
	return nil
}

func (s *Supervisor) run(ctx context.Context, t *task, fn TaskFunc) {
	defer s.wg.Done()
	defer t.cancel()
	entry := logging.Component("runtime").WithField("task", t.info.Name)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		entry.Debug("task started")
		err = fn(ctx)
	}()

	s.mu.Lock()
	t.info.EndedAt = time.Now().UTC()
	switch {
	case err == nil:
		t.info.State = TaskFinished
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		t.info.State = TaskCanceled
	default:
		t.info.State = TaskFailed
		t.info.Error = err.Error()
	}
	state := t.info.State
	s.mu.Unlock()

	if state == TaskFailed {
		entry.WithError(err).Error("task failed")
	} else {
		entry.WithField("state", state).Debug("task exited")
	}
}

// Every runs fn on a fixed interval until shutdown. Errors are logged and
// do not stop the loop.
func (s *Supervisor) Every(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}
	return s.Go(name, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					logging.Component("runtime").WithFields(log.Fields{
						"task":  name,
						"error": err,
					}).Warn("periodic task run failed")
				}
				s.mu.Lock()
				if t, ok := s.tasks[name]; ok {
					t.info.Runs++
				}
				s.mu.Unlock()
			}
		}
	})
}

// Cancel stops one task without waiting for it.
func (s *Supervisor) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok || t.info.State != TaskRunning {
		return false
	}
	t.cancel()
	return true
}

// Shutdown cancels every task and waits until they exit or ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}

// Snapshot lists tasks sorted by name.
func (s *Supervisor) Snapshot() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
