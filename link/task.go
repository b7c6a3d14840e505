package link

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-wearlink/logger"
)

// TaskFunc is one iteration of a task managed by the TaskManager.
// It returns true to run again, false to end the task. ctx is cancelled
// when the TaskManager stops.
type TaskFunc func(ctx context.Context) bool

// TaskManager runs the long-lived goroutines of a Link, the transaction
// worker and the frame dispatcher, and stops them together.
//
//	mgr := NewTaskManager(ctx, logger)
//	_ = mgr.Start("worker", func(ctx context.Context) bool {
//	    ...
//	    return true
//	})
//	mgr.Stop()
//	mgr.Wait()
type TaskManager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protect ctx and cancel
	taskMu sync.RWMutex // protect task creation during Wait()
}

// NewTaskManager creates a TaskManager whose tasks stop when ctx is cancelled.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	mgr := &TaskManager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

func (mgr *TaskManager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs taskFunc in a loop on a new goroutine until it returns false
// or the manager stops.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc) error {
	mgr.logger.Debug("link: start task", "name", name)

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		mgr.runTaskLoop(name, taskFunc)
	})

	return starter.waitForStart()
}

// StartConsumer runs fn for every value received from ch until fn returns
// false, ch is closed or the manager stops.
func StartConsumer[T any](mgr *TaskManager, name string, ch <-chan T, fn func(v T) bool) error {
	mgr.logger.Debug("link: start consumer task", "name", name)

	if ch == nil {
		return fmt.Errorf("link: input channel of %s is nil", name)
	}

	starter, err := mgr.newTaskStarter(name)
	if err != nil {
		return err
	}

	starter.startTask(func() {
		for {
			ctx := mgr.getContext()
			select {
			case <-ctx.Done():
				return
			case v, ok := <-ch:
				if !ok {
					mgr.logger.Debug("link: input channel closed", "name", name)
					return
				}

				cont := true
				mgr.callWithRecover(name, func() {
					cont = fn(v)
				})
				if !cont {
					return
				}
			}
		}
	})

	return starter.waitForStart()
}

// callWithRecover calls fn with panic protection.
func (mgr *TaskManager) callWithRecover(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("link: panic in task", "name", name, "panic", r)
		}
	}()

	fn()
}

// Stop signals all running tasks.
func (mgr *TaskManager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all tasks to terminate. The manager can start new tasks
// afterwards.
func (mgr *TaskManager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// WaitTimeout is Wait bounded by d. It returns false when tasks are still
// running after d.
func (mgr *TaskManager) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		mgr.logger.Warn("link: tasks still running after stop", "task_count", mgr.TaskCount())
		return false
	}
}

// TaskCount returns the number of running tasks.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.count.Load())
}

type taskStarter struct {
	mgr     *TaskManager
	name    string
	started chan error
}

func (mgr *TaskManager) newTaskStarter(name string) (*taskStarter, error) {
	ctx := mgr.getContext()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("link: task manager already stopped, cannot start %s", name)
	default:
	}

	return &taskStarter{
		mgr:     mgr,
		name:    name,
		started: make(chan error, 1),
	}, nil
}

func (s *taskStarter) startTask(taskBody func()) {
	s.mgr.taskMu.RLock()
	defer s.mgr.taskMu.RUnlock()

	s.mgr.wg.Add(1)

	go func() {
		defer s.mgr.wg.Done()

		s.mgr.count.Add(1)
		s.started <- nil

		defer func() {
			s.mgr.count.Add(-1)
			s.mgr.logger.Debug("link: task terminated", "name", s.name, "task_count", s.mgr.TaskCount())
		}()

		taskBody()
	}()
}

func (s *taskStarter) waitForStart() error {
	ctx := s.mgr.getContext()

	select {
	case err := <-s.started:
		if err != nil {
			return fmt.Errorf("link: failed to start %s: %w", s.name, err)
		}

		return nil

	case <-time.After(5 * time.Second):
		return fmt.Errorf("link: timeout waiting for %s to start", s.name)

	case <-ctx.Done():
		return fmt.Errorf("link: context cancelled while starting %s", s.name)
	}
}

func (mgr *TaskManager) runTaskLoop(name string, taskFunc TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("link: panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		ctx := mgr.getContext()
		select {
		case <-ctx.Done():
			return
		default:
			if !taskFunc(ctx) {
				return
			}
		}
	}
}
