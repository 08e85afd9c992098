// Package dispatcher routes tasks to the HandlerExecutor registered for
// their kind.
package dispatcher

import (
	"context"
	"sync"

	"github.com/paperpilot/orchestrator/internal/apperrors"
	"github.com/paperpilot/orchestrator/internal/executor"
	"github.com/paperpilot/orchestrator/internal/task"
)

// Executor is the subset of HandlerExecutor the Dispatcher depends on.
type Executor interface {
	SupportedKinds() []task.Kind
	Submit(t *task.Task) executor.SubmitResult
	Start()
	Stop(ctx context.Context) error
}

// Dispatcher holds the kind -> HandlerExecutor mapping for the whole
// service and fans Start/Stop out to every distinct registered executor.
type Dispatcher struct {
	mu        sync.RWMutex
	byKind    map[task.Kind]Executor
	executors []Executor // distinct instances, in registration order

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{byKind: make(map[task.Kind]Executor)}
}

// Register binds kind to exec. kind must be among exec.SupportedKinds().
// The same exec instance may be registered for more than one kind.
func (d *Dispatcher) Register(kind task.Kind, exec Executor) error {
	supported := false
	for _, k := range exec.SupportedKinds() {
		if k == kind {
			supported = true
			break
		}
	}
	if !supported {
		return apperrors.New(apperrors.KindUnsupportedKind, string(kind))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.containsExecutor(exec) {
		d.executors = append(d.executors, exec)
	}
	d.byKind[kind] = exec
	return nil
}

func (d *Dispatcher) containsExecutor(exec Executor) bool {
	for _, e := range d.executors {
		if e == exec {
			return true
		}
	}
	return false
}

// Submit looks up the executor registered for t.Kind and delegates.
func (d *Dispatcher) Submit(t *task.Task) executor.SubmitResult {
	d.mu.RLock()
	exec, ok := d.byKind[t.Kind]
	d.mu.RUnlock()
	if !ok {
		return executor.SubmitUnsupportedKind
	}
	return exec.Submit(t)
}

// Start launches every distinct registered executor exactly once, even
// across repeated Start calls.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.mu.RLock()
		defer d.mu.RUnlock()
		for _, exec := range d.executors {
			exec.Start()
		}
	})
}

// Stop drains every distinct registered executor, used by the HTTP control
// surface's graceful shutdown path. Safe to call more than once.
func (d *Dispatcher) Stop(ctx context.Context) error {
	var stopErr error
	d.stopOnce.Do(func() {
		d.mu.RLock()
		executors := append([]Executor(nil), d.executors...)
		d.mu.RUnlock()
		for _, exec := range executors {
			if err := exec.Stop(ctx); err != nil {
				stopErr = err
			}
		}
	})
	return stopErr
}
