package serve

import (
	"context"
	"runtime/debug"

	pcerrors "github.com/ajitpratap0/pipecheck/pkg/errors"
)

// Outcome is how a task terminated: it either completed, with or without an
// error, or it panicked. The two failure kinds are kept apart because they
// are reported differently.
type Outcome struct {
	err        error
	panicked   bool
	panicValue interface{}
	stack      []byte
}

// Completed returns the outcome of a task that returned err
func Completed(err error) Outcome {
	return Outcome{err: err}
}

// Panicked returns the outcome of a task that panicked with value
func Panicked(value interface{}, stack []byte) Outcome {
	return Outcome{panicked: true, panicValue: value, stack: stack}
}

// Panicked reports whether the task terminated abnormally
func (o Outcome) Panicked() bool { return o.panicked }

// Err returns the error a completed task reported
func (o Outcome) Err() error { return o.err }

// PanicValue returns the value the task panicked with
func (o Outcome) PanicValue() interface{} { return o.panicValue }

// Stack returns the stack captured at the panic
func (o Outcome) Stack() []byte { return o.stack }

// OK reports whether the task completed without error
func (o Outcome) OK() bool { return !o.panicked && o.err == nil }

// Failure converts the outcome into the error reported for task index, or
// nil if the task succeeded.
func (o Outcome) Failure(index int) error {
	switch {
	case o.panicked:
		return pcerrors.TaskPanicked(index, o.panicValue)
	case o.err != nil:
		return pcerrors.TaskFailed(index, o.err)
	default:
		return nil
	}
}

// run calls fn and captures how it terminated
func run(ctx context.Context, fn func(context.Context) error) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Panicked(r, debug.Stack())
		}
	}()
	return Completed(fn(ctx))
}

// Task is an independently scheduled unit of work
type Task struct {
	index   int
	done    chan struct{}
	outcome Outcome
}

// Spawn starts fn on its own goroutine
func Spawn(ctx context.Context, index int, fn func(context.Context) error) *Task {
	t := &Task{index: index, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.outcome = run(ctx, fn)
	}()
	return t
}

// Index returns the spawn index
func (t *Task) Index() int { return t.index }

// Done is closed when the task has terminated
func (t *Task) Done() <-chan struct{} { return t.done }

// Join waits for the task to terminate and returns its outcome
func (t *Task) Join() Outcome {
	<-t.done
	return t.outcome
}

// JoinAll joins every task in slice order and returns the failure of the
// first task, in that order, that did not succeed. It never returns before
// all tasks have terminated. observe, if non-nil, sees every outcome.
func JoinAll(tasks []*Task, observe func(t *Task, o Outcome)) error {
	var first error
	for _, t := range tasks {
		o := t.Join()
		if observe != nil {
			observe(t, o)
		}
		if first == nil {
			first = o.Failure(t.index)
		}
	}
	return first
}
