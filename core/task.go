package core

import (
	"context"
	"errors"
)

// Task is the unit of work (Closure). Any payload is captured by the closure.
type Task func(ctx context.Context)

// ErrRejected is returned when work is submitted after its target stopped accepting it.
var ErrRejected = errors.New("frameloop: task rejected")

// ErrTaskPanicked is reported to replies whose task panicked instead of returning.
var ErrTaskPanicked = errors.New("frameloop: task panicked")

// =============================================================================
// Job: asynchronous work submitted to a WorkerPool
// =============================================================================

// Job describes one unit of blocking work for a WorkerPool.
//
// A Job is executed exactly once on its own worker goroutine. OnComplete, if set,
// runs afterwards on the goroutine that calls WorkerPool.Poll, never on the worker.
type Job struct {
	// Name is used for logs, history and metrics. Defaults to the function name.
	Name string

	// QueueKey serializes jobs sharing the same non-empty key.
	// Jobs with the same key start in submission order and never overlap.
	QueueKey string

	// Task is the work itself. It must always return, including on internal error:
	// a keyed job that never returns blocks its key forever.
	Task Task

	// OnComplete is invoked on the poll goroutine once the job has been reaped.
	OnComplete func()
}

// =============================================================================
// Context Helper
// =============================================================================

type jobInfoKeyType struct{}

var jobInfoKey jobInfoKeyType

// JobInfo identifies the job executing on the current worker goroutine.
type JobInfo struct {
	ID       uint64
	Name     string
	QueueKey string
	Pool     string
}

// CurrentJob returns the JobInfo stored in ctx by the WorkerPool, if any.
func CurrentJob(ctx context.Context) (JobInfo, bool) {
	if v := ctx.Value(jobInfoKey); v != nil {
		return v.(JobInfo), true
	}
	return JobInfo{}, false
}

type phaseKeyType struct{}

var phaseKey phaseKeyType

// CurrentPhase returns the frame phase being drained when ctx was handed to a phase task.
func CurrentPhase(ctx context.Context) (Phase, bool) {
	if v := ctx.Value(phaseKey); v != nil {
		return v.(Phase), true
	}
	return 0, false
}
