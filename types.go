package frameloop

import "github.com/Swind/go-frameloop/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the frameloop package for most use cases.

// Task is the unit of work (Closure)
type Task = core.Task

// Job is asynchronous work submitted to the worker pool
type Job = core.Job

// TaskID identifies a scheduled phase task
type TaskID = core.TaskID

// Phase names a point in the frame cycle
type Phase = core.Phase

// Phase constants
const (
	PhaseUpdate   Phase = core.PhaseUpdate
	PhasePredraw  Phase = core.PhasePredraw
	PhasePostdraw Phase = core.PhasePostdraw
)

// InvalidTaskID is returned when a phase task could not be scheduled
const InvalidTaskID = core.InvalidTaskID

// ErrRejected is returned by blocking helpers when a submission is refused
var ErrRejected = core.ErrRejected

// TaskWithResult and ReplyWithResult for the generic task-and-reply helpers
type TaskWithResult[T any] = core.TaskWithResult[T]
type ReplyWithResult[T any] = core.ReplyWithResult[T]

// RunWithResult runs task on the app's worker pool and hands the result to
// reply on the update loop.
func RunWithResult[T any](a *App, queueKey string, task TaskWithResult[T], reply ReplyWithResult[T]) bool {
	return core.RunWithResult(a.pool, queueKey, task, reply)
}

// RunAndReplyOnPhase runs task on the app's worker pool and delivers the result
// on the given frame phase.
func RunAndReplyOnPhase[T any](a *App, queueKey string, phase Phase, task TaskWithResult[T], reply ReplyWithResult[T]) bool {
	return core.RunAndReplyOnPhase(a.pool, a.phases, queueKey, phase, task, reply)
}

// CurrentJob retrieves the executing job's identity from a worker context
var CurrentJob = core.CurrentJob

// CurrentPhase retrieves the draining phase from a phase task context
var CurrentPhase = core.CurrentPhase
