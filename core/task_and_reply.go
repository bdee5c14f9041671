package core

import (
	"context"
)

// TaskWithResult is a job body that produces a value.
type TaskWithResult[T any] func(ctx context.Context) (T, error)

// ReplyWithResult receives the value produced by a TaskWithResult.
type ReplyWithResult[T any] func(result T, err error)

// =============================================================================
// Task and Reply Pattern
// =============================================================================

// RunWithResult runs task on pool and hands its result to reply on the poll
// goroutine, as the job's completion callback.
//
// The captured result and err are written by the worker before it signals
// completion, and read by reply only after Poll has observed that signal, so
// reply always sees the final values.
//
// If task panics, reply still runs with the zero value and ErrTaskPanicked.
// Returns false if the pool refused the job.
//
// Example:
//
//	core.RunWithResult(pool, "db",
//	    func(ctx context.Context) (int, error) {
//	        return countTracks(ctx)
//	    },
//	    func(n int, err error) {
//	        library.SetTrackCount(n)
//	    },
//	)
func RunWithResult[T any](pool *WorkerPool, queueKey string, task TaskWithResult[T], reply ReplyWithResult[T]) bool {
	if task == nil {
		return pool.Run(Job{QueueKey: queueKey})
	}

	var result T
	err := ErrTaskPanicked

	job := Job{
		QueueKey: queueKey,
		Task: func(ctx context.Context) {
			result, err = task(ctx)
		},
	}
	if reply != nil {
		job.OnComplete = func() {
			reply(result, err)
		}
	}
	return pool.Run(job)
}

// RunAndReplyOnPhase runs task on pool and schedules reply onto phase from the
// worker goroutine once task returns. Use it when the result must reach a loop
// other than the poll goroutine, e.g. the render loop through PhasePredraw.
//
// If the phase queue has been closed by the time task returns, reply is dropped.
// Returns false if the pool refused the job.
func RunAndReplyOnPhase[T any](
	pool *WorkerPool,
	phases *PhaseQueues,
	queueKey string,
	phase Phase,
	task TaskWithResult[T],
	reply ReplyWithResult[T],
) bool {
	if task == nil {
		return pool.Run(Job{QueueKey: queueKey})
	}

	return pool.Run(Job{
		QueueKey: queueKey,
		Task: func(ctx context.Context) {
			var result T
			err := ErrTaskPanicked
			defer func() {
				if reply == nil {
					return
				}
				phases.Schedule(phase, func(context.Context) {
					reply(result, err)
				})
			}()
			result, err = task(ctx)
		},
	})
}
