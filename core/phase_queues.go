package core

import (
	"context"
	"fmt"
)

// PhaseQueues groups the update, predraw and postdraw queues around one shared
// TaskRegistry, so a TaskID can be queried without knowing its phase.
type PhaseQueues struct {
	registry *TaskRegistry
	queues   [phaseCount]*PhaseQueue
}

// NewPhaseQueues creates the three frame-phase queues.
func NewPhaseQueues(config *SchedulerConfig) *PhaseQueues {
	cfg := config.WithDefaults()
	pq := &PhaseQueues{registry: NewTaskRegistry()}
	for _, phase := range Phases() {
		pq.queues[phase] = NewPhaseQueue(phase, pq.registry, cfg)
	}
	return pq
}

// Queue returns the queue for phase. It panics on an unknown phase.
func (pq *PhaseQueues) Queue(phase Phase) *PhaseQueue {
	if phase < 0 || phase >= phaseCount {
		panic(fmt.Sprintf("PhaseQueues: unknown phase %d", int(phase)))
	}
	return pq.queues[phase]
}

// Registry returns the registry shared by all three queues.
func (pq *PhaseQueues) Registry() *TaskRegistry { return pq.registry }

// Schedule queues task on phase. See PhaseQueue.Schedule.
func (pq *PhaseQueues) Schedule(phase Phase, task Task) TaskID {
	return pq.Queue(phase).Schedule(task)
}

// ScheduleUpdate queues task to run on the update loop after the next simulation step.
func (pq *PhaseQueues) ScheduleUpdate(task Task) TaskID {
	return pq.queues[PhaseUpdate].Schedule(task)
}

// SchedulePredraw queues task to run on the render loop before the next frame is drawn.
func (pq *PhaseQueues) SchedulePredraw(task Task) TaskID {
	return pq.queues[PhasePredraw].Schedule(task)
}

// SchedulePostdraw queues task to run on the render loop after the next frame is drawn.
func (pq *PhaseQueues) SchedulePostdraw(task Task) TaskID {
	return pq.queues[PhasePostdraw].Schedule(task)
}

// DrainUpdate runs the update queue. Call it only from the update loop goroutine.
func (pq *PhaseQueues) DrainUpdate(ctx context.Context) int {
	return pq.queues[PhaseUpdate].Drain(ctx)
}

// DrainPredraw runs the predraw queue. Call it only from the render loop goroutine.
func (pq *PhaseQueues) DrainPredraw(ctx context.Context) int {
	return pq.queues[PhasePredraw].Drain(ctx)
}

// DrainPostdraw runs the postdraw queue. Call it only from the render loop goroutine.
func (pq *PhaseQueues) DrainPostdraw(ctx context.Context) int {
	return pq.queues[PhasePostdraw].Drain(ctx)
}

// IsTaskRunning reports whether id, from any phase, is still queued or executing.
func (pq *PhaseQueues) IsTaskRunning(id TaskID) bool {
	return pq.registry.IsPending(id)
}

// ScheduleAndWait queues task on phase and blocks until it has run.
//
// It returns ErrRejected if the queue is closed, or ctx.Err() if ctx ends first
// (the task may still run later). Calling it from the phase's own home goroutine
// deadlocks until ctx ends.
func (pq *PhaseQueues) ScheduleAndWait(ctx context.Context, phase Phase, task Task) error {
	if task == nil {
		return fmt.Errorf("schedule on %s: nil task: %w", phase, ErrRejected)
	}

	done := make(chan struct{})
	id := pq.Schedule(phase, func(taskCtx context.Context) {
		defer close(done)
		task(taskCtx)
	})
	if !id.IsValid() {
		return fmt.Errorf("schedule on %s: %w", phase, ErrRejected)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes all three queues.
func (pq *PhaseQueues) Close() {
	for _, q := range pq.queues {
		q.Close()
	}
}

// Stats returns one snapshot per phase, in Phases() order.
func (pq *PhaseQueues) Stats() []PhaseStats {
	out := make([]PhaseStats, 0, phaseCount)
	for _, q := range pq.queues {
		out = append(out, q.Stats())
	}
	return out
}
