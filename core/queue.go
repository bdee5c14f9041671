package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueCap = 16
	compactMinCap   = 64 // Don't shrink buffers smaller than this
)

// Phase names a point in the render/update cycle where queued tasks are drained.
type Phase int

const (
	// PhaseUpdate is drained by the update loop at the end of each simulation step.
	PhaseUpdate Phase = iota

	// PhasePredraw is drained by the render loop before drawing a frame.
	PhasePredraw

	// PhasePostdraw is drained by the render loop after drawing a frame.
	PhasePostdraw

	phaseCount
)

func (p Phase) String() string {
	switch p {
	case PhaseUpdate:
		return "update"
	case PhasePredraw:
		return "predraw"
	case PhasePostdraw:
		return "postdraw"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Phases returns every phase in drain-table order.
func Phases() []Phase {
	return []Phase{PhaseUpdate, PhasePredraw, PhasePostdraw}
}

type phaseEntry struct {
	id   TaskID
	task Task
}

// =============================================================================
// PhaseQueue: double-buffered one-shot task queue for a single frame phase
// =============================================================================

// PhaseQueue collects one-shot tasks from any goroutine and runs them when its
// home goroutine calls Drain.
//
// Schedule appends to an incoming buffer under a mutex. Drain swaps the incoming
// buffer with an empty one under the same mutex and executes the swapped-out
// entries without holding it, so tasks scheduled while draining run on the next
// Drain.
type PhaseQueue struct {
	phase    Phase
	registry *TaskRegistry

	mu       sync.Mutex
	incoming []phaseEntry
	closed   bool

	// draining is owned by the goroutine inside Drain.
	draining []phaseEntry
	active   atomic.Int32 // guard for the single-drainer assertion

	logger              Logger
	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler

	drains   atomic.Int64
	executed atomic.Int64
	rejected atomic.Int64
}

// NewPhaseQueue creates a queue for phase that registers its task IDs in registry.
func NewPhaseQueue(phase Phase, registry *TaskRegistry, config *SchedulerConfig) *PhaseQueue {
	if registry == nil {
		registry = NewTaskRegistry()
	}
	cfg := config.WithDefaults()
	return &PhaseQueue{
		phase:               phase,
		registry:            registry,
		incoming:            make([]phaseEntry, 0, defaultQueueCap),
		draining:            make([]phaseEntry, 0, defaultQueueCap),
		logger:              cfg.Logger,
		panicHandler:        cfg.PanicHandler,
		metrics:             cfg.Metrics,
		rejectedTaskHandler: cfg.RejectedTaskHandler,
	}
}

// Phase returns the phase this queue serves.
func (q *PhaseQueue) Phase() Phase { return q.phase }

// Schedule queues task for the next Drain and returns its ID.
// It is safe to call from any goroutine, including from a task running in Drain.
// A nil task, or a task scheduled after Close, yields InvalidTaskID.
func (q *PhaseQueue) Schedule(task Task) TaskID {
	if task == nil {
		q.reject("nil task")
		return InvalidTaskID
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.reject("closed")
		return InvalidTaskID
	}
	// Registering under the lock keeps Close and Schedule from interleaving.
	id := q.registry.Register()
	q.incoming = append(q.incoming, phaseEntry{id: id, task: task})
	depth := len(q.incoming)
	q.mu.Unlock()

	q.metrics.RecordQueueDepth(q.source(), depth)
	return id
}

// Drain runs every task scheduled before the call, in schedule order, and
// returns how many ran. It must only be called from the phase's home goroutine.
//
// Each task ID stays pending until its own task has returned.
func (q *PhaseQueue) Drain(ctx context.Context) int {
	// Assertion: Ensure strictly one drainer at a time
	if n := q.active.Add(1); n > 1 {
		q.active.Add(-1)
		panic(fmt.Sprintf("PhaseQueue(%s): concurrent Drain detected (count=%d)", q.phase, n))
	}
	defer q.active.Add(-1)

	q.mu.Lock()
	q.draining, q.incoming = q.incoming, q.draining
	q.mu.Unlock()

	batch := q.draining
	if len(batch) == 0 {
		return 0
	}
	q.drains.Add(1)

	runCtx := context.WithValue(ctx, phaseKey, q.phase)
	for i := range batch {
		q.runEntry(runCtx, batch[i])
		// Release the closure so captured state can be collected.
		batch[i] = phaseEntry{}
	}

	q.draining = q.resetBuffer(batch)
	q.executed.Add(int64(len(batch)))
	q.metrics.RecordQueueDepth(q.source(), q.Len())
	return len(batch)
}

func (q *PhaseQueue) runEntry(ctx context.Context, e phaseEntry) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.panicHandler.HandlePanic(ctx, q.source(), r, debug.Stack())
			q.metrics.RecordTaskPanic(q.source(), r)
		}
		q.registry.Done(e.id)
		q.metrics.RecordTaskDuration(q.source(), time.Since(start))
	}()
	e.task(ctx)
}

// resetBuffer empties buf for reuse, dropping oversized backing arrays.
func (q *PhaseQueue) resetBuffer(buf []phaseEntry) []phaseEntry {
	if cap(buf) >= compactMinCap && len(buf)*4 < cap(buf) {
		return make([]phaseEntry, 0, defaultQueueCap)
	}
	return buf[:0]
}

// Len returns the number of tasks waiting for the next Drain.
func (q *PhaseQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.incoming)
}

// IsTaskRunning reports whether id is still queued or executing.
func (q *PhaseQueue) IsTaskRunning(id TaskID) bool {
	return q.registry.IsPending(id)
}

// Close rejects every later Schedule. Tasks already queued still run on the next Drain.
func (q *PhaseQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.logger.Debug("phase queue closed", F("phase", q.phase.String()), F("pending", len(q.incoming)))
	}
}

// IsClosed returns true once Close has been called.
func (q *PhaseQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stats returns a snapshot of the queue counters.
func (q *PhaseQueue) Stats() PhaseStats {
	q.mu.Lock()
	pending, closed := len(q.incoming), q.closed
	q.mu.Unlock()

	return PhaseStats{
		Phase:    q.phase.String(),
		Pending:  pending,
		Drains:   q.drains.Load(),
		Executed: q.executed.Load(),
		Rejected: q.rejected.Load(),
		Closed:   closed,
	}
}

func (q *PhaseQueue) reject(reason string) {
	q.rejected.Add(1)
	q.rejectedTaskHandler.HandleRejectedTask(q.source(), reason)
	q.metrics.RecordTaskRejected(q.source(), reason)
}

func (q *PhaseQueue) source() string {
	return "phase:" + q.phase.String()
}
