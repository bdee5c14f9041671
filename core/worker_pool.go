package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// jobEntry is one submitted Job. started is owned by the poll goroutine;
// done is closed by the worker goroutine when the task has returned.
type jobEntry struct {
	id      uint64
	name    string
	job     Job
	started bool
	done    chan struct{}
}

func (e *jobEntry) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// =============================================================================
// WorkerPool: poll-driven pool of transient worker goroutines
// =============================================================================

// WorkerPool runs blocking jobs on their own goroutines and reports their
// completion back on a single poll goroutine.
//
// Run may be called from any goroutine. Poll must be called periodically by one
// goroutine at a time (the poll goroutine): it starts admissible jobs and reaps
// finished ones, invoking their OnComplete callbacks synchronously.
//
// Admission rules:
//   - at most maxWorkers jobs run at once (maxWorkers <= 0 means unbounded)
//   - at most one job per non-empty QueueKey runs at once, in submission order
type WorkerPool struct {
	name       string
	maxWorkers int
	ctx        context.Context

	mu       sync.Mutex
	incoming []*jobEntry
	stopping bool
	nextID   uint64

	// Owned by the poll goroutine.
	jobs        []*jobEntry
	lockedKeys  map[string]struct{}
	threadCount int
	queuedDepth int          // last not-started count reported to Metrics
	polling     atomic.Int32 // guard for the single-poller assertion

	// Readable from any goroutine.
	outstanding atomic.Int64 // queued + running, decremented on reap
	running     atomic.Int32
	lockedCount atomic.Int32
	completed   atomic.Int64
	rejected    atomic.Int64

	wg      sync.WaitGroup
	history *jobHistory

	logger              Logger
	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler
}

// NewWorkerPool creates a pool. maxWorkers <= 0 disables the global cap;
// the QueueKey constraint always applies.
func NewWorkerPool(name string, maxWorkers int, config *SchedulerConfig) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), name, maxWorkers, config)
}

// NewWorkerPoolWithContext is NewWorkerPool with a base context for every job.
// The pool never cancels ctx itself: Stop only refuses new jobs.
func NewWorkerPoolWithContext(ctx context.Context, name string, maxWorkers int, config *SchedulerConfig) *WorkerPool {
	if name == "" {
		name = "worker-pool"
	}
	if maxWorkers < 0 {
		maxWorkers = 0
	}
	cfg := config.WithDefaults()
	return &WorkerPool{
		name:                name,
		maxWorkers:          maxWorkers,
		ctx:                 ctx,
		lockedKeys:          make(map[string]struct{}),
		history:             newJobHistory(cfg.HistoryCapacity),
		logger:              cfg.Logger,
		panicHandler:        cfg.PanicHandler,
		metrics:             cfg.Metrics,
		rejectedTaskHandler: cfg.RejectedTaskHandler,
	}
}

// Name returns the pool name.
func (p *WorkerPool) Name() string { return p.name }

// MaxWorkers returns the concurrency cap (0 = unbounded).
func (p *WorkerPool) MaxWorkers() int { return p.maxWorkers }

// Run queues job and returns immediately. It returns false, and the job will
// never run, if the pool has been stopped or job.Task is nil.
func (p *WorkerPool) Run(job Job) bool {
	if job.Task == nil {
		p.reject("nil task")
		return false
	}

	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		p.reject("stopped")
		return false
	}
	p.nextID++
	e := &jobEntry{
		id:   p.nextID,
		name: resolveTaskName(job.Task, job.Name),
		job:  job,
		done: make(chan struct{}),
	}
	p.incoming = append(p.incoming, e)
	p.outstanding.Add(1)
	depth := len(p.incoming)
	p.mu.Unlock()

	p.metrics.RecordQueueDepth(p.name, depth)
	return true
}

// RunFunc is Run for a bare task with an optional queue key and completion callback.
func (p *WorkerPool) RunFunc(queueKey string, task Task, onComplete func()) bool {
	return p.Run(Job{QueueKey: queueKey, Task: task, OnComplete: onComplete})
}

// Poll starts admissible jobs and reaps finished ones. It never blocks on a
// running job. OnComplete callbacks run here, one after another, after their
// job has been removed from the pool. Poll is not reentrant: calling it from an
// OnComplete callback panics.
func (p *WorkerPool) Poll() {
	// Assertion: Ensure strictly one poller at a time
	if n := p.polling.Add(1); n > 1 {
		p.polling.Add(-1)
		panic(fmt.Sprintf("WorkerPool(%s): concurrent Poll detected (count=%d)", p.name, n))
	}
	defer p.polling.Add(-1)

	p.mu.Lock()
	moved := len(p.incoming)
	p.jobs = append(p.jobs, p.incoming...)
	clear(p.incoming)
	p.incoming = p.incoming[:0]
	p.mu.Unlock()

	p.startAdmissible()
	p.reportQueued(moved > 0)
	for _, e := range p.reapFinished() {
		if e.job.OnComplete != nil {
			p.complete(e)
		}
	}
}

// startAdmissible walks jobs in submission order so the oldest job of each key
// wins the key.
func (p *WorkerPool) startAdmissible() {
	for _, e := range p.jobs {
		if e.started {
			continue
		}
		if p.maxWorkers > 0 && p.threadCount >= p.maxWorkers {
			return
		}
		if key := e.job.QueueKey; key != "" {
			if _, held := p.lockedKeys[key]; held {
				continue
			}
			p.lockedKeys[key] = struct{}{}
			p.lockedCount.Store(int32(len(p.lockedKeys)))
		}

		e.started = true
		p.threadCount++
		p.running.Store(int32(p.threadCount))
		p.wg.Add(1)
		go p.work(e)
	}
}

// reportQueued records the number of jobs waiting to start. Run reports the
// incoming depth, so after a swap the gauge is corrected even if unchanged.
func (p *WorkerPool) reportQueued(force bool) {
	queued := 0
	for _, e := range p.jobs {
		if !e.started {
			queued++
		}
	}
	if !force && queued == p.queuedDepth {
		return
	}
	p.queuedDepth = queued
	p.metrics.RecordQueueDepth(p.name, queued)
}

// reapFinished removes every finished job from the pool and returns them in
// submission order.
func (p *WorkerPool) reapFinished() []*jobEntry {
	var finished []*jobEntry
	kept := p.jobs[:0]
	for _, e := range p.jobs {
		if !e.started || !e.finished() {
			kept = append(kept, e)
			continue
		}

		p.threadCount--
		if key := e.job.QueueKey; key != "" {
			delete(p.lockedKeys, key)
		}
		finished = append(finished, e)
	}
	clear(p.jobs[len(kept):])
	p.jobs = kept

	if len(finished) > 0 {
		p.running.Store(int32(p.threadCount))
		p.lockedCount.Store(int32(len(p.lockedKeys)))
		p.completed.Add(int64(len(finished)))
		p.outstanding.Add(-int64(len(finished)))
	}
	return finished
}

func (p *WorkerPool) complete(e *jobEntry) {
	defer func() {
		if r := recover(); r != nil {
			ctx := context.WithValue(p.ctx, jobInfoKey, p.jobInfo(e))
			p.panicHandler.HandlePanic(ctx, p.name, r, debug.Stack())
			p.metrics.RecordTaskPanic(p.name, r)
		}
	}()
	e.job.OnComplete()
}

// work is the body of a worker goroutine.
func (p *WorkerPool) work(e *jobEntry) {
	defer p.wg.Done()
	defer close(e.done)

	ctx := context.WithValue(p.ctx, jobInfoKey, p.jobInfo(e))
	startedAt := time.Now()
	panicked := false

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				p.panicHandler.HandlePanic(ctx, p.name, r, debug.Stack())
				p.metrics.RecordTaskPanic(p.name, r)
			}
		}()
		e.job.Task(ctx)
	}()

	finishedAt := time.Now()
	p.history.Add(JobRecord{
		ID:         e.id,
		Name:       e.name,
		QueueKey:   e.job.QueueKey,
		Pool:       p.name,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startedAt),
		Panicked:   panicked,
	})
	p.metrics.RecordTaskDuration(p.name, finishedAt.Sub(startedAt))
}

func (p *WorkerPool) jobInfo(e *jobEntry) JobInfo {
	return JobInfo{ID: e.id, Name: e.name, QueueKey: e.job.QueueKey, Pool: p.name}
}

// =============================================================================
// Shutdown
// =============================================================================

// Stop refuses every later Run. Queued and running jobs are unaffected and
// still need Poll to start and reap them.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return
	}
	p.stopping = true
	p.logger.Info("worker pool stopping",
		F("pool", p.name),
		F("outstanding", p.outstanding.Load()))
}

// IsStopping returns true once Stop has been called.
func (p *WorkerPool) IsStopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// IsStopComplete returns true iff Stop was called and no job is queued or running.
func (p *WorkerPool) IsStopComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping && p.outstanding.Load() == 0
}

// WaitThreads blocks until every started worker goroutine has returned,
// without reaping them. It is a shutdown backstop: jobs never started are not
// waited for, and completion callbacks are not invoked.
func (p *WorkerPool) WaitThreads() {
	p.wg.Wait()
}

// =============================================================================
// Observability
// =============================================================================

// Stats returns a snapshot of the pool counters.
func (p *WorkerPool) Stats() PoolStats {
	running := int(p.running.Load())
	queued := int(p.outstanding.Load()) - running
	if queued < 0 {
		queued = 0
	}
	return PoolStats{
		Name:       p.name,
		MaxWorkers: p.maxWorkers,
		Queued:     queued,
		Running:    running,
		LockedKeys: int(p.lockedCount.Load()),
		Completed:  p.completed.Load(),
		Rejected:   p.rejected.Load(),
		Stopping:   p.IsStopping(),
	}
}

// RecentJobs returns up to limit finished job records, newest first.
func (p *WorkerPool) RecentJobs(limit int) []JobRecord {
	return p.history.Recent(limit)
}

// LastJob returns the most recently finished job record.
func (p *WorkerPool) LastJob() (JobRecord, bool) {
	return p.history.Last()
}

func (p *WorkerPool) reject(reason string) {
	p.rejected.Add(1)
	p.rejectedTaskHandler.HandleRejectedTask(p.name, reason)
	p.metrics.RecordTaskRejected(p.name, reason)
}
