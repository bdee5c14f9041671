package core

import "time"

// JobRecord captures a completed job execution.
type JobRecord struct {
	ID         uint64
	Name       string
	QueueKey   string
	Pool       string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Panicked   bool
}

// PoolStats represents runtime observability state for a WorkerPool.
type PoolStats struct {
	Name       string
	MaxWorkers int
	Queued     int // submitted, not yet started
	Running    int // started, not yet reaped
	LockedKeys int
	Completed  int64
	Rejected   int64
	Stopping   bool
}

// PhaseStats represents runtime observability state for one PhaseQueue.
type PhaseStats struct {
	Phase    string
	Pending  int // scheduled, waiting for the next drain
	Drains   int64
	Executed int64
	Rejected int64
	Closed   bool
}

// LoopStats represents runtime observability state for a Loop.
type LoopStats struct {
	Name       string
	Period     time.Duration
	Iterations int64
	Overruns   int64
	Running    bool
}
