package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// pollUntil acts as the poll goroutine until cond holds or timeout elapses.
func pollUntil(t *testing.T, p *WorkerPool, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		p.Poll()
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v (stats %+v)", timeout, p.Stats())
		}
		time.Sleep(time.Millisecond)
	}
}

// TestWorkerPool_KeyedJobsRunInOrder verifies the keyed "db" scenario
// Given: Three jobs sharing QueueKey "db", each appending its index to a shared slice
// When: The pool is polled until all complete
// Then: The slice is [0 1 2] and each OnComplete ran exactly once
func TestWorkerPool_KeyedJobsRunInOrder(t *testing.T) {
	// Arrange
	p := NewWorkerPool("workers", 4, nil)
	var order []int
	completions := make([]int, 3)

	for i := range 3 {
		ok := p.Run(Job{
			QueueKey: "db",
			Task: func(ctx context.Context) {
				time.Sleep(time.Duration(3-i) * 2 * time.Millisecond)
				order = append(order, i)
			},
			OnComplete: func() { completions[i]++ },
		})
		if !ok {
			t.Fatalf("Run(%d) rejected", i)
		}
	}

	// Act
	pollUntil(t, p, 2*time.Second, func() bool { return p.Stats().Completed == 3 })

	// Assert
	if fmt.Sprint(order) != "[0 1 2]" {
		t.Fatalf("order = %v, want [0 1 2]", order)
	}
	for i, n := range completions {
		if n != 1 {
			t.Errorf("OnComplete for job %d ran %d times, want 1", i, n)
		}
	}
}

// TestWorkerPool_AtMostOnePerKey verifies no two jobs with the same key overlap
// Given: 20 jobs spread over 2 keys and an unbounded pool
// When: All jobs run
// Then: The per-key concurrency never exceeded 1
func TestWorkerPool_AtMostOnePerKey(t *testing.T) {
	// Arrange
	p := NewWorkerPool("workers", 0, nil)
	var active [2]atomic.Int32
	var violations atomic.Int32

	for i := range 20 {
		k := i % 2
		p.RunFunc(fmt.Sprintf("key-%d", k), func(ctx context.Context) {
			if active[k].Add(1) > 1 {
				violations.Add(1)
			}
			time.Sleep(time.Millisecond)
			active[k].Add(-1)
		}, nil)
	}

	// Act
	pollUntil(t, p, 5*time.Second, func() bool { return p.Stats().Completed == 20 })

	// Assert
	if v := violations.Load(); v != 0 {
		t.Fatalf("observed %d overlapping jobs for the same key", v)
	}
}

// TestWorkerPool_BoundedConcurrency verifies the maxWorkers cap
// Given: A pool capped at N=3 and 2N unkeyed jobs that block on a gate
// When: The pool is polled while the gate is closed
// Then: Exactly N jobs run, the rest stay queued; all complete once the gate opens
func TestWorkerPool_BoundedConcurrency(t *testing.T) {
	// Arrange
	const n = 3
	p := NewWorkerPool("workers", n, nil)
	gate := make(chan struct{})
	var running, peak atomic.Int32

	for range 2 * n {
		p.RunFunc("", func(ctx context.Context) {
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			<-gate
			running.Add(-1)
		}, nil)
	}

	// Act
	pollUntil(t, p, 2*time.Second, func() bool { return running.Load() == n })
	p.Poll()
	stats := p.Stats()

	// Assert
	if stats.Running != n || stats.Queued != n {
		t.Fatalf("Stats() = %+v, want %d running and %d queued", stats, n, n)
	}

	close(gate)
	pollUntil(t, p, 2*time.Second, func() bool { return p.Stats().Completed == 2*n })
	if got := peak.Load(); got > n {
		t.Fatalf("peak concurrency = %d, want <= %d", got, n)
	}
}

// TestWorkerPool_PollReportsQueueDepth verifies the depth gauge follows jobs leaving the queue
// Given: A pool capped at one worker and three blocking jobs
// When: The pool is polled before and after the jobs finish
// Then: The recorded depth drops from 3 to 2 once one job starts, and to 0 at the end
func TestWorkerPool_PollReportsQueueDepth(t *testing.T) {
	// Arrange
	metrics := newTestMetrics()
	p := NewWorkerPool("workers", 1, &SchedulerConfig{Metrics: metrics})
	gate := make(chan struct{})
	for range 3 {
		p.RunFunc("", func(ctx context.Context) { <-gate }, nil)
	}
	if d, _ := metrics.Depth("workers"); d != 3 {
		t.Fatalf("depth after submit = %d, want 3", d)
	}

	// Act
	p.Poll()

	// Assert
	if d, _ := metrics.Depth("workers"); d != 2 {
		t.Fatalf("depth after first poll = %d, want 2", d)
	}

	close(gate)
	pollUntil(t, p, 2*time.Second, func() bool { return p.Stats().Completed == 3 })
	if d, _ := metrics.Depth("workers"); d != 0 {
		t.Fatalf("depth after completion = %d, want 0", d)
	}
}

// TestWorkerPool_KeyedJobDoesNotBlockOtherKeys verifies a held key is skipped, not waited on
func TestWorkerPool_KeyedJobDoesNotBlockOtherKeys(t *testing.T) {
	p := NewWorkerPool("workers", 2, nil)
	gate := make(chan struct{})
	var otherRan atomic.Bool

	p.RunFunc("db", func(ctx context.Context) { <-gate }, nil)
	p.RunFunc("db", func(ctx context.Context) {}, nil)
	p.RunFunc("net", func(ctx context.Context) { otherRan.Store(true) }, nil)

	pollUntil(t, p, 2*time.Second, otherRan.Load)

	close(gate)
	pollUntil(t, p, 2*time.Second, func() bool { return p.Stats().Completed == 3 })
}

// TestWorkerPool_OnCompleteRunsOnPollGoroutine verifies callbacks never run on workers
// Given: A job whose OnComplete records the goroutine it runs on
// When: A dedicated goroutine polls the pool
// Then: OnComplete ran on that goroutine, after the job was removed from the pool
func TestWorkerPool_OnCompleteRunsOnPollGoroutine(t *testing.T) {
	// Arrange
	p := NewWorkerPool("workers", 1, nil)
	pollerMarker := &struct{}{}
	var current atomic.Pointer[struct{}]

	var ranOnPoller, sawEmptyPool bool
	done := make(chan struct{})
	p.Run(Job{
		Task: func(ctx context.Context) {},
		OnComplete: func() {
			ranOnPoller = current.Load() == pollerMarker
			st := p.Stats()
			sawEmptyPool = st.Running == 0 && st.Queued == 0
			close(done)
		},
	})

	// Act
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			current.Store(pollerMarker)
			p.Poll()
			current.Store(nil)
			time.Sleep(time.Millisecond)
		}
	}()

	// Assert
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnComplete never ran")
	}
	if !ranOnPoller {
		t.Error("OnComplete did not run inside Poll")
	}
	if !sawEmptyPool {
		t.Error("job was still counted by the pool when OnComplete ran")
	}
}

// TestWorkerPool_JobContextCarriesInfo verifies CurrentJob inside a task
func TestWorkerPool_JobContextCarriesInfo(t *testing.T) {
	p := NewWorkerPool("media", 1, nil)
	var info JobInfo
	var ok bool

	p.Run(Job{Name: "scan", QueueKey: "db", Task: func(ctx context.Context) {
		info, ok = CurrentJob(ctx)
	}})
	pollUntil(t, p, 2*time.Second, func() bool { return p.Stats().Completed == 1 })

	if !ok || info.Name != "scan" || info.QueueKey != "db" || info.Pool != "media" || info.ID == 0 {
		t.Fatalf("CurrentJob = %+v, %v", info, ok)
	}
}

// TestWorkerPool_PanicReleasesKey verifies a panicking job does not starve its key
// Given: A keyed job that panics followed by another job with the same key
// When: The pool is polled
// Then: The panic is reported, both OnCompletes run and the second job executes
func TestWorkerPool_PanicReleasesKey(t *testing.T) {
	// Arrange
	panics := &testPanicHandler{}
	metrics := newTestMetrics()
	p := NewWorkerPool("workers", 2, &SchedulerConfig{PanicHandler: panics, Metrics: metrics})

	var completed atomic.Int32
	var secondRan atomic.Bool
	p.Run(Job{Name: "bad", QueueKey: "db", Task: func(ctx context.Context) { panic("boom") }, OnComplete: func() { completed.Add(1) }})
	p.Run(Job{QueueKey: "db", Task: func(ctx context.Context) { secondRan.Store(true) }, OnComplete: func() { completed.Add(1) }})

	// Act
	pollUntil(t, p, 2*time.Second, func() bool { return completed.Load() == 2 })

	// Assert
	if !secondRan.Load() {
		t.Fatal("second job did not run")
	}
	calls := panics.Calls()
	if len(calls) != 1 || calls[0].Source != "workers" || !calls[0].HasJob || calls[0].Job.Name != "bad" {
		t.Fatalf("panic calls = %+v", calls)
	}
	if metrics.Panics("workers") != 1 {
		t.Errorf("panic metric = %d, want 1", metrics.Panics("workers"))
	}
	last, ok := p.LastJob()
	if !ok || last.Panicked {
		t.Errorf("LastJob() = %+v, %v; want the second, non-panicked job", last, ok)
	}
	if recent := p.RecentJobs(2); len(recent) != 2 || !recent[1].Panicked {
		t.Errorf("RecentJobs(2) = %+v, want the panicked job second", recent)
	}
}

// TestWorkerPool_OnCompletePanicIsRecovered verifies a panicking callback does not break Poll
func TestWorkerPool_OnCompletePanicIsRecovered(t *testing.T) {
	panics := &testPanicHandler{}
	p := NewWorkerPool("workers", 0, &SchedulerConfig{PanicHandler: panics})

	var secondCompleted atomic.Bool
	p.Run(Job{Task: func(ctx context.Context) {}, OnComplete: func() { panic("callback") }})
	p.Run(Job{Task: func(ctx context.Context) {}, OnComplete: func() { secondCompleted.Store(true) }})

	pollUntil(t, p, 2*time.Second, func() bool { return p.Stats().Completed == 2 })

	if !secondCompleted.Load() {
		t.Fatal("second OnComplete did not run")
	}
	if calls := panics.Calls(); len(calls) != 1 || calls[0].PanicInfo != "callback" {
		t.Fatalf("panic calls = %+v", calls)
	}
}

// TestWorkerPool_Stop verifies rejection and the stop-complete condition
// Given: A pool with one running job
// When: Stop is called
// Then: New jobs are rejected; IsStopComplete turns true once the running job is reaped
func TestWorkerPool_Stop(t *testing.T) {
	// Arrange
	rejected := &testRejectedHandler{}
	metrics := newTestMetrics()
	p := NewWorkerPool("workers", 1, &SchedulerConfig{RejectedTaskHandler: rejected, Metrics: metrics})
	gate := make(chan struct{})
	var completed atomic.Bool
	p.RunFunc("", func(ctx context.Context) { <-gate }, func() { completed.Store(true) })
	p.Poll()

	// Act
	p.Stop()
	p.Stop()

	// Assert
	if !p.IsStopping() {
		t.Fatal("IsStopping() = false after Stop")
	}
	if p.RunFunc("", func(ctx context.Context) {}, nil) {
		t.Fatal("Run after Stop was accepted")
	}
	if reasons := rejected.Reasons(); len(reasons) != 1 || reasons[0] != "workers:stopped" {
		t.Fatalf("rejections = %v", reasons)
	}
	if got := metrics.Rejected("workers"); len(got) != 1 {
		t.Fatalf("rejection metrics = %v", got)
	}
	if p.IsStopComplete() {
		t.Fatal("IsStopComplete() = true with a running job")
	}

	close(gate)
	pollUntil(t, p, 2*time.Second, p.IsStopComplete)
	if !completed.Load() {
		t.Fatal("OnComplete of the in-flight job did not run")
	}
	p.WaitThreads()
}

func TestWorkerPool_IsStopCompleteRequiresStop(t *testing.T) {
	p := NewWorkerPool("workers", 1, nil)
	if p.IsStopComplete() {
		t.Fatal("idle pool reported stop complete before Stop")
	}
	p.Stop()
	if !p.IsStopComplete() {
		t.Fatal("idle stopped pool did not report stop complete")
	}
}

// TestWorkerPool_QueuedJobsStillRunAfterStop verifies Stop does not discard admitted jobs
func TestWorkerPool_QueuedJobsStillRunAfterStop(t *testing.T) {
	p := NewWorkerPool("workers", 1, nil)
	var ran atomic.Int32
	for range 3 {
		p.RunFunc("", func(ctx context.Context) { ran.Add(1) }, nil)
	}

	p.Stop()
	pollUntil(t, p, 2*time.Second, p.IsStopComplete)

	if ran.Load() != 3 {
		t.Fatalf("ran = %d, want 3", ran.Load())
	}
}

// TestWorkerPool_WaitThreads verifies WaitThreads joins started workers without reaping
func TestWorkerPool_WaitThreads(t *testing.T) {
	p := NewWorkerPool("workers", 0, nil)
	var finished atomic.Int32
	var callbacks atomic.Int32
	for range 4 {
		p.RunFunc("", func(ctx context.Context) {
			time.Sleep(5 * time.Millisecond)
			finished.Add(1)
		}, func() { callbacks.Add(1) })
	}
	p.Poll()

	p.WaitThreads()

	if finished.Load() != 4 {
		t.Fatalf("finished = %d after WaitThreads, want 4", finished.Load())
	}
	if callbacks.Load() != 0 {
		t.Fatalf("WaitThreads ran %d callbacks, want 0", callbacks.Load())
	}
}

func TestWorkerPool_NilTaskRejected(t *testing.T) {
	rejected := &testRejectedHandler{}
	p := NewWorkerPool("workers", 1, &SchedulerConfig{RejectedTaskHandler: rejected})

	if p.Run(Job{QueueKey: "db"}) {
		t.Fatal("Run with nil Task was accepted")
	}
	if reasons := rejected.Reasons(); len(reasons) != 1 || reasons[0] != "workers:nil task" {
		t.Fatalf("rejections = %v", reasons)
	}
	if p.Stats().Rejected != 1 {
		t.Errorf("Stats().Rejected = %d, want 1", p.Stats().Rejected)
	}
}

// TestWorkerPool_ReentrantPollPanics verifies the single-poller assertion
func TestWorkerPool_ReentrantPollPanics(t *testing.T) {
	p := NewWorkerPool("workers", 1, nil)
	var recovered atomic.Value
	var done atomic.Bool
	p.RunFunc("", func(ctx context.Context) {}, func() {
		defer func() {
			if r := recover(); r != nil {
				recovered.Store(r)
			}
			done.Store(true)
		}()
		p.Poll()
	})

	pollUntil(t, p, 2*time.Second, done.Load)

	if recovered.Load() == nil {
		t.Fatal("Poll from OnComplete did not panic")
	}
}

// TestWorkerPool_ConcurrentSubmitters verifies Run from many goroutines
func TestWorkerPool_ConcurrentSubmitters(t *testing.T) {
	p := NewWorkerPool("workers", 4, nil)
	const submitters, perSubmitter = 8, 25
	var wg sync.WaitGroup
	var ran atomic.Int32

	for s := range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perSubmitter {
				p.RunFunc(fmt.Sprintf("k%d", s%3), func(ctx context.Context) { ran.Add(1) }, nil)
			}
		}()
	}
	wg.Wait()

	pollUntil(t, p, 5*time.Second, func() bool { return p.Stats().Completed == submitters*perSubmitter })
	if ran.Load() != submitters*perSubmitter {
		t.Fatalf("ran = %d, want %d", ran.Load(), submitters*perSubmitter)
	}
	if st := p.Stats(); st.LockedKeys != 0 || st.Running != 0 || st.Queued != 0 {
		t.Fatalf("Stats() after completion = %+v", st)
	}
}

func TestNewWorkerPool_Defaults(t *testing.T) {
	p := NewWorkerPool("", -5, nil)
	if p.Name() != "worker-pool" {
		t.Errorf("Name() = %q, want worker-pool", p.Name())
	}
	if p.MaxWorkers() != 0 {
		t.Errorf("MaxWorkers() = %d, want 0", p.MaxWorkers())
	}
}
