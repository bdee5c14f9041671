package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Swind/go-frameloop/core"
)

type poolStub struct {
	stats core.PoolStats
}

func (s poolStub) Stats() core.PoolStats { return s.stats }

type phasesStub struct {
	stats []core.PhaseStats
}

func (s phasesStub) Stats() []core.PhaseStats { return s.stats }

type freezeStub struct {
	state core.FreezeState
}

func (s freezeStub) State() core.FreezeState { return s.state }

func TestSnapshotPoller_CollectsSchedulerStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddPool("workers", poolStub{stats: core.PoolStats{
		MaxWorkers: 8,
		Queued:     4,
		Running:    2,
		LockedKeys: 1,
		Completed:  10,
		Stopping:   true,
	}})
	poller.SetPhases(phasesStub{stats: []core.PhaseStats{
		{Phase: "update", Pending: 3, Executed: 12},
		{Phase: "postdraw", Pending: 0, Closed: true},
	}})
	poller.AddLoop("render", LoopSnapshotFunc(func() core.LoopStats {
		return core.LoopStats{Name: "render", Iterations: 42, Overruns: 2, Running: true}
	}))
	poller.SetFreezeState(freezeStub{state: core.FreezeFrozen})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		queued := testutil.ToFloat64(poller.poolQueued.WithLabelValues("workers"))
		pending := testutil.ToFloat64(poller.phasePending.WithLabelValues("update"))
		return queued == 4 && pending == 3
	})

	if got := testutil.ToFloat64(poller.poolStopping.WithLabelValues("workers")); got != 1 {
		t.Fatalf("pool stopping gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.phaseClosed.WithLabelValues("postdraw")); got != 1 {
		t.Fatalf("phase closed gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.loopIterations.WithLabelValues("render")); got != 42 {
		t.Fatalf("loop iterations gauge = %v, want 42", got)
	}
	if got := testutil.ToFloat64(poller.updateFreezeState); got != float64(core.FreezeFrozen) {
		t.Fatalf("freeze state gauge = %v, want %v", got, float64(core.FreezeFrozen))
	}
}

func TestSnapshotPoller_CollectsRealComponents(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, time.Hour)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	phases := core.NewPhaseQueues(nil)
	phases.ScheduleUpdate(func(ctx context.Context) {})
	phases.ScheduleUpdate(func(ctx context.Context) {})
	poller.SetPhases(phases)
	poller.SetFreezeState(core.NewFreezeBarrier(nil))

	poller.CollectOnce()

	if got := testutil.ToFloat64(poller.phasePending.WithLabelValues("update")); got != 2 {
		t.Fatalf("phase pending gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(poller.updateFreezeState); got != 0 {
		t.Fatalf("freeze state gauge = %v, want 0", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
