package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-frameloop/core"
)

// PoolSnapshotProvider provides current worker pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// PhaseSnapshotProvider provides one snapshot per frame phase.
type PhaseSnapshotProvider interface {
	Stats() []core.PhaseStats
}

// LoopSnapshotProvider provides current loop stats snapshots.
type LoopSnapshotProvider interface {
	Stats() core.LoopStats
}

// LoopSnapshotFunc adapts a function to LoopSnapshotProvider.
type LoopSnapshotFunc func() core.LoopStats

func (f LoopSnapshotFunc) Stats() core.LoopStats { return f() }

// FreezeStateProvider reports the update freeze barrier state.
type FreezeStateProvider interface {
	State() core.FreezeState
}

// SnapshotPoller periodically exports Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	mu     sync.RWMutex
	pools  map[string]PoolSnapshotProvider
	phases PhaseSnapshotProvider
	loops  map[string]LoopSnapshotProvider
	freeze FreezeStateProvider

	poolQueued     *prom.GaugeVec
	poolRunning    *prom.GaugeVec
	poolLockedKeys *prom.GaugeVec
	poolMaxWorkers *prom.GaugeVec
	poolCompleted  *prom.GaugeVec
	poolStopping   *prom.GaugeVec

	phasePending  *prom.GaugeVec
	phaseExecuted *prom.GaugeVec
	phaseClosed   *prom.GaugeVec

	loopIterations *prom.GaugeVec
	loopOverruns   *prom.GaugeVec
	loopRunning    *prom.GaugeVec

	updateFreezeState prom.Gauge

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gaugeVec := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: "frameloop", Name: name, Help: help}, labels)
	}

	p := &SnapshotPoller{
		interval: interval,
		pools:    make(map[string]PoolSnapshotProvider),
		loops:    make(map[string]LoopSnapshotProvider),

		poolQueued:     gaugeVec("pool_queued", "Jobs waiting for admission per pool.", "pool"),
		poolRunning:    gaugeVec("pool_running", "Jobs running per pool.", "pool"),
		poolLockedKeys: gaugeVec("pool_locked_keys", "Queue keys held by a running job per pool.", "pool"),
		poolMaxWorkers: gaugeVec("pool_max_workers", "Concurrency cap per pool (0=unbounded).", "pool"),
		poolCompleted:  gaugeVec("pool_completed_total", "Pool completed job count snapshot.", "pool"),
		poolStopping:   gaugeVec("pool_stopping", "Pool stopping state (1=stopping, 0=accepting).", "pool"),

		phasePending:  gaugeVec("phase_pending", "Tasks waiting for the next drain per phase.", "phase"),
		phaseExecuted: gaugeVec("phase_executed_total", "Phase executed task count snapshot.", "phase"),
		phaseClosed:   gaugeVec("phase_closed", "Phase closed state (1=closed, 0=open).", "phase"),

		loopIterations: gaugeVec("loop_iterations_total", "Loop iteration count snapshot.", "loop"),
		loopOverruns:   gaugeVec("loop_overruns_total", "Iterations that exceeded the loop period.", "loop"),
		loopRunning:    gaugeVec("loop_running", "Loop running state (1=running, 0=stopped).", "loop"),

		updateFreezeState: prom.NewGauge(prom.GaugeOpts{
			Namespace: "frameloop",
			Name:      "update_freeze_state",
			Help:      "Update freeze barrier state (0=running, 1=freeze requested, 2=frozen).",
		}),
	}

	var err error
	for _, vec := range []**prom.GaugeVec{
		&p.poolQueued, &p.poolRunning, &p.poolLockedKeys, &p.poolMaxWorkers, &p.poolCompleted, &p.poolStopping,
		&p.phasePending, &p.phaseExecuted, &p.phaseClosed,
		&p.loopIterations, &p.loopOverruns, &p.loopRunning,
	} {
		if *vec, err = registerCollector(reg, *vec); err != nil {
			return nil, err
		}
	}
	if p.updateFreezeState, err = registerCollector(reg, p.updateFreezeState); err != nil {
		return nil, err
	}
	return p, nil
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.mu.Lock()
	p.pools[name] = provider
	p.mu.Unlock()
}

// SetPhases sets the phase queue snapshot provider.
func (p *SnapshotPoller) SetPhases(provider PhaseSnapshotProvider) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.phases = provider
	p.mu.Unlock()
}

// AddLoop adds or replaces a loop snapshot provider by name.
func (p *SnapshotPoller) AddLoop(name string, provider LoopSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "loop")
	p.mu.Lock()
	p.loops[name] = provider
	p.mu.Unlock()
}

// SetFreezeState sets the freeze barrier state provider.
func (p *SnapshotPoller) SetFreezeState(provider FreezeStateProvider) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.freeze = provider
	p.mu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	done := p.done
	p.stateMu.Unlock()

	go p.loop(pollCtx, done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce()
		}
	}
}

// CollectOnce copies every provider's current snapshot into the gauges.
func (p *SnapshotPoller) CollectOnce() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolRunning.WithLabelValues(name).Set(float64(stats.Running))
		p.poolLockedKeys.WithLabelValues(name).Set(float64(stats.LockedKeys))
		p.poolMaxWorkers.WithLabelValues(name).Set(float64(stats.MaxWorkers))
		p.poolCompleted.WithLabelValues(name).Set(float64(stats.Completed))
		p.poolStopping.WithLabelValues(name).Set(boolGauge(stats.Stopping))
	}

	if p.phases != nil {
		for _, stats := range p.phases.Stats() {
			phase := normalizeLabel(stats.Phase, "unknown")
			p.phasePending.WithLabelValues(phase).Set(float64(stats.Pending))
			p.phaseExecuted.WithLabelValues(phase).Set(float64(stats.Executed))
			p.phaseClosed.WithLabelValues(phase).Set(boolGauge(stats.Closed))
		}
	}

	for name, provider := range p.loops {
		stats := provider.Stats()
		p.loopIterations.WithLabelValues(name).Set(float64(stats.Iterations))
		p.loopOverruns.WithLabelValues(name).Set(float64(stats.Overruns))
		p.loopRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
	}

	if p.freeze != nil {
		p.updateFreezeState.Set(float64(p.freeze.State()))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
