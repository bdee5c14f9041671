package frameloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-frameloop/core"
)

var (
	// ErrInvalidConfig is returned by New for out-of-range settings.
	ErrInvalidConfig = errors.New("frameloop: invalid config")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("frameloop: app already running")

	// ErrShutdownTimeout is returned by Run when worker jobs outlive Config.ShutdownTimeout.
	ErrShutdownTimeout = errors.New("frameloop: shutdown timed out waiting for worker jobs")
)

const shutdownPollInterval = 5 * time.Millisecond

// Config holds the scheduler settings read once at startup.
type Config struct {
	// MaxWorkerThreads caps concurrently running worker jobs. 0 means unbounded.
	MaxWorkerThreads int

	// UpdatePeriod is the target period of the update loop.
	UpdatePeriod time.Duration

	// RenderPeriod is the target period of the render loop.
	RenderPeriod time.Duration

	// ShutdownTimeout bounds how long Run waits for worker jobs after Quit.
	ShutdownTimeout time.Duration

	// LockRenderThread pins the render loop to the OS thread that calls Run.
	LockRenderThread bool
}

// DefaultConfig returns 60 Hz loops, 16 workers and a 10s shutdown timeout.
func DefaultConfig() Config {
	return Config{
		MaxWorkerThreads: 16,
		UpdatePeriod:     time.Second / 60,
		RenderPeriod:     time.Second / 60,
		ShutdownTimeout:  10 * time.Second,
		LockRenderThread: true,
	}
}

func (c Config) validate() error {
	switch {
	case c.MaxWorkerThreads < 0:
		return fmt.Errorf("%w: MaxWorkerThreads must be >= 0, got %d", ErrInvalidConfig, c.MaxWorkerThreads)
	case c.UpdatePeriod < 0:
		return fmt.Errorf("%w: UpdatePeriod must be >= 0, got %v", ErrInvalidConfig, c.UpdatePeriod)
	case c.RenderPeriod < 0:
		return fmt.Errorf("%w: RenderPeriod must be >= 0, got %v", ErrInvalidConfig, c.RenderPeriod)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: ShutdownTimeout must be > 0, got %v", ErrInvalidConfig, c.ShutdownTimeout)
	}
	return nil
}

// Hook is domain logic run once per loop iteration.
type Hook func(ctx context.Context, app *App)

// =============================================================================
// App: the scheduler context shared by every subsystem
// =============================================================================

// App owns one WorkerPool, one set of PhaseQueues and one FreezeBarrier, and
// drives the render and update loops that service them.
//
// Each update iteration runs, in order: WorkerPool.Poll, the update hook,
// the update phase, and the freeze checkpoint. Each render iteration runs the
// predraw phase, the render hook and the postdraw phase.
//
// Construct one App at startup and pass it to the components that need it.
type App struct {
	cfg    Config
	logger core.Logger

	pool    *core.WorkerPool
	phases  *core.PhaseQueues
	barrier *core.FreezeBarrier

	updateLoop *core.Loop
	renderLoop *core.Loop
	onUpdate   Hook
	onRender   Hook

	baseCtx  context.Context
	running  atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
}

// New creates an App. It does not start any goroutine.
func New(cfg Config, opts ...Option) (*App, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	schedCfg := o.schedulerConfig()

	a := &App{
		cfg:      cfg,
		logger:   schedCfg.Logger,
		pool:     core.NewWorkerPool("workers", cfg.MaxWorkerThreads, schedCfg),
		phases:   core.NewPhaseQueues(schedCfg),
		barrier:  core.NewFreezeBarrier(schedCfg.Logger),
		onUpdate: o.onUpdate,
		onRender: o.onRender,
		baseCtx:  context.Background(),
		quit:     make(chan struct{}),
	}
	a.updateLoop = core.NewLoop(core.LoopConfig{
		Name:   "update",
		Period: cfg.UpdatePeriod,
	}, a.logger)
	a.renderLoop = core.NewLoop(core.LoopConfig{
		Name:         "render",
		Period:       cfg.RenderPeriod,
		LockOSThread: cfg.LockRenderThread,
	}, a.logger)
	return a, nil
}

// Run starts the update loop on its own goroutine and runs the render loop on
// the calling goroutine until Quit is called or ctx is done, then performs the
// shutdown sequence:
//
//  1. the render loop drains predraw and postdraw one final time
//  2. the WorkerPool stops admitting jobs
//  3. the update loop drains its phase one final time and ends the FreezeBarrier
//  4. the calling goroutine takes over polling and draining every phase until
//     every job has been reaped, or ShutdownTimeout elapses (ErrShutdownTimeout),
//     then waits for workers
//  5. all phases are closed and drained once more
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	a.baseCtx = context.WithoutCancel(ctx)
	a.logger.Info("app starting",
		core.F("max_worker_threads", a.cfg.MaxWorkerThreads),
		core.F("update_period", a.cfg.UpdatePeriod),
		core.F("render_period", a.cfg.RenderPeriod))

	// The update loop outlives ctx: it must keep polling until the render loop
	// has finished its own shutdown steps.
	if err := a.updateLoop.Start(a.baseCtx, a.updateStep, a.updateExit); err != nil {
		return err
	}

	renderCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-renderCtx.Done():
		}
	}()

	if err := a.renderLoop.Run(renderCtx, a.renderStep); err != nil {
		a.updateLoop.Stop()
		return err
	}
	return a.shutdown()
}

// Quit asks Run to return. It is safe to call from any goroutine, any number of times.
func (a *App) Quit() {
	a.quitOnce.Do(func() { close(a.quit) })
}

func (a *App) updateStep(ctx context.Context) bool {
	a.pool.Poll()
	if a.onUpdate != nil {
		a.onUpdate(ctx, a)
	}
	a.phases.DrainUpdate(ctx)
	a.barrier.Checkpoint()
	return true
}

func (a *App) updateExit() {
	a.phases.DrainUpdate(a.baseCtx)
	a.barrier.End()
}

func (a *App) renderStep(ctx context.Context) bool {
	a.phases.DrainPredraw(ctx)
	if a.onRender != nil {
		a.onRender(ctx, a)
	}
	a.phases.DrainPostdraw(ctx)
	return true
}

func (a *App) shutdown() error {
	ctx := a.baseCtx
	a.logger.Info("app shutting down")

	a.phases.DrainPredraw(ctx)
	a.phases.DrainPostdraw(ctx)

	a.pool.Stop()
	a.updateLoop.Stop()

	// Both loops have exited, so this goroutine now polls the pool and is the
	// home goroutine of every phase. Jobs waiting on a phase still get through.
	var err error
	deadline := time.Now().Add(a.cfg.ShutdownTimeout)
	for !a.pool.IsStopComplete() {
		if time.Now().After(deadline) {
			stats := a.pool.Stats()
			err = fmt.Errorf("%w: %d running, %d queued", ErrShutdownTimeout, stats.Running, stats.Queued)
			break
		}
		a.pool.Poll()
		a.phases.DrainUpdate(ctx)
		a.phases.DrainPredraw(ctx)
		a.phases.DrainPostdraw(ctx)
		time.Sleep(shutdownPollInterval)
	}
	if err == nil {
		a.pool.WaitThreads()
	}

	a.phases.Close()
	a.phases.DrainUpdate(ctx)
	a.phases.DrainPredraw(ctx)
	a.phases.DrainPostdraw(ctx)

	if err != nil {
		a.logger.Error("app shutdown incomplete", core.F("error", err))
		return err
	}
	a.logger.Info("app stopped",
		core.F("update_iterations", a.updateLoop.Stats().Iterations),
		core.F("render_iterations", a.renderLoop.Stats().Iterations))
	return nil
}

// =============================================================================
// Scheduler API
// =============================================================================

// Submit queues a job on the worker pool. It returns false after shutdown began.
func (a *App) Submit(job Job) bool { return a.pool.Run(job) }

// SubmitFunc queues task with an optional queue key and completion callback.
func (a *App) SubmitFunc(queueKey string, task Task, onComplete func()) bool {
	return a.pool.RunFunc(queueKey, task, onComplete)
}

// ScheduleUpdate runs task on the update loop after the next simulation step.
func (a *App) ScheduleUpdate(task Task) TaskID { return a.phases.ScheduleUpdate(task) }

// SchedulePredraw runs task on the render loop before the next frame.
func (a *App) SchedulePredraw(task Task) TaskID { return a.phases.SchedulePredraw(task) }

// SchedulePostdraw runs task on the render loop after the next frame.
func (a *App) SchedulePostdraw(task Task) TaskID { return a.phases.SchedulePostdraw(task) }

// IsTaskRunning reports whether a scheduled phase task has not finished yet.
func (a *App) IsTaskRunning(id TaskID) bool { return a.phases.IsTaskRunning(id) }

// SuspendUpdate parks the update loop at its next checkpoint. Never call it
// from the update loop (including update hooks and update-phase tasks).
func (a *App) SuspendUpdate() { a.barrier.Suspend() }

// ResumeUpdate releases a SuspendUpdate.
func (a *App) ResumeUpdate() { a.barrier.Resume() }

// WithUpdateSuspended runs fn while the update loop is parked.
func (a *App) WithUpdateSuspended(fn func()) {
	a.barrier.Suspend()
	defer a.barrier.Resume()
	fn()
}

// Pool returns the worker pool.
func (a *App) Pool() *core.WorkerPool { return a.pool }

// Phases returns the frame-phase queues.
func (a *App) Phases() *core.PhaseQueues { return a.phases }

// Barrier returns the update freeze barrier.
func (a *App) Barrier() *core.FreezeBarrier { return a.barrier }

// Config returns the configuration the App was built with.
func (a *App) Config() Config { return a.cfg }

// Stats is a snapshot of every scheduler component.
type Stats struct {
	Pool   core.PoolStats
	Phases []core.PhaseStats
	Update core.LoopStats
	Render core.LoopStats
	Freeze core.FreezeState
}

// Stats returns a snapshot of every scheduler component.
func (a *App) Stats() Stats {
	return Stats{
		Pool:   a.pool.Stats(),
		Phases: a.phases.Stats(),
		Update: a.updateLoop.Stats(),
		Render: a.renderLoop.Stats(),
		Freeze: a.barrier.State(),
	}
}
