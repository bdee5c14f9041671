package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrLoopRunning is returned when a Loop is started twice.
var ErrLoopRunning = errors.New("frameloop: loop already running")

// StepFunc is one loop iteration. Returning false ends the loop.
type StepFunc func(ctx context.Context) bool

// LoopConfig configures a Loop.
type LoopConfig struct {
	// Name is used in logs and stats.
	Name string

	// Period is the target iteration period. Zero runs iterations back to back.
	Period time.Duration

	// LockOSThread pins the loop goroutine to its OS thread for its lifetime,
	// as required by windowing and graphics APIs with thread affinity.
	LockOSThread bool
}

// =============================================================================
// Loop: bounded-rate iteration driver
// =============================================================================

// Loop calls a StepFunc at most once per Period. An iteration that overruns
// its period is followed immediately by the next one; missed deadlines are not
// accumulated.
//
// Use Run to drive the loop on the calling goroutine (the render loop), or
// Start to give it a dedicated goroutine (the update loop).
type Loop struct {
	name         string
	period       time.Duration
	lockOSThread bool
	logger       Logger

	running    atomic.Bool
	iterations atomic.Int64
	overruns   atomic.Int64

	// Set by Start
	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewLoop creates a Loop. A nil logger discards log output.
func NewLoop(config LoopConfig, logger Logger) *Loop {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	if config.Name == "" {
		config.Name = "loop"
	}
	if config.Period < 0 {
		config.Period = 0
	}
	return &Loop{
		name:         config.Name,
		period:       config.Period,
		lockOSThread: config.LockOSThread,
		logger:       logger,
	}
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// Run drives step on the calling goroutine until ctx is done or step returns false.
func (l *Loop) Run(ctx context.Context, step StepFunc) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	if l.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	l.logger.Debug("loop started", F("loop", l.name), F("period", l.period))
	defer l.logger.Debug("loop stopped", F("loop", l.name), F("iterations", l.iterations.Load()))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		cont := step(ctx)
		l.iterations.Add(1)
		if !cont {
			return nil
		}

		if l.period == 0 {
			continue
		}
		wait := l.period - time.Since(start)
		if wait <= 0 {
			l.overruns.Add(1)
			continue
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// Start drives step on a dedicated goroutine. onExit, if not nil, runs on that
// same goroutine after the last iteration. Use Stop or Done to observe its end.
func (l *Loop) Start(ctx context.Context, step StepFunc, onExit func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped != nil {
		select {
		case <-l.stopped:
		default:
			return ErrLoopRunning
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	l.cancel = cancel
	l.stopped = stopped

	go func() {
		defer close(stopped)
		defer cancel()
		if err := l.Run(runCtx, step); err != nil {
			l.logger.Error("loop failed to start", F("loop", l.name), F("error", err))
			return
		}
		if onExit != nil {
			onExit()
		}
	}()
	return nil
}

// Stop cancels a loop started with Start and waits for its goroutine to exit,
// including onExit. The current iteration always completes.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, stopped := l.cancel, l.stopped
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Done is closed when a loop started with Start has exited.
// It returns nil if Start was never called.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// IsRunning returns whether the loop is currently iterating.
func (l *Loop) IsRunning() bool { return l.running.Load() }

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() LoopStats {
	return LoopStats{
		Name:       l.name,
		Period:     l.period,
		Iterations: l.iterations.Load(),
		Overruns:   l.overruns.Load(),
		Running:    l.running.Load(),
	}
}
