package core

import (
	"fmt"
	"sync"
)

// FreezeState is the state of a FreezeBarrier.
type FreezeState int

const (
	// FreezeRunning: the update loop runs freely.
	FreezeRunning FreezeState = iota

	// FreezeRequested: a caller is waiting for the update loop's next checkpoint.
	FreezeRequested

	// FreezeFrozen: the update loop is parked inside Checkpoint.
	FreezeFrozen
)

func (s FreezeState) String() string {
	switch s {
	case FreezeRunning:
		return "running"
	case FreezeRequested:
		return "freeze_requested"
	case FreezeFrozen:
		return "frozen"
	default:
		return fmt.Sprintf("FreezeState(%d)", int(s))
	}
}

// =============================================================================
// FreezeBarrier: rendezvous that parks the update loop on request
// =============================================================================

// FreezeBarrier lets any goroutine other than the update loop park the update
// loop before touching state they share.
//
// The update loop calls Checkpoint once per iteration, after all of that
// iteration's mutations. Once Suspend returns, the update loop is parked in
// Checkpoint and stays there until the matching Resume. Suspensions nest: the
// update loop resumes when the last holder calls Resume.
//
// Suspend must never be called from the update loop itself; it would wait for a
// checkpoint that can no longer happen.
type FreezeBarrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	state   FreezeState
	holders int
	ended   bool

	logger Logger
}

// NewFreezeBarrier creates a barrier in the FreezeRunning state.
func NewFreezeBarrier(logger Logger) *FreezeBarrier {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	b := &FreezeBarrier{logger: logger}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Suspend blocks until the update loop is parked, then returns. It returns
// immediately if the update loop has already ended. Every Suspend must be
// paired with a Resume.
func (b *FreezeBarrier) Suspend() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ended {
		return
	}

	b.holders++
	if b.state == FreezeRunning {
		b.state = FreezeRequested
	}
	for b.state != FreezeFrozen && !b.ended {
		b.cond.Wait()
	}
}

// Resume releases one Suspend. When no holder remains, the update loop continues.
func (b *FreezeBarrier) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.holders == 0 {
		if !b.ended {
			b.logger.Warn("freeze barrier resumed without a matching suspend")
		}
		return
	}
	b.holders--
	if b.holders > 0 {
		return
	}
	b.state = FreezeRunning
	b.cond.Broadcast()
}

// Checkpoint is the update loop's safe point. If a freeze is requested it
// parks the caller until every holder has resumed; otherwise it returns at once.
func (b *FreezeBarrier) Checkpoint() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.holders == 0 {
		return
	}

	for b.holders > 0 {
		// A Suspend that arrived between a Resume and this wake-up is still
		// waiting for FreezeFrozen.
		if b.state != FreezeFrozen {
			b.state = FreezeFrozen
			b.cond.Broadcast()
		}
		b.cond.Wait()
	}
	b.state = FreezeRunning
}

// End marks the update loop as permanently finished and releases every
// goroutine blocked in Suspend. Later Suspend calls return immediately.
func (b *FreezeBarrier) End() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ended {
		return
	}
	b.ended = true
	b.cond.Broadcast()
	b.logger.Debug("freeze barrier ended", F("holders", b.holders))
}

// State returns the current state.
func (b *FreezeBarrier) State() FreezeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsEnded returns true once End has been called.
func (b *FreezeBarrier) IsEnded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ended
}
