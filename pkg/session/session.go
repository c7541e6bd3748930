// Package session implements per-connection status counters and
// cancellation fanout, shared across every claim a session's requests hold
// on the scheduler.
package session

import (
	"context"
	"sync"
)

// Counters is a read-only snapshot of a session's four status counters,
// exposed verbatim to the intake layer for status reporting.
type Counters struct {
	Waiting         int
	LoadingModels   int
	WaitingBackends int
	Live            int
}

// Session aggregates status counters for one per-connection grouping and
// owns a replaceable cancellation source used to interrupt every claim it
// has issued.
type Session struct {
	ID string

	counterMu sync.Mutex
	counters  Counters

	cancelMu sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
}

// New constructs a Session with a fresh cancellation source.
func New(id string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{ID: id, ctx: ctx, cancel: cancel}
}

// Snapshot returns the session's current counters.
func (s *Session) Snapshot() Counters {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	return s.counters
}

func (s *Session) adjust(waiting, loadingModels, waitingBackends, live int) {
	s.counterMu.Lock()
	s.counters.Waiting += waiting
	s.counters.LoadingModels += loadingModels
	s.counters.WaitingBackends += waitingBackends
	s.counters.Live += live
	s.counterMu.Unlock()
}

func (s *Session) token() context.Context {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	return s.ctx
}

// Interrupt replaces the session's cancellation source with a fresh one and
// fires the old one. Every claim issued before the call observes
// cancellation via the token it captured at claim time.
func (s *Session) Interrupt() {
	s.cancelMu.Lock()
	oldCancel := s.cancel
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cancelMu.Unlock()
	oldCancel()
}

// Claim returns a scoped resource that adjusts both its own held amounts and
// the session's counters under the session's counter lock. The returned
// claim must eventually be disposed (directly or via Complete) so the
// session's counters return to their pre-claim values.
func (s *Session) Claim(waiting, loadingModels, waitingBackends, live int) *Claim {
	s.adjust(waiting, loadingModels, waitingBackends, live)
	return &Claim{
		session:         s,
		ctx:             s.token(),
		waiting:         waiting,
		loadingModels:   loadingModels,
		waitingBackends: waitingBackends,
		live:            live,
	}
}

// Claim is a scoped handle on a fraction of a session's status counters.
type Claim struct {
	session *Session
	ctx     context.Context

	mu              sync.Mutex
	waiting         int
	loadingModels   int
	waitingBackends int
	live            int
	disposed        bool
}

// Done returns the cancellation channel captured when this claim was
// created; it fires when the owning session is interrupted.
func (c *Claim) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Extend increases both the claim's held amounts and the session's
// counters.
func (c *Claim) Extend(waiting, loadingModels, waitingBackends, live int) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.waiting += waiting
	c.loadingModels += loadingModels
	c.waitingBackends += waitingBackends
	c.live += live
	c.mu.Unlock()
	c.session.adjust(waiting, loadingModels, waitingBackends, live)
}

// Complete deducts the given amounts from both the claim and the session.
// Amounts must not exceed what the claim currently holds.
func (c *Claim) Complete(waiting, loadingModels, waitingBackends, live int) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.waiting -= waiting
	c.loadingModels -= loadingModels
	c.waitingBackends -= waitingBackends
	c.live -= live
	c.mu.Unlock()
	c.session.adjust(-waiting, -loadingModels, -waitingBackends, -live)
}

// Dispose completes whatever counts the claim still holds. It is safe to
// call more than once.
func (c *Claim) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	waiting, loadingModels, waitingBackends, live := c.waiting, c.loadingModels, c.waitingBackends, c.live
	c.waiting, c.loadingModels, c.waitingBackends, c.live = 0, 0, 0, 0
	c.disposed = true
	c.mu.Unlock()
	c.session.adjust(-waiting, -loadingModels, -waitingBackends, -live)
}
