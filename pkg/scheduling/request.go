package scheduling

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dockermodel/backendpool/pkg/registry"
	"github.com/dockermodel/backendpool/pkg/session"
	"github.com/google/uuid"
)

// Filter decides whether a candidate record is eligible to serve a request,
// beyond the base eligibility and model-match checks the scheduler already
// performs.
type Filter func(*registry.Record) bool

// Request is the per-request object created at intake and tracked by the
// scheduler until it completes, fails, or is cancelled.
type Request struct {
	ID string

	DesiredModel *string
	Filter       Filter

	SessionRef     *session.Session
	NotifyWillLoad func()

	ctx    context.Context
	cancel context.CancelFunc

	StartTime time.Time

	pressureRef *Entry

	completionSignal chan struct{}
	resultSet        atomic.Bool

	result  *BackendAccess
	failure error

	redirectAvailable atomic.Bool
	notifiedWillLoad  atomic.Bool
}

// notifyFire returns true the first time it is called for this request,
// false thereafter, so NotifyWillLoad fires at most once.
func (r *Request) notifyFire() bool {
	return r.notifiedWillLoad.CompareAndSwap(false, true)
}

// NewRequest constructs an open Request linked to parentCtx (typically the
// caller's own cancellation combined with a global shutdown token).
func NewRequest(parentCtx context.Context, desiredModel *string, filter Filter, sess *session.Session, notifyWillLoad func()) *Request {
	ctx, cancel := context.WithCancel(parentCtx)
	r := &Request{
		ID:               uuid.NewString(),
		DesiredModel:     desiredModel,
		Filter:           filter,
		SessionRef:       sess,
		NotifyWillLoad:   notifyWillLoad,
		ctx:              ctx,
		cancel:           cancel,
		StartTime:        time.Now(),
		completionSignal: make(chan struct{}),
	}
	r.redirectAvailable.Store(true)
	return r
}

// Done returns the request's cancellation channel.
func (r *Request) Done() <-chan struct{} {
	return r.ctx.Done()
}

// Cancel fires the request's own cancellation token.
func (r *Request) Cancel() {
	r.cancel()
}

// CompletionSignal is closed exactly once, when the request leaves the open
// set (success, failure, or cancellation).
func (r *Request) CompletionSignal() <-chan struct{} {
	return r.completionSignal
}

// complete sets the outcome and closes the completion signal. It is a no-op
// if already completed.
func (r *Request) complete(result *BackendAccess, failure error) {
	if !r.resultSet.CompareAndSwap(false, true) {
		return
	}
	r.result = result
	r.failure = failure
	close(r.completionSignal)
}

// Outcome returns the request's result and failure, valid only after
// CompletionSignal fires.
func (r *Request) Outcome() (*BackendAccess, error) {
	return r.result, r.failure
}

// UseRedirect consumes the request's one-shot PleaseRedirect budget. It
// returns true the first time it is called and false on every subsequent
// call, implementing the "per-request redirect budget" design note.
func (r *Request) UseRedirect() bool {
	return r.redirectAvailable.CompareAndSwap(true, false)
}
