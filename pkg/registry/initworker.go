package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dockermodel/backendpool/pkg/inference"
	"github.com/dockermodel/backendpool/pkg/logging"
)

// initBackoff is the delay between a retryable init failure and the next
// attempt.
const initBackoff = 1 * time.Second

// initPollTimeout bounds how long the worker blocks waiting for a new queue
// item, so that status-change retries elsewhere still make progress.
const initPollTimeout = 250 * time.Millisecond

// InitWorker drains the registry's init queue, retrying transient failures
// with a bounded number of attempts and a fixed backoff.
type InitWorker struct {
	log         logging.Logger
	registry    *Registry
	maxAttempts int
}

// NewInitWorker constructs an InitWorker bound to reg.
func NewInitWorker(log logging.Logger, reg *Registry, maxAttempts int) *InitWorker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &InitWorker{
		log:         logging.Component(log, "init-worker"),
		registry:    reg,
		maxAttempts: maxAttempts,
	}
}

// Run drains the init queue until ctx is cancelled. For each dequeued
// record it performs exactly one init attempt; a retryable failure sets
// status = WAITING and schedules the record to be re-enqueued after
// initBackoff rather than blocking this worker on it, so other queued
// records interleave instead of stalling behind a single slow or
// erroring backend (spec section 4.3 step 4).
func (w *InitWorker) Run(ctx context.Context) error {
	timer := time.NewTimer(initPollTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-w.registry.initQueue:
			if !ok {
				return nil
			}
			w.attemptAndReenqueue(ctx, r)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(initPollTimeout)
		case <-timer.C:
			timer.Reset(initPollTimeout)
		}
	}
}

// attemptAndReenqueue performs one init attempt for r. On success or
// terminal failure it stops. On a retryable failure it sleeps initBackoff
// in a background goroutine and then re-enqueues r, freeing this worker to
// process the rest of the queue in the meantime.
func (w *InitWorker) attemptAndReenqueue(ctx context.Context, r *Record) {
	succeeded, terminal := attemptInit(w.log, r, w.maxAttempts)
	if terminal {
		if succeeded {
			w.registry.notifyRefresh()
		}
		return
	}
	go func() {
		select {
		case <-time.After(initBackoff):
		case <-ctx.Done():
			return
		}
		w.reenqueue(r)
	}()
}

// reenqueue pushes r back onto the registry's init queue, matching
// enqueueInit's drop-when-full behavior.
func (w *InitWorker) reenqueue(r *Record) {
	select {
	case w.registry.initQueue <- r:
	default:
		w.log.Warnf("init queue full, dropping re-enqueue for backend %d", r.ID)
	}
}

// driveInit retries a single record's initialization to completion
// (success or terminal failure) inline, sleeping initBackoff between
// attempts. Used for FastLoad backend types, where the registry runs init
// synchronously on the caller's goroutine instead of going through the
// queue.
func driveInit(ctx context.Context, log logging.Logger, r *Record, maxAttempts int, notifyRefresh func()) bool {
	for {
		succeeded, terminal := attemptInit(log, r, maxAttempts)
		if succeeded || terminal {
			if succeeded && notifyRefresh != nil {
				notifyRefresh()
			}
			return succeeded
		}
		select {
		case <-time.After(initBackoff):
		case <-ctx.Done():
			return false
		}
	}
}

// attemptInit performs exactly one init attempt, per spec section 4.3:
// - disabled records short-circuit to DISABLED, reported as terminal (no
//   further retry is useful until re-enabled via edit).
// - success transitions to RUNNING.
// - failure with attempts still under budget returns to WAITING for retry.
// - failure at or past the attempt budget, or a Refused error, is terminal
//   and marks ERRORED.
func attemptInit(log logging.Logger, r *Record, maxAttempts int) (succeeded, terminal bool) {
	if !r.Enabled {
		r.MarkDisabled()
		return false, true
	}

	attempts := r.BeginInit()
	err := r.Driver.Init(context.Background())
	if err == nil {
		r.MarkRunning()
		return true, true
	}

	cause := innermostCause(err)
	if errors.Is(err, inference.ErrRefused) || attempts >= maxAttempts {
		r.MarkErrored(friendlyInitError(cause))
		log.Warnf("backend %d init failed terminally: %v", r.ID, cause)
		return false, true
	}

	log.Warnf("backend %d init attempt %d/%d failed, retrying: %v", r.ID, attempts, maxAttempts, cause)
	r.MarkWaiting()
	return false, false
}

// innermostCause unwraps a chain of wrapped errors down to the deepest
// cause, matching the spec's "unwrap aggregate errors to their innermost
// cause" instruction.
func innermostCause(err error) error {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}

// friendlyInitError translates well-known low-level causes into a
// user-friendly hint while preserving the original error text for logging.
func friendlyInitError(cause error) error {
	if cause == nil {
		return errors.New("backend initialization failed")
	}
	if strings.Contains(strings.ToLower(cause.Error()), "connection refused") {
		return errors.New("backend process did not accept connections; check that its executable starts correctly: " + cause.Error())
	}
	return cause
}
