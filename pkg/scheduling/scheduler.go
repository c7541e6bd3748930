// Package scheduling implements the single coordinator that matches open
// requests to eligible backends and decides when a backend should evict its
// resident model to serve queued demand.
package scheduling

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dockermodel/backendpool/pkg/logging"
	"github.com/dockermodel/backendpool/pkg/registry"
	"github.com/dockermodel/backendpool/pkg/session"
	"golang.org/x/sync/errgroup"
)

const (
	// modelLoadPollInterval is how often LoadHighestPressure's background
	// task polls for the chosen backend's usages to drain to zero.
	modelLoadPollInterval = 100 * time.Millisecond
	// slowWaitLogThreshold is how long a model load's usages-drain wait may
	// run before each further poll logs a debug message.
	slowWaitLogThreshold = 10 * time.Second
	// newPressureGrace is how long a pressure entry is left alone before
	// LoadHighestPressure will act on it, when more than one loader is
	// available, to let a matching backend free up naturally.
	newPressureGrace = 1500 * time.Millisecond
	// tickWait bounds how long the scheduler loop blocks for a signal
	// before re-evaluating the open request set regardless.
	tickWait = 1 * time.Second
)

// Config holds the scheduler's tunable timeouts.
type Config struct {
	// PerRequestTimeout bounds how long GetNextBackend will wait before
	// raising ErrTimeout.
	PerRequestTimeout time.Duration
	// MaxStagnation is the registry-wide silence deadline: if no open
	// request completes for this long, every open request fails with
	// ErrTimeout.
	MaxStagnation time.Duration
}

// loaderCandidate wraps a record that can load models, for pressure-entry
// filter checks and bad-backend bookkeeping.
type loaderCandidate struct {
	record *registry.Record
}

// Scheduler is the single coordinator thread described in spec section 4.4.
type Scheduler struct {
	log        logging.Logger
	reg        *registry.Registry
	initWorker *registry.InitWorker
	pressure   *Map
	config     Config

	mu           sync.Mutex
	open         map[string]*Request
	insertOrder  []*Request
	lastProgress time.Time

	signalCh chan struct{}

	shuttingDown atomic.Bool
}

// NewScheduler constructs a Scheduler bound to reg and ready to run once
// Run is called.
func NewScheduler(log logging.Logger, reg *registry.Registry, initWorker *registry.InitWorker, config Config) *Scheduler {
	if config.PerRequestTimeout <= 0 {
		config.PerRequestTimeout = 2 * time.Minute
	}
	if config.MaxStagnation <= 0 {
		config.MaxStagnation = 10 * time.Minute
	}
	return &Scheduler{
		log:          logging.Component(log, "scheduler"),
		reg:          reg,
		initWorker:   initWorker,
		pressure:     NewMap(),
		config:       config,
		open:         make(map[string]*Request),
		lastProgress: time.Now(),
		signalCh:     make(chan struct{}, 1),
	}
}

// signal wakes the scheduler loop if it is currently waiting.
func (s *Scheduler) signal() {
	select {
	case s.signalCh <- struct{}{}:
	default:
	}
}

// PressureSnapshot returns the current heuristic score for every model with
// an open Pressure Entry, for status/metrics reporting.
func (s *Scheduler) PressureSnapshot() map[string]int {
	now := time.Now()
	entries := s.pressure.snapshot()
	scores := make(map[string]int, len(entries))
	for _, e := range entries {
		scores[e.Model] = e.Score(now)
	}
	return scores
}

// Run drives the init worker and the scheduler loop concurrently, returning
// the first error either produces (including context cancellation).
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.initWorker.Run(ctx)
	})
	g.Go(func() error {
		return s.loop(ctx)
	})
	err := g.Wait()
	s.shuttingDown.Store(true)
	s.failAllOpen(ErrShuttingDown)
	return err
}

// GetNextBackend is the sole consumer-facing entry point: it creates a
// Request, waits for the scheduler to resolve it, and returns the acquired
// BackendAccess.
func (s *Scheduler) GetNextBackend(
	ctx context.Context,
	maxWait time.Duration,
	desiredModel *string,
	filter Filter,
	sess *session.Session,
	notifyWillLoad func(),
	cancel <-chan struct{},
) (*BackendAccess, error) {
	if s.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	if maxWait <= 0 || maxWait > s.config.PerRequestTimeout {
		maxWait = s.config.PerRequestTimeout
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, maxWait)
	defer waitCancel()

	req := NewRequest(waitCtx, desiredModel, filter, sess, notifyWillLoad)
	s.insert(req)
	s.signal()

	defer func() {
		if req.pressureRef != nil {
			s.pressure.release(req, req.pressureRef)
		}
	}()

	if cancel != nil {
		go func() {
			select {
			case <-cancel:
				req.Cancel()
			case <-req.Done():
			}
		}()
	}

	select {
	case <-req.CompletionSignal():
		result, failure := req.Outcome()
		if failure != nil {
			s.remove(req)
			return nil, failure
		}
		if result == nil {
			s.remove(req)
			return nil, nil
		}
		s.remove(req)
		return result, nil
	case <-waitCtx.Done():
		s.remove(req)
		return nil, &TimeoutError{Model: desiredModel, HoldingCount: s.countHolding(desiredModel)}
	}
}

// TimeoutError is raised by GetNextBackend when maxWait elapses, with
// diagnostic context about the requested model.
type TimeoutError struct {
	Model        *string
	HoldingCount int
}

func (e *TimeoutError) Error() string {
	model := "<any>"
	if e.Model != nil {
		model = *e.Model
	}
	return "timed out waiting for a backend (model=" + model + ")"
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

func (s *Scheduler) countHolding(model *string) int {
	if model == nil {
		return 0
	}
	all, err := s.reg.All(context.Background())
	if err != nil {
		return 0
	}
	n := 0
	for _, r := range all {
		if cur := r.CurrentModelName(); cur != nil && *cur == *model {
			n++
		}
	}
	return n
}

func (s *Scheduler) insert(req *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[req.ID] = req
	s.insertOrder = append(s.insertOrder, req)
}

func (s *Scheduler) remove(req *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, req.ID)
	for i, r := range s.insertOrder {
		if r == req {
			s.insertOrder = append(s.insertOrder[:i], s.insertOrder[i+1:]...)
			break
		}
	}
}

// openSnapshot returns the currently open requests in stable insertion
// order.
func (s *Scheduler) openSnapshot() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, len(s.insertOrder))
	copy(out, s.insertOrder)
	return out
}

func (s *Scheduler) failAllOpen(err error) {
	for _, req := range s.openSnapshot() {
		req.complete(nil, err)
	}
}

// loop is the scheduler's single coordinator goroutine.
func (s *Scheduler) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.drainCancellations()
		progressed := s.tryFindAll(ctx)
		s.progressAccounting(progressed)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.signalCh:
		case <-time.After(tickWait):
		}
	}
}

// drainCancellations removes every open request whose cancellation token
// has fired, completing it with no result and no failure.
func (s *Scheduler) drainCancellations() {
	for _, req := range s.openSnapshot() {
		select {
		case <-req.Done():
			req.complete(nil, nil)
			s.remove(req)
		default:
		}
	}
}

// tryFindAll runs the try-find algorithm for every open request, in stable
// order, and returns whether any request made progress (completed) this
// tick.
func (s *Scheduler) tryFindAll(ctx context.Context) bool {
	all, err := s.reg.All(ctx)
	if err != nil {
		return false
	}

	progressed := false
	var tickAvailable []*registry.Record

	for _, req := range s.openSnapshot() {
		available, completed := s.tryFind(req, all)
		if completed {
			progressed = true
			s.remove(req)
		}
		if len(available) > len(tickAvailable) {
			tickAvailable = available
		}
	}

	if len(tickAvailable) > 0 {
		s.loadHighestPressure(ctx, tickAvailable)
	}

	for _, req := range s.openSnapshot() {
		if req.pressureRef != nil && req.pressureRef.isLoadingNow() {
			if req.NotifyWillLoad != nil && req.notifyFire() {
				req.NotifyWillLoad()
			}
		}
	}

	return progressed
}

// tryFind implements spec section 4.4 step 2 for a single request. It
// returns the tick's "available" set it computed (for LoadHighestPressure)
// and whether the request was completed (result or failure set).
func (s *Scheduler) tryFind(req *Request, allRecords []*registry.Record) ([]*registry.Record, bool) {
	var possible []*registry.Record
	anyLoadingOrWaiting := false
	for _, r := range allRecords {
		switch r.Status() {
		case registry.StatusLoading, registry.StatusWaiting:
			anyLoadingOrWaiting = true
		}
		if r.Eligible() {
			possible = append(possible, r)
		}
	}

	if len(possible) == 0 {
		if !anyLoadingOrWaiting {
			req.complete(nil, ErrNoBackendsAvailable)
			return nil, true
		}
		return nil, false
	}

	if req.Filter != nil {
		filtered := possible[:0:0]
		for _, r := range possible {
			if req.Filter(r) {
				filtered = append(filtered, r)
			}
		}
		if len(filtered) == 0 {
			req.complete(nil, ErrNoMatchingBackend)
			return nil, true
		}
		possible = filtered
	}

	available := make([]*registry.Record, 0, len(possible))
	for _, r := range possible {
		if !r.InUse() {
			available = append(available, r)
		}
	}
	sort.Slice(available, func(i, j int) bool { return available[i].Usages() < available[j].Usages() })

	if req.DesiredModel == nil {
		if len(available) > 0 {
			chosen := available[0]
			if chosen.TryAcquire() {
				req.complete(acquire(s, chosen), nil)
				return available, true
			}
		}
		return available, false
	}

	for _, r := range available {
		if cur := r.CurrentModelName(); cur != nil && *cur == *req.DesiredModel {
			if r.TryAcquire() {
				req.complete(acquire(s, r), nil)
				return available, true
			}
		}
	}

	if req.pressureRef == nil {
		req.pressureRef = s.pressure.registerRequest(*req.DesiredModel, req)
	}

	return available, false
}

// progressAccounting updates the last-progress timestamp on any tick that
// completed a request, or fails every open request with ErrTimeout once
// the open set has been stagnant past MaxStagnation.
func (s *Scheduler) progressAccounting(progressed bool) {
	if progressed {
		s.mu.Lock()
		s.lastProgress = time.Now()
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	stagnantSince := s.lastProgress
	s.mu.Unlock()
	if time.Since(stagnantSince) > s.config.MaxStagnation {
		s.log.Warnf("no request progress for %s, failing all open requests", s.config.MaxStagnation)
		for _, req := range s.openSnapshot() {
			req.complete(nil, ErrTimeout)
			s.remove(req)
		}
		s.mu.Lock()
		s.lastProgress = time.Now()
		s.mu.Unlock()
	}
}

// loadHighestPressure implements spec section 4.4.1: given this tick's
// available backends, pick at most one non-loading pressure entry and
// commit one backend to loading its model, running the load itself outside
// the scheduler tick.
func (s *Scheduler) loadHighestPressure(ctx context.Context, available []*registry.Record) {
	var loaders []*loaderCandidate
	for _, r := range available {
		if r.CanLoadModels() {
			loaders = append(loaders, &loaderCandidate{record: r})
		}
	}
	if len(loaders) == 0 {
		return
	}

	entries := s.pressure.snapshot()
	var candidates []*Entry
	for _, e := range entries {
		if !e.isLoadingNow() {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return
	}

	now := time.Now()
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score(now) > candidates[j].Score(now)
	})

	var strictlyCompatible []*Entry
	var looselyCompatible []*Entry
	for _, e := range candidates {
		if e.compatibleWithAll(loaders) {
			strictlyCompatible = append(strictlyCompatible, e)
		}
		if e.compatibleWithAny(loaders) {
			looselyCompatible = append(looselyCompatible, e)
		}
	}
	pool := strictlyCompatible
	if len(pool) == 0 {
		pool = looselyCompatible
	}
	if len(pool) == 0 {
		return
	}

	h := pool[0]

	if !h.tryBeginLoading() {
		return
	}

	wait := now.Sub(h.firstRequestTimeNow())
	if len(loaders) > 1 && wait < newPressureGrace {
		h.endLoading()
		return
	}

	var candidateLoaders []*loaderCandidate
	for _, l := range loaders {
		if !h.isBad(l.record.ID) {
			candidateLoaders = append(candidateLoaders, l)
		}
	}
	if len(candidateLoaders) == 0 {
		s.failEntry(h, ErrAllBackendsFailedModel)
		return
	}

	var needLoad []*loaderCandidate
	for _, l := range candidateLoaders {
		cur := l.record.CurrentModelName()
		if cur == nil || *cur != h.Model {
			needLoad = append(needLoad, l)
		}
	}
	if len(needLoad) == 0 {
		h.endLoading()
		return
	}

	var idleLoaders []*loaderCandidate
	for _, l := range needLoad {
		if l.record.Usages() == 0 {
			idleLoaders = append(idleLoaders, l)
		}
	}
	tieBreakPool := needLoad
	if len(idleLoaders) > 0 {
		tieBreakPool = idleLoaders
	}

	chosen := tieBreakPool[0].record
	oldest := chosen.TimeLastRelease()
	for _, l := range tieBreakPool {
		if l.record.TimeLastRelease().Before(oldest) {
			chosen = l.record
			oldest = l.record.TimeLastRelease()
		}
	}

	chosen.SetReserveModelLoad(true)

	var claims []*session.Claim
	for _, sess := range h.sessionList() {
		claims = append(claims, sess.Claim(0, 1, 0, 0))
	}

	go s.runModelLoad(ctx, h, chosen, claims)
}

func (s *Scheduler) failEntry(e *Entry, err error) {
	for _, req := range e.requestList() {
		req.complete(nil, err)
		s.remove(req)
	}
	e.endLoading()
	s.pressure.clear(e)
}

// runModelLoad waits for the chosen backend to drain, performs the model
// swap, and unconditionally clears reservation and loading flags and
// disposes the load claims it was handed, matching spec section 4.4.1 step
// 4. It is run outside the scheduler tick so loads never block scheduling.
func (s *Scheduler) runModelLoad(ctx context.Context, h *Entry, chosen *registry.Record, claims []*session.Claim) {
	waitStart := time.Now()
	for chosen.Usages() > 0 {
		select {
		case <-time.After(modelLoadPollInterval):
		case <-ctx.Done():
			s.finishModelLoad(h, chosen, claims, false)
			return
		}
		if time.Since(waitStart) > slowWaitLogThreshold {
			s.log.Debugf("model load for backend %d still waiting on usages to drain", chosen.ID)
		}
	}

	runtime.GC()

	model := h.Model
	ok, err := chosen.Driver.LoadModel(ctx, model)
	if err != nil {
		s.log.Warnf("model load failed for backend %d model %s: %v", chosen.ID, model, err)
		ok = false
	}
	if ok {
		chosen.SetCurrentModelName(&model)
	}

	s.finishModelLoad(h, chosen, claims, ok)
}

func (s *Scheduler) finishModelLoad(h *Entry, chosen *registry.Record, claims []*session.Claim, succeeded bool) {
	chosen.SetReserveModelLoad(false)
	h.endLoading()

	if cur := chosen.CurrentModelName(); cur == nil || *cur != h.Model {
		h.markBad(chosen.ID)
	}

	for _, c := range claims {
		c.Dispose()
	}

	s.reg.NotifyModelsChanged()
	s.signal()
}
