// Package registry owns the set of Backend Records: their ids, lifecycle,
// and persisted configuration.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dockermodel/backendpool/pkg/inference"
	"github.com/dockermodel/backendpool/pkg/logging"
)

// cleanShutdownPollInterval is how often DeleteByID/EditByID/ReloadAll poll
// for a draining record's usages to reach zero.
const cleanShutdownPollInterval = 500 * time.Millisecond

// Registry owns the set of backend records, assigns ids, and persists and
// restores configuration. Its central lock (guard) is held only for id
// allocation, record insert/remove and reads of the record map (listing and
// lookup); it is never held across I/O, mirroring
// the buffered-channel semaphore idiom used throughout this package's
// teacher so that listing and shutdown can be polled alongside cancellation.
type Registry struct {
	log   logging.Logger
	types map[string]*inference.Type

	guard   chan struct{}
	waiters map[chan<- struct{}]bool

	records       map[int]*Record
	nextRealID    int
	nextNonrealID int

	initQueue chan *Record

	saveMu sync.Mutex
	store  Store

	shuttingDown bool

	refreshMu   sync.Mutex
	refreshSubs map[chan<- struct{}]bool
}

// New constructs an empty Registry. Call Load to restore persisted state.
func New(log logging.Logger, types map[string]*inference.Type, store Store) *Registry {
	reg := &Registry{
		log:           logging.Component(log, "registry"),
		types:         types,
		guard:         make(chan struct{}, 1),
		waiters:       make(map[chan<- struct{}]bool),
		records:       make(map[int]*Record),
		nextRealID:    0,
		nextNonrealID: -1,
		initQueue:     make(chan *Record, 64),
		store:         store,
		refreshSubs:   make(map[chan<- struct{}]bool),
	}
	reg.guard <- struct{}{}
	return reg
}

func (reg *Registry) lock(ctx context.Context) bool {
	select {
	case <-reg.guard:
		return true
	case <-ctx.Done():
		return false
	}
}

func (reg *Registry) unlock() {
	reg.guard <- struct{}{}
}

func (reg *Registry) broadcast() {
	for w := range reg.waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// SubscribeRefresh returns a channel that receives a signal whenever the
// registry's "loaded models" view should be recomputed: after a successful
// init, a model load, or a deletion.
func (reg *Registry) SubscribeRefresh() <-chan struct{} {
	ch := make(chan struct{}, 1)
	reg.refreshMu.Lock()
	reg.refreshSubs[ch] = true
	reg.refreshMu.Unlock()
	return ch
}

// UnsubscribeRefresh removes a channel previously returned by
// SubscribeRefresh.
func (reg *Registry) UnsubscribeRefresh(ch <-chan struct{}) {
	reg.refreshMu.Lock()
	for w := range reg.refreshSubs {
		if w == ch {
			delete(reg.refreshSubs, w)
			break
		}
	}
	reg.refreshMu.Unlock()
}

// NotifyModelsChanged signals every subscriber that the "loaded models"
// view should be recomputed. Callers outside this package (notably the
// scheduler, after a model load completes) use this rather than reaching
// into internal state directly.
func (reg *Registry) NotifyModelsChanged() {
	reg.notifyRefresh()
}

func (reg *Registry) notifyRefresh() {
	reg.refreshMu.Lock()
	defer reg.refreshMu.Unlock()
	for w := range reg.refreshSubs {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// InitQueue exposes the channel the Init Worker drains. It is internal
// wiring between the registry and pkg/registry's own init worker.
func (reg *Registry) InitQueue() <-chan *Record { return reg.initQueue }

// enqueueInit pushes a record onto the init queue, or runs its init inline
// if its type is flagged FastLoad.
func (reg *Registry) enqueueInit(ctx context.Context, r *Record) {
	if r.BackType != nil && r.BackType.FastLoad {
		driveInit(ctx, reg.log, r, reg.store.MaxInitAttempts(), reg.notifyRefresh)
		return
	}
	select {
	case reg.initQueue <- r:
	default:
		reg.log.Warnf("init queue full, dropping enqueue for backend %d", r.ID)
	}
}

// Add assigns a fresh real id, creates a WAITING record, and enqueues
// initialization.
func (reg *Registry) Add(ctx context.Context, typeID, title, settingsRaw string, enabled bool) (*Record, error) {
	btype, ok := reg.types[typeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeID)
	}
	if !reg.lock(ctx) {
		return nil, context.Canceled
	}
	if reg.shuttingDown {
		reg.unlock()
		return nil, ErrShuttingDown
	}
	id := reg.nextRealID
	reg.nextRealID++
	r := NewRecord(id, btype, title, settingsRaw, enabled)
	reg.records[id] = r
	reg.broadcast()
	reg.unlock()

	if err := reg.attachDriver(r); err != nil {
		return r, nil
	}
	reg.enqueueInit(ctx, r)
	if err := reg.Save(); err != nil {
		reg.log.Warnf("unable to persist configuration after add: %v", err)
	}
	return r, nil
}

// attachDriver constructs r's driver from its backend type's factory. A
// construction failure is a configuration refusal: the record is marked
// ERRORED immediately and never reaches the init queue.
func (reg *Registry) attachDriver(r *Record) error {
	driver, err := r.BackType.NewDriver(r.SettingsRaw)
	if err != nil {
		r.MarkErrored(fmt.Errorf("configuration refused: %w", err))
		return err
	}
	r.Driver = driver
	return nil
}

// AddNonreal creates an ephemeral, never-persisted record with a negative
// id.
func (reg *Registry) AddNonreal(ctx context.Context, typeID, title, settingsRaw string, enabled bool) (*Record, error) {
	btype, ok := reg.types[typeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeID)
	}
	if !reg.lock(ctx) {
		return nil, context.Canceled
	}
	if reg.shuttingDown {
		reg.unlock()
		return nil, ErrShuttingDown
	}
	id := reg.nextNonrealID
	reg.nextNonrealID--
	r := NewRecord(id, btype, title, settingsRaw, enabled)
	reg.records[id] = r
	reg.broadcast()
	reg.unlock()

	if err := reg.attachDriver(r); err != nil {
		return r, nil
	}
	reg.enqueueInit(ctx, r)
	return r, nil
}

// cleanShutdown reserves the record (blocking new acquisitions), waits for
// its usages to drain to zero, then calls ShutdownNow. It returns early with
// an error if ctx is cancelled before the drain completes.
func (reg *Registry) cleanShutdown(ctx context.Context, r *Record) error {
	r.SetReserved(true)
	for r.Usages() > 0 {
		select {
		case <-time.After(cleanShutdownPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.Driver != nil {
		r.Driver.ShutdownNow()
	}
	return nil
}

// DeleteByID performs a clean shutdown of the given record and removes it
// from the registry.
func (reg *Registry) DeleteByID(ctx context.Context, id int) (bool, error) {
	if !reg.lock(ctx) {
		return false, context.Canceled
	}
	r, ok := reg.records[id]
	reg.unlock()
	if !ok {
		return false, nil
	}

	if err := reg.cleanShutdown(ctx, r); err != nil {
		return false, err
	}

	if !reg.lock(ctx) {
		return false, context.Canceled
	}
	delete(reg.records, id)
	reg.broadcast()
	reg.unlock()

	reg.notifyRefresh()
	if r.IsReal() {
		if err := reg.Save(); err != nil {
			reg.log.Warnf("unable to persist configuration after delete: %v", err)
		}
	}
	return true, nil
}

// EditByID performs a clean shutdown, replaces settings, bumps the
// modification counter, and re-enqueues initialization.
func (reg *Registry) EditByID(ctx context.Context, id int, newSettingsRaw string, title *string) (*Record, error) {
	if !reg.lock(ctx) {
		return nil, context.Canceled
	}
	r, ok := reg.records[id]
	reg.unlock()
	if !ok {
		return nil, ErrBackendNotFound
	}

	if err := reg.cleanShutdown(ctx, r); err != nil {
		return nil, err
	}

	r.SettingsRaw = newSettingsRaw
	if title != nil {
		r.Title = *title
	}
	r.Bump()
	r.SetReserved(false)
	r.MarkWaiting()

	if err := reg.attachDriver(r); err != nil {
		return r, nil
	}
	reg.enqueueInit(ctx, r)
	if r.IsReal() {
		if err := reg.Save(); err != nil {
			reg.log.Warnf("unable to persist configuration after edit: %v", err)
		}
	}
	return r, nil
}

// ReloadAll sequences a clean shutdown and re-init for every record.
func (reg *Registry) ReloadAll(ctx context.Context) error {
	if !reg.lock(ctx) {
		return context.Canceled
	}
	all := make([]*Record, 0, len(reg.records))
	for _, r := range reg.records {
		all = append(all, r)
	}
	reg.unlock()

	for _, r := range all {
		if err := reg.cleanShutdown(ctx, r); err != nil {
			return err
		}
		r.SetReserved(false)
		r.MarkWaiting()
		reg.enqueueInit(ctx, r)
	}
	return nil
}

// RunningBackendsOf returns a snapshot of records of the given type that are
// RUNNING and not reserved.
func (reg *Registry) RunningBackendsOf(ctx context.Context, typeID string) ([]*Record, error) {
	if !reg.lock(ctx) {
		return nil, context.Canceled
	}
	defer reg.unlock()
	var out []*Record
	for _, r := range reg.records {
		if r.BackType != nil && r.BackType.ID == typeID && r.Status() == StatusRunning && !r.Reserved() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// All returns a stable-ordered snapshot of every record currently held.
func (reg *Registry) All(ctx context.Context) ([]*Record, error) {
	if !reg.lock(ctx) {
		return nil, context.Canceled
	}
	defer reg.unlock()
	out := make([]*Record, 0, len(reg.records))
	for _, r := range reg.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the record with the given id.
func (reg *Registry) Get(ctx context.Context, id int) (*Record, error) {
	if !reg.lock(ctx) {
		return nil, context.Canceled
	}
	defer reg.unlock()
	r, ok := reg.records[id]
	if !ok {
		return nil, ErrBackendNotFound
	}
	return r, nil
}

// Load reads persisted configuration and creates a record for every entry,
// reserving ids so that the next fresh id exceeds the maximum loaded id.
// Unknown type ids are skipped with a warning; on parse failure the file is
// left in place and the registry starts empty.
func (reg *Registry) Load(ctx context.Context) error {
	entries, err := reg.store.Load()
	if err != nil {
		reg.log.Warnf("unable to load persisted configuration, starting empty: %v", err)
		return nil
	}

	if !reg.lock(ctx) {
		return context.Canceled
	}
	maxID := -1
	for id, entry := range entries {
		btype, ok := reg.types[entry.Type]
		if !ok {
			reg.log.Warnf("skipping backend %d: unknown type %q", id, entry.Type)
			continue
		}
		r := NewRecord(id, btype, entry.Title, entry.SettingsRaw, entry.Enabled)
		reg.records[id] = r
		if id > maxID {
			maxID = id
		}
	}
	reg.nextRealID = maxID + 1
	all := make([]*Record, 0, len(reg.records))
	for _, r := range reg.records {
		all = append(all, r)
	}
	reg.unlock()

	for _, r := range all {
		if err := reg.attachDriver(r); err != nil {
			continue
		}
		reg.enqueueInit(ctx, r)
	}
	return nil
}

// Save persists only real records, keyed by decimal id, under the save lock
// that serializes configuration writes.
func (reg *Registry) Save() error {
	reg.saveMu.Lock()
	defer reg.saveMu.Unlock()

	entries := make(map[int]Entry)
	for _, r := range reg.snapshotForSave() {
		if !r.IsReal() {
			continue
		}
		entries[r.ID] = Entry{
			Type:        r.BackType.ID,
			Title:       r.Title,
			Enabled:     r.Enabled,
			SettingsRaw: r.SettingsRaw,
		}
	}
	return reg.store.Save(entries)
}

func (reg *Registry) snapshotForSave() []*Record {
	reg.lock(context.Background())
	defer reg.unlock()
	out := make([]*Record, 0, len(reg.records))
	for _, r := range reg.records {
		out = append(out, r)
	}
	return out
}

// Shutdown clean-shuts-down every record and marks the registry as refusing
// further admin operations. It is idempotent.
func (reg *Registry) Shutdown(ctx context.Context) error {
	if !reg.lock(ctx) {
		return context.Canceled
	}
	if reg.shuttingDown {
		reg.unlock()
		return nil
	}
	reg.shuttingDown = true
	all := make([]*Record, 0, len(reg.records))
	for _, r := range reg.records {
		all = append(all, r)
	}
	reg.unlock()

	for _, r := range all {
		if err := reg.cleanShutdown(ctx, r); err != nil {
			reg.log.Warnf("backend %d did not drain cleanly during shutdown: %v", r.ID, err)
		}
	}
	return nil
}
