package registry

import (
	"sync"
	"time"

	"github.com/dockermodel/backendpool/pkg/inference"
)

// Status is the lifecycle state of a Backend Record.
type Status string

const (
	StatusDisabled Status = "DISABLED"
	StatusWaiting  Status = "WAITING"
	StatusLoading  Status = "LOADING"
	StatusIdle     Status = "IDLE"
	StatusRunning  Status = "RUNNING"
	StatusErrored  Status = "ERRORED"
)

// Record is the mutable per-backend state owned by the Registry. Non-negative
// ids are real (persisted, user-visible); negative ids are nonreal (ephemeral,
// never persisted). A Record's own mutex guards the fields below so that
// usages/reserved/reserveModelLoad/currentModelName can be inspected and
// mutated atomically with respect to one another, per the invariants in
// spec section 3. The Registry may read these fields while holding its own
// lock, but a Record's mutex is never held while taking the Registry's lock.
type Record struct {
	ID int

	BackType *inference.Type
	Driver   inference.Driver

	Title       string
	SettingsRaw string
	Enabled     bool

	mu               sync.Mutex
	status           Status
	usages           int
	maxUsages        int
	reserved         bool
	reserveModelLoad bool
	currentModelName *string
	initAttempts     int
	modCount         int
	timeLastRelease  time.Time
	lastError        error
}

// NewRecord constructs a fresh record in WAITING status (or DISABLED if
// enabled is false), with the given id and settings.
func NewRecord(id int, backType *inference.Type, title, settingsRaw string, enabled bool) *Record {
	status := StatusWaiting
	if !enabled {
		status = StatusDisabled
	}
	return &Record{
		ID:          id,
		BackType:    backType,
		Title:       title,
		SettingsRaw: settingsRaw,
		Enabled:     enabled,
		status:      status,
		maxUsages:   1,
	}
}

// IsReal reports whether this record has a persisted, user-visible id.
func (r *Record) IsReal() bool { return r.ID >= 0 }

func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Record) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Record) Usages() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usages
}

// SetMaxUsages configures the driver-declared concurrency bound. It is set
// once, right after Init succeeds.
func (r *Record) SetMaxUsages(n int) {
	r.mu.Lock()
	if n < 1 {
		n = 1
	}
	r.maxUsages = n
	r.mu.Unlock()
}

func (r *Record) Reserved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserved
}

// SetReserved toggles the reservation flag used by clean-shutdown to block
// new acquisitions while the backend drains.
func (r *Record) SetReserved(v bool) {
	r.mu.Lock()
	r.reserved = v
	r.mu.Unlock()
}

func (r *Record) ReserveModelLoad() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserveModelLoad
}

// SetReserveModelLoad is set by the scheduler while it has committed this
// backend to an imminent model load; no new acquisition may increment
// usages while true (invariant 3).
func (r *Record) SetReserveModelLoad(v bool) {
	r.mu.Lock()
	r.reserveModelLoad = v
	r.mu.Unlock()
}

// CurrentModelName returns the resident model name, if any.
func (r *Record) CurrentModelName() *string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentModelName
}

// SetCurrentModelName changes the resident model. Per invariant 4, callers
// must only do so while ReserveModelLoad is true and usages is zero; this
// method enforces that precondition and returns false if it does not hold.
func (r *Record) SetCurrentModelName(model *string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.reserveModelLoad || r.usages != 0 {
		return false
	}
	r.currentModelName = model
	return true
}

// TimeLastRelease returns the timestamp last updated on claim or release,
// used for LRU tie-breaking among candidate backends.
func (r *Record) TimeLastRelease() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeLastRelease
}

// Eligible reports whether this record may be considered for the "possible"
// set on a scheduler tick: enabled, not reserved, RUNNING.
func (r *Record) Eligible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled && !r.reserved && r.status == StatusRunning
}

// InUse implements invariant 2: a backend is in use iff it has committed to
// a model load or is at its concurrency bound, and is RUNNING.
func (r *Record) InUse() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (r.reserveModelLoad || r.usages >= r.maxUsages) && r.status == StatusRunning
}

// TryAcquire atomically increments usages and refreshes timeLastRelease if
// the record is currently eligible to accept a new usage slot. It returns
// false (without mutating state) if reserveModelLoad is set, the record is
// reserved, not RUNNING, or already at maxUsages.
func (r *Record) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserveModelLoad || r.reserved || r.status != StatusRunning {
		return false
	}
	if r.usages >= r.maxUsages {
		return false
	}
	r.usages++
	r.timeLastRelease = time.Now()
	return true
}

// Release decrements usages and refreshes timeLastRelease. It is a no-op if
// usages is already zero, so double-release is safe.
func (r *Record) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.usages == 0 {
		return
	}
	r.usages--
	r.timeLastRelease = time.Now()
}

// BeginInit marks the record LOADING and increments its attempt counter,
// returning the new attempt count.
func (r *Record) BeginInit() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusLoading
	r.initAttempts++
	return r.initAttempts
}

func (r *Record) InitAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initAttempts
}

func (r *Record) MarkRunning() {
	r.setStatus(StatusRunning)
}

func (r *Record) MarkWaiting() {
	r.setStatus(StatusWaiting)
}

func (r *Record) MarkDisabled() {
	r.setStatus(StatusDisabled)
}

func (r *Record) MarkErrored(err error) {
	r.mu.Lock()
	r.status = StatusErrored
	r.lastError = err
	r.mu.Unlock()
}

func (r *Record) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// Bump increments the monotonic edit counter, called whenever a record's
// configuration changes.
func (r *Record) Bump() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modCount++
	return r.modCount
}

func (r *Record) ModCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modCount
}

// CanLoadModels reports the driver's model-swap capability, or false if the
// record has no driver (its type's driver factory failed or has not run).
func (r *Record) CanLoadModels() bool {
	r.mu.Lock()
	driver := r.Driver
	r.mu.Unlock()
	return driver != nil && driver.CanLoadModels()
}

// Snapshot is a point-in-time, lock-free copy of a record's fields for
// status reporting and admin listing.
type Snapshot struct {
	ID               int
	TypeID           string
	Title            string
	Enabled          bool
	Status           Status
	Usages           int
	MaxUsages        int
	Reserved         bool
	ReserveModelLoad bool
	CurrentModel     *string
	InitAttempts     int
	ModCount         int
	LastError        error
}

func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	typeID := ""
	if r.BackType != nil {
		typeID = r.BackType.ID
	}
	return Snapshot{
		ID:               r.ID,
		TypeID:           typeID,
		Title:            r.Title,
		Enabled:          r.Enabled,
		Status:           r.status,
		Usages:           r.usages,
		MaxUsages:        r.maxUsages,
		Reserved:         r.reserved,
		ReserveModelLoad: r.reserveModelLoad,
		CurrentModel:     r.currentModelName,
		InitAttempts:     r.initAttempts,
		ModCount:         r.modCount,
		LastError:        r.lastError,
	}
}
