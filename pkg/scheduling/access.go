package scheduling

import (
	"sync"

	"github.com/dockermodel/backendpool/pkg/inference"
	"github.com/dockermodel/backendpool/pkg/registry"
)

// BackendAccess is a scoped resource representing one reserved usage slot
// on a backend record. Acquisition atomically increments the record's
// usages; release decrements it and signals the scheduler. Double-release
// is a no-op.
type BackendAccess struct {
	record    *registry.Record
	scheduler *Scheduler

	once sync.Once
}

// acquire constructs a BackendAccess for r, having already verified r is
// eligible for a new usage slot via TryAcquire.
func acquire(s *Scheduler, r *registry.Record) *BackendAccess {
	return &BackendAccess{record: r, scheduler: s}
}

// Driver exposes the underlying driver so the caller can run a generation
// or model load through it.
func (a *BackendAccess) Driver() inference.Driver {
	return a.record.Driver
}

// Record returns the backend record this handle is scoped to.
func (a *BackendAccess) Record() *registry.Record {
	return a.record
}

// Release decrements the record's usages and wakes the scheduler. It is
// guaranteed to run at most once even if called from multiple exit paths.
func (a *BackendAccess) Release() {
	a.once.Do(func() {
		a.record.Release()
		a.scheduler.signal()
	})
}
