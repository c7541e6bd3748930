// Package inference defines the Backend Driver contract: the boundary
// between the scheduling core and a concrete worker process or endpoint.
package inference

import (
	"context"
	"errors"
)

// Sentinel init errors. A Refused error is terminal (bad configuration, do
// not retry); a Transient error should be retried by the init worker.
var (
	ErrRefused   = errors.New("backend initialization refused")
	ErrTransient = errors.New("backend initialization transient failure")
)

// ErrPleaseRedirect is raised by GenerateLive to indicate that the request
// should be retried against some other backend. The scheduler does not
// inspect this error and does not re-queue a request on it;
// scheduling.Request.UseRedirect only tracks a one-shot redirect budget.
var ErrPleaseRedirect = errors.New("please redirect request to another backend")

// ModelCategory groups models by role on a backend (main checkpoint, VAE,
// LoRA, ControlNet, embedding, ...).
type ModelCategory string

const (
	CategoryMain        ModelCategory = "main"
	CategoryVAE         ModelCategory = "vae"
	CategoryLoRA        ModelCategory = "lora"
	CategoryControlNet  ModelCategory = "controlnet"
	CategoryEmbedding   ModelCategory = "embedding"
)

// Catalog is a driver-reported view of the models it knows about, keyed by
// category.
type Catalog map[ModelCategory][]string

// Event is emitted by GenerateLive for each unit of streamed output.
type Event struct {
	// Progress is set for an in-flight progress record (0-100), and zero
	// otherwise.
	Progress int
	// Image holds a completed output when non-nil.
	Image []byte
	// Done is true on the terminal event for the request.
	Done bool
}

// Driver is the capability set a backend implementation must provide. The
// scheduler treats every Driver as opaque: all its observable side effects
// (GPU state, resident model) are private to the driver.
type Driver interface {
	// Init performs blocking bring-up. On success the driver is ready to
	// serve and its model catalog is available through Catalog; no
	// supported-feature set is reported. It may
	// fail with an error wrapping ErrRefused (do not retry) or ErrTransient
	// (network/process, retry).
	Init(ctx context.Context) error

	// ShutdownNow performs cooperative teardown. It must be callable at any
	// status and must be idempotent.
	ShutdownNow()

	// LoadModel swaps the resident model, returning whether the swap
	// succeeded. It must not be called while any usage slot is held.
	LoadModel(ctx context.Context, model string) (bool, error)

	// GenerateLive runs a single streaming generation. onEvent is invoked in
	// the order outputs are produced. GenerateLive returns once all outputs
	// have been delivered or an error (possibly ErrPleaseRedirect) occurs.
	GenerateLive(ctx context.Context, input any, batchID string, onEvent func(Event)) error

	// CanLoadModels reports whether this driver supports model swapping at
	// all (some backends serve a single fixed model for their lifetime).
	CanLoadModels() bool

	// Catalog returns the most recently discovered model catalog.
	Catalog() Catalog
}
