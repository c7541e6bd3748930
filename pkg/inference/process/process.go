// Package process implements a Backend Driver that wraps a single spawned
// worker process, proxying generation and model-load calls to it over a Unix
// domain socket.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/dockermodel/backendpool/pkg/inference"
	"github.com/dockermodel/backendpool/pkg/logging"
	"github.com/dockermodel/backendpool/pkg/sandbox"
	"github.com/dockermodel/backendpool/pkg/tailbuffer"
)

const (
	maximumReadinessPings  = 600
	readinessRetryInterval = 500 * time.Millisecond
	stderrTailSize         = 16 * 1024
)

var errWorkerNotReadyInTime = errors.New("worker process took too long to become ready")

// Config describes how to spawn and reach one worker process.
type Config struct {
	// Command is the executable to run.
	Command string
	// Args are passed verbatim to Command.
	Args []string
	// SocketPath is the Unix domain socket the worker listens on.
	SocketPath string
	// SandboxConfiguration is passed through to sandbox.Create.
	SandboxConfiguration string
}

// Driver implements inference.Driver atop a single spawned process.
type Driver struct {
	log    logging.Logger
	config Config

	client *http.Client
	stderr *bytes.Buffer

	mu      sync.Mutex
	box     sandbox.Sandbox
	catalog inference.Catalog
}

// New constructs a process-backed driver. Init must be called before any
// other method.
func New(log logging.Logger, config Config) *Driver {
	dialer := &net.Dialer{}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", config.SocketPath)
		},
		MaxIdleConns:        8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Driver{
		log:    log,
		config: config,
		client: &http.Client{Transport: transport},
	}
}

// Init spawns the worker process and waits for it to answer readiness pings.
func (d *Driver) Init(ctx context.Context) error {
	tail := tailbuffer.NewTailBuffer(stderrTailSize)

	box, err := sandbox.Create(ctx, d.config.SandboxConfiguration, func(cmd *exec.Cmd) {
		cmd.Stderr = tail
	}, d.config.Command, d.config.Args...)
	if err != nil {
		return fmt.Errorf("%w: unable to start worker process: %v", inference.ErrTransient, err)
	}

	d.mu.Lock()
	d.box = box
	d.mu.Unlock()

	if err := d.waitReady(ctx); err != nil {
		box.Close()
		tailBytes := make([]byte, stderrTailSize)
		n, _ := tail.Read(tailBytes)
		if n > 0 {
			return fmt.Errorf("%w: %v (stderr tail: %s)", inference.ErrTransient, err, tailBytes[:n])
		}
		return fmt.Errorf("%w: %v", inference.ErrTransient, err)
	}

	catalog, err := d.fetchCatalog(ctx)
	if err != nil {
		d.log.Warnf("unable to fetch model catalog after init: %v", err)
	}
	d.mu.Lock()
	d.catalog = catalog
	d.mu.Unlock()

	return nil
}

func (d *Driver) waitReady(ctx context.Context) error {
	for p := 0; p < maximumReadinessPings; p++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost/health", http.NoBody)
		if err != nil {
			return err
		}
		resp, err := d.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if p < maximumReadinessPings-1 {
			select {
			case <-time.After(readinessRetryInterval):
				continue
			case <-ctx.Done():
				return context.Canceled
			}
		}
	}
	return errWorkerNotReadyInTime
}

func (d *Driver) fetchCatalog(ctx context.Context) (inference.Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost/models", http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var catalog inference.Catalog
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

// ShutdownNow terminates the worker process. It is idempotent.
func (d *Driver) ShutdownNow() {
	d.mu.Lock()
	box := d.box
	d.box = nil
	d.mu.Unlock()
	if box != nil {
		if err := box.Close(); err != nil {
			d.log.Warnf("error closing worker sandbox: %v", err)
		}
	}
}

// LoadModel posts a load request to the worker. It must not be called while
// any usage slot is held on the owning Record.
func (d *Driver) LoadModel(ctx context.Context, model string) (bool, error) {
	body, err := json.Marshal(map[string]string{"model": model})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://localhost/models/load", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("load request failed: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// GenerateLive posts the request and streams newline-delimited JSON events
// from the worker's response body.
func (d *Driver) GenerateLive(ctx context.Context, input any, batchID string, onEvent func(inference.Event)) error {
	body, err := json.Marshal(input)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://localhost/generate?batch="+batchID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", inference.ErrPleaseRedirect, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return inference.ErrPleaseRedirect
	}

	decoder := json.NewDecoder(resp.Body)
	for {
		var ev inference.Event
		if err := decoder.Decode(&ev); err != nil {
			if err.Error() == "EOF" {
				return nil
			}
			return fmt.Errorf("generation stream decode failed: %w", err)
		}
		onEvent(ev)
		if ev.Done {
			return nil
		}
	}
}

// CanLoadModels always returns true for process-backed drivers; they can
// always be asked to swap their resident model.
func (d *Driver) CanLoadModels() bool { return true }

// Catalog returns the last catalog fetched during Init.
func (d *Driver) Catalog() inference.Catalog {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.catalog
}
