// Command modelrunnerd runs the backend lifecycle and dispatch core as a
// standalone daemon: it owns the backend registry, drives the scheduler
// loop, and exposes an admin/status HTTP surface plus Prometheus metrics.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dockermodel/backendpool/pkg/inference"
	"github.com/dockermodel/backendpool/pkg/inference/process"
	"github.com/dockermodel/backendpool/pkg/logging"
	"github.com/dockermodel/backendpool/pkg/metrics"
	"github.com/dockermodel/backendpool/pkg/middleware"
	"github.com/dockermodel/backendpool/pkg/registry"
	"github.com/dockermodel/backendpool/pkg/routing"
	"github.com/dockermodel/backendpool/pkg/scheduling"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logging.NewDefault()

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sockName := os.Getenv("BACKENDPOOL_SOCK")
	if sockName == "" {
		sockName = "backendpool.sock"
	}

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("failed to get user home directory: %v", err)
	}

	registryPath := os.Getenv("BACKENDPOOL_REGISTRY_PATH")
	if registryPath == "" {
		registryPath = filepath.Join(userHomeDir, ".backendpool", "registry.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(registryPath), 0o755); err != nil {
		log.Fatalf("unable to create registry directory: %v", err)
	}

	store := registry.NewFileStore(registryPath, maxBackendInitAttempts())

	types := builtinTypes()
	reg := registry.New(log, types, store)
	if err := reg.Load(ctx); err != nil {
		log.Fatalf("unable to load registry: %v", err)
	}

	initWorker := registry.NewInitWorker(log, reg, maxBackendInitAttempts())
	scheduler := scheduling.NewScheduler(log, reg, initWorker, scheduling.Config{
		PerRequestTimeout: perRequestTimeout(),
		MaxStagnation:     maxStagnationTimeout(),
	})

	recorder := metrics.NewRecorder()
	go sampleMetrics(ctx, reg, scheduler, recorder)

	router := routing.NewNormalizedServeMux()
	admin := &adminHandler{log: logging.Component(log, "admin"), reg: reg}
	router.HandleFunc("/backends", admin.handleBackends)
	router.HandleFunc("/backends/", admin.handleBackendByID)
	router.HandleFunc("/reload", admin.handleReload)
	router.HandleFunc("/status", admin.handleStatus)
	router.Handle("/metrics", promhttp.HandlerFor(recorder.Registry(), promhttp.HandlerOpts{}))

	handler := middleware.CorsMiddleware(nil, router)

	server := &http.Server{Handler: handler}
	serverErrors := make(chan error, 1)

	if tcpPort := os.Getenv("BACKENDPOOL_PORT"); tcpPort != "" {
		server.Addr = ":" + tcpPort
		log.Infof("listening on TCP port %s", tcpPort)
		go func() {
			serverErrors <- server.ListenAndServe()
		}()
	} else {
		if err := os.Remove(sockName); err != nil && !os.IsNotExist(err) {
			log.Fatalf("failed to remove existing socket: %v", err)
		}
		ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockName, Net: "unix"})
		if err != nil {
			log.Fatalf("failed to listen on socket: %v", err)
		}
		log.Infof("listening on unix socket %s", sockName)
		go func() {
			serverErrors <- server.Serve(ln)
		}()
	}

	schedulerErrors := make(chan error, 1)
	go func() {
		schedulerErrors <- scheduler.Run(ctx)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Errorf("server error: %v", err)
		}
	case <-ctx.Done():
		log.Infoln("shutdown signal received")
		if err := server.Close(); err != nil {
			log.Errorf("server shutdown error: %v", err)
		}
		log.Infoln("waiting for the scheduler to stop")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := reg.Shutdown(shutdownCtx); err != nil {
			log.Errorf("registry shutdown error: %v", err)
		}
		if err := <-schedulerErrors; err != nil {
			log.Errorf("scheduler error: %v", err)
		}
	}
	log.Infoln("backendpool stopped")
}

// allBackendStatuses enumerates every Status value SetBackendStatus must
// zero out alongside the active one.
var allBackendStatuses = []string{
	string(registry.StatusDisabled),
	string(registry.StatusWaiting),
	string(registry.StatusLoading),
	string(registry.StatusIdle),
	string(registry.StatusRunning),
	string(registry.StatusErrored),
}

// sampleMetrics periodically snapshots the registry and the scheduler's
// pressure map into recorder. Backend usage/status and pressure score have
// no natural push point inside the tick loop itself (a tick may not touch
// every backend or every pressure entry), so they are sampled on a timer
// instead.
func sampleMetrics(ctx context.Context, reg *registry.Registry, scheduler *scheduling.Scheduler, recorder *metrics.Recorder) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	seenModels := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		records, err := reg.All(ctx)
		if err != nil {
			continue
		}
		for _, r := range records {
			snap := r.Snapshot()
			recorder.SetBackendUsages(snap.ID, snap.TypeID, snap.Usages)
			recorder.SetBackendStatus(snap.ID, snap.TypeID, allBackendStatuses, string(snap.Status))
		}

		scores := scheduler.PressureSnapshot()
		for model := range seenModels {
			if _, ok := scores[model]; !ok {
				recorder.RemovePressure(model)
				delete(seenModels, model)
			}
		}
		for model, score := range scores {
			recorder.SetPressureScore(model, score)
			seenModels[model] = true
		}
	}
}

func maxBackendInitAttempts() int {
	return envInt("BACKENDPOOL_MAX_INIT_ATTEMPTS", 5)
}

func perRequestTimeout() time.Duration {
	return envDuration("BACKENDPOOL_REQUEST_TIMEOUT", 2*time.Minute)
}

func maxStagnationTimeout() time.Duration {
	return envDuration("BACKENDPOOL_MAX_STAGNATION", 10*time.Minute)
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("invalid %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warnf("invalid %s=%q, using default %s", key, v, def)
		return def
	}
	return d
}

// builtinTypes registers the process-backed driver under a single "process"
// backend type, configured via each record's settings blob ("command" and
// "socket" fields) rather than a hardcoded binary path.
func builtinTypes() map[string]*inference.Type {
	processType := &inference.Type{
		ID:          "process",
		DisplayName: "Subprocess worker",
		FastLoad:    false,
		SettingsSchema: []inference.SettingField{
			{Name: "command", Type: inference.FieldText, Required: true},
			{Name: "socket", Type: inference.FieldText, Required: true},
		},
		NewDriver: func(settingsRaw string) (inference.Driver, error) {
			cfg, err := parseProcessSettings(settingsRaw)
			if err != nil {
				return nil, err
			}
			componentLog := logging.Component(log, "driver:process")
			return process.New(componentLog, cfg), nil
		},
	}
	return map[string]*inference.Type{
		processType.ID: processType,
	}
}
