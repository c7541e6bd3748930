// Package metrics exposes Prometheus gauges for backend usage, pressure
// scores, and session counters.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder owns the Prometheus collectors for the backend pool. Unlike the
// teacher's registry-pull Tracker, this recorder has no network side
// effects: it is a pure in-process gauge set, scraped over /metrics.
type Recorder struct {
	registry *prometheus.Registry

	backendUsages  *prometheus.GaugeVec
	backendStatus  *prometheus.GaugeVec
	pressureScore  *prometheus.GaugeVec
	sessionWaiting *prometheus.GaugeVec
	sessionLive    *prometheus.GaugeVec
}

// NewRecorder constructs a Recorder and registers its collectors with a
// fresh Prometheus registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		backendUsages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backendpool_backend_usages",
			Help: "Current number of acquired usage slots on a backend.",
		}, []string{"backend_id", "type"}),
		backendStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backendpool_backend_status",
			Help: "Backend status, one gauge per (backend, status) pair set to 1 for the active status.",
		}, []string{"backend_id", "type", "status"}),
		pressureScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backendpool_pressure_score",
			Help: "Current heuristic pressure score for a pending model.",
		}, []string{"model"}),
		sessionWaiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backendpool_session_waiting",
			Help: "Per-session count of requests waiting for a backend.",
		}, []string{"session_id"}),
		sessionLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backendpool_session_live",
			Help: "Per-session count of live generations.",
		}, []string{"session_id"}),
	}

	reg.MustRegister(r.backendUsages, r.backendStatus, r.pressureScore, r.sessionWaiting, r.sessionLive)
	return r
}

// Registry exposes the underlying Prometheus registry for wiring into an
// HTTP handler.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// SetBackendUsages records a backend's current usage count.
func (r *Recorder) SetBackendUsages(backendID int, typeID string, usages int) {
	r.backendUsages.WithLabelValues(strconv.Itoa(backendID), typeID).Set(float64(usages))
}

// SetBackendStatus zeroes every known status gauge for a backend and sets
// the active one to 1.
func (r *Recorder) SetBackendStatus(backendID int, typeID string, statuses []string, active string) {
	for _, s := range statuses {
		v := 0.0
		if s == active {
			v = 1.0
		}
		r.backendStatus.WithLabelValues(strconv.Itoa(backendID), typeID, s).Set(v)
	}
}

// SetPressureScore records a model's current heuristic score.
func (r *Recorder) SetPressureScore(model string, score int) {
	r.pressureScore.WithLabelValues(model).Set(float64(score))
}

// RemovePressure deletes a model's pressure gauge once its entry is
// cleared.
func (r *Recorder) RemovePressure(model string) {
	r.pressureScore.DeleteLabelValues(model)
}

// SetSessionCounters records one session's waiting/live counters.
func (r *Recorder) SetSessionCounters(sessionID string, waiting, live int) {
	r.sessionWaiting.WithLabelValues(sessionID).Set(float64(waiting))
	r.sessionLive.WithLabelValues(sessionID).Set(float64(live))
}

