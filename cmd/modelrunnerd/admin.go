package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/dockermodel/backendpool/pkg/logging"
	"github.com/dockermodel/backendpool/pkg/registry"
)

// adminHandler implements the admin operations and status surface described
// in spec section 6: add/edit/delete/reload-all against the registry, and a
// read-only status snapshot, all non-blocking with respect to in-flight
// generations modulo the clean-shutdown drain.
type adminHandler struct {
	log logging.Logger
	reg *registry.Registry
}

type addBackendRequest struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Settings string `json:"settings"`
	Enabled  bool   `json:"enabled"`
}

type editBackendRequest struct {
	Settings string  `json:"settings"`
	Title    *string `json:"title,omitempty"`
}

func (h *adminHandler) handleBackends(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		all, err := h.reg.All(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		snapshots := make([]registry.Snapshot, 0, len(all))
		for _, rec := range all {
			snapshots = append(snapshots, rec.Snapshot())
		}
		writeJSON(w, snapshots)
	case http.MethodPost:
		var req addBackendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec, err := h.reg.Add(r.Context(), req.Type, req.Title, req.Settings, req.Enabled)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, rec.Snapshot())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *adminHandler) handleBackendByID(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		ok, err := h.reg.DeleteByID(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "backend not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		var req editBackendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec, err := h.reg.EditByID(r.Context(), id, req.Settings, req.Title)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, rec.Snapshot())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *adminHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.reg.ReloadAll(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *adminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	all, err := h.reg.All(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	counts := map[registry.Status]int{}
	for _, rec := range all {
		counts[rec.Status()]++
	}
	writeJSON(w, map[string]any{"backendCount": len(all), "byStatus": counts})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func idFromPath(path string) (int, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p == "backends" && i+1 < len(parts) {
			return strconv.Atoi(parts[i+1])
		}
	}
	return 0, strconv.ErrSyntax
}
