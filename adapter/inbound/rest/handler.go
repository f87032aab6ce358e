package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ajkula/GoPIO/domain/port/inbound"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

// Handler serves the spin diagnostics API
type Handler struct {
	spin   inbound.SpinService
	logger outbound.Logger
}

func NewHandler(spin inbound.SpinService, logger outbound.Logger) *Handler {
	return &Handler{spin: spin, logger: logger}
}

// SetupRoutes registers the diagnostics routes on router
func (h *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/api/spin/status", h.getStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/spin/last-flush", h.getLastFlush).Methods(http.MethodGet)
	router.HandleFunc("/health", h.healthCheck).Methods(http.MethodGet)
	router.Use(h.logRequests)
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !h.spin.Status().Running {
		status = "idle"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.spin.Status())
}

func (h *Handler) getLastFlush(w http.ResponseWriter, r *http.Request) {
	last := h.spin.Status().LastFlush
	if last == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no flush yet"})
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("Diagnostics request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
