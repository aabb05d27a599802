// Package handler exposes the janitor's admin surface: two manual trigger
// endpoints for the cleanup and purge passes. It carries no public API.
package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/forgeline/order-janitor/internal/cleanup"
)

// Handler serves the admin trigger endpoints.
type Handler struct {
	engine       *cleanup.Engine
	purgeEnabled bool
}

// NewHandler constructs a Handler around the cleanup engine. purgeEnabled
// mirrors the configuration flag; when false the purge endpoint refuses to
// run.
func NewHandler(engine *cleanup.Engine, purgeEnabled bool) *Handler {
	return &Handler{
		engine:       engine,
		purgeEnabled: purgeEnabled,
	}
}

// Register attaches the admin routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/cleanup", h.cleanup)
	mux.HandleFunc("POST /admin/purge", h.purge)
}

// cleanupRequest optionally overrides the configured stale threshold.
type cleanupRequest struct {
	MaxAgeMinutes int `json:"maxAgeMinutes"`
}

type cleanupResponse struct {
	Cancelled int `json:"cancelled"`
}

// purgeRequest optionally overrides the configured retention window.
type purgeRequest struct {
	MinAgeDays int `json:"minAgeDays"`
}

type purgeResponse struct {
	Deleted int `json:"deleted"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MaxAgeMinutes < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "maxAgeMinutes must not be negative"})
		return
	}

	cancelled, err := h.engine.TriggerManualCleanup(r.Context(), req.MaxAgeMinutes)
	if err != nil {
		zctx.From(r.Context()).Error("Manual cleanup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "cleanup run failed"})
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Cancelled: cancelled})
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	if !h.purgeEnabled {
		writeJSON(w, http.StatusConflict, errorResponse{Message: "cancelled-order deletion is disabled"})
		return
	}

	var req purgeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MinAgeDays < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "minAgeDays must not be negative"})
		return
	}

	deleted, err := h.engine.TriggerManualCancelledOrderDeletion(r.Context(), req.MinAgeDays)
	if err != nil {
		zctx.From(r.Context()).Error("Manual purge failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "purge run failed"})
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{Deleted: deleted})
}

// decodeBody parses an optional JSON body into dst. An empty body leaves dst
// at its zero value. Returns false after writing an error response.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "failed to read request body"})
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
