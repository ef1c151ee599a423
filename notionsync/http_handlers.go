// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Tydring/fitness-finance-tracker/internal/auth"
)

// HTTPHandlers exposes the sync engine over HTTP: manual sync, aggregate
// status, recent sync events, and thin record writes that feed the
// write-trigger source. Form/UI concerns live elsewhere.
type HTTPHandlers struct {
	engine *Engine
	jwt    *JWTAuth
	logger *slog.Logger
}

func NewHTTPHandlers(engine *Engine, jwtAuth *JWTAuth, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{engine: engine, jwt: jwtAuth, logger: logger}
}

// Mux returns the routed handler.
func (h *HTTPHandlers) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /dummy-signin", h.handleSignin)
	mux.Handle("POST /sync/run", h.requireAuth(h.handleSyncRun))
	mux.Handle("GET /sync/status", h.requireAuth(h.handleSyncStatus))
	mux.Handle("GET /sync/events/{collection}", h.requireAuth(h.handleSyncEvents))
	mux.Handle("POST /records/{collection}", h.requireAuth(h.handleCreateRecord))
	mux.Handle("GET /records/{collection}/{id}", h.requireAuth(h.handleGetRecord))
	mux.Handle("PUT /records/{collection}/{id}", h.requireAuth(h.handleUpdateRecord))
	mux.Handle("DELETE /records/{collection}/{id}", h.requireAuth(h.handleDeleteRecord))
	return mux
}

func (h *HTTPHandlers) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.jwt.GetUserID(r)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}
		next(w, r.WithContext(auth.SetUserID(r.Context(), userID)))
	})
}

func (h *HTTPHandlers) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}
	token, err := h.jwt.GenerateToken(req.UserID, 24*time.Hour)
	if err != nil {
		h.logger.Error("Failed to generate token", "error", err)
		h.writeError(w, http.StatusInternalServerError, "signin_failed", "Failed to generate token")
		return
	}
	h.writeJSON(w, map[string]string{"token": token})
}

func (h *HTTPHandlers) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	counts, errs := h.engine.PollAll(r.Context())

	resp := map[string]any{"ok": len(errs) == 0, "processed": counts}
	if len(errs) > 0 {
		errMap := make(map[string]string, len(errs))
		for collection, err := range errs {
			errMap[collection] = err.Error()
		}
		resp["errors"] = errMap
	}
	h.writeJSON(w, resp)
}

func (h *HTTPHandlers) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.engine.Status(r.Context())
	if err != nil {
		h.logger.Error("Failed to compute sync status", "error", err)
		h.writeError(w, http.StatusInternalServerError, "status_failed", "Failed to compute sync status")
		return
	}
	h.writeJSON(w, map[string]any{"collections": statuses})
}

func (h *HTTPHandlers) handleSyncEvents(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	if !h.engine.HasCollection(collection) {
		h.writeError(w, http.StatusNotFound, "unknown_collection", "Collection is not configured for sync")
		return
	}
	events, err := h.engine.Store().RecentEvents(r.Context(), collection, 50)
	if err != nil {
		h.logger.Error("Failed to list sync events", "collection", collection, "error", err)
		h.writeError(w, http.StatusInternalServerError, "events_failed", "Failed to list sync events")
		return
	}
	h.writeJSON(w, map[string]any{"events": events})
}

func (h *HTTPHandlers) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	if !h.engine.HasCollection(collection) {
		h.writeError(w, http.StatusNotFound, "unknown_collection", "Collection is not configured for sync")
		return
	}
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse record fields")
		return
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:         uuid.New(),
		Collection: collection,
		Fields:     fields,
		Source:     SourceApp,
		SyncStatus: StatusPending,
		UpdatedAt:  now,
		CreatedAt:  now,
	}
	if err := h.engine.Store().Save(r.Context(), rec); err != nil {
		h.logger.Error("Failed to create record", "collection", collection, "error", err)
		h.writeError(w, http.StatusInternalServerError, "create_failed", "Failed to create record")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPHandlers) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := h.recordPath(w, r)
	if !ok {
		return
	}
	rec, err := h.engine.Store().Get(r.Context(), collection, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Record not found")
			return
		}
		h.logger.Error("Failed to load record", "collection", collection, "record_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "get_failed", "Failed to load record")
		return
	}
	h.writeJSON(w, rec)
}

func (h *HTTPHandlers) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := h.recordPath(w, r)
	if !ok {
		return
	}
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse record fields")
		return
	}

	rec, err := h.engine.Store().Get(r.Context(), collection, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Record not found")
			return
		}
		h.logger.Error("Failed to load record", "collection", collection, "record_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "update_failed", "Failed to load record")
		return
	}

	for k, v := range fields {
		rec.Fields[k] = v
	}
	rec.Source = SourceApp
	rec.SyncStatus = StatusPending
	rec.UpdatedAt = time.Now().UTC()

	if err := h.engine.Store().Save(r.Context(), rec); err != nil {
		h.logger.Error("Failed to update record", "collection", collection, "record_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "update_failed", "Failed to update record")
		return
	}
	h.writeJSON(w, rec)
}

func (h *HTTPHandlers) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := h.recordPath(w, r)
	if !ok {
		return
	}
	if err := h.engine.Store().Delete(r.Context(), collection, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Record not found")
			return
		}
		h.logger.Error("Failed to delete record", "collection", collection, "record_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandlers) recordPath(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	collection := r.PathValue("collection")
	if !h.engine.HasCollection(collection) {
		h.writeError(w, http.StatusNotFound, "unknown_collection", "Collection is not configured for sync")
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Record id must be a UUID")
		return "", uuid.Nil, false
	}
	return collection, id, true
}

func (h *HTTPHandlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
