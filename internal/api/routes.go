package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/cadence-sync/internal/connectivity"
	"github.com/stacklok/cadence-sync/internal/queue"
	"github.com/stacklok/cadence-sync/internal/refresh"
)

// maxPayloadSize bounds the body of an enqueue request
const maxPayloadSize = 1024 * 1024

// EnqueueRequest is the body of POST /v1/operations
type EnqueueRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EnqueueResponse is returned by POST /v1/operations
type EnqueueResponse struct {
	ID string `json:"id"`
}

// RefreshResponse is returned by POST /v1/refresh
type RefreshResponse struct {
	Success bool           `json:"success"`
	Reason  refresh.Reason `json:"reason"`
	Error   string         `json:"error,omitempty"`
}

// ConnectivityRequest is the body of PUT /v1/connectivity
type ConnectivityRequest struct {
	Reachable *bool `json:"reachable"`
}

type handlers struct {
	svc Service
}

func (h *handlers) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/status", h.status)
	r.Post("/refresh", h.refresh)
	r.Put("/connectivity", h.setConnectivity)

	r.Route("/operations", func(r chi.Router) {
		r.Get("/", h.listOperations)
		r.Post("/", h.enqueue)
		r.Post("/{id}/retry", h.retry)
		r.Delete("/{id}", h.discard)
	})

	return r
}

func (*handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CheckReadiness(r.Context()); err != nil {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ready"}, http.StatusOK)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		slog.Error("Failed to read status", "error", err)
		writeError(w, "failed to read status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, st, http.StatusOK)
}

func (h *handlers) listOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.svc.Operations(r.Context())
	if err != nil {
		slog.Error("Failed to list operations", "error", err)
		writeError(w, "failed to list operations", http.StatusInternalServerError)
		return
	}
	if ops == nil {
		ops = []queue.Operation{}
	}
	writeJSON(w, ops, http.StatusOK)
}

func (h *handlers) enqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadSize+1))
	if err != nil {
		writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxPayloadSize {
		writeError(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	var req EnqueueRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, "body must be a JSON object with type and payload", http.StatusBadRequest)
		return
	}

	id, err := h.svc.Enqueue(r.Context(), req.Type, req.Payload)
	if err != nil {
		h.writeQueueError(w, "enqueue", err)
		return
	}
	writeJSON(w, EnqueueResponse{ID: id}, http.StatusAccepted)
}

func (h *handlers) retry(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Retry(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeQueueError(w, "retry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) discard(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeQueueError(w, "discard", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (*handlers) writeQueueError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidOperation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, "operation not found", http.StatusNotFound)
	case errors.Is(err, queue.ErrNotQuarantined):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("Queue request failed", "action", action, "error", err)
		writeError(w, "failed to "+action+" operation", http.StatusInternalServerError)
	}
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	out := h.svc.Refresh(r.Context())
	resp := RefreshResponse{Success: out.Success, Reason: out.Reason}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	writeJSON(w, resp, http.StatusOK)
}

func (h *handlers) setConnectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPayloadSize)).Decode(&req); err != nil || req.Reachable == nil {
		writeError(w, `body must be {"reachable": true|false}`, http.StatusBadRequest)
		return
	}

	if err := h.svc.SetReachable(*req.Reachable); err != nil {
		if errors.Is(err, connectivity.ErrNotHostManaged) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		slog.Error("Failed to set reachability", "error", err)
		writeError(w, "failed to set reachability", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
