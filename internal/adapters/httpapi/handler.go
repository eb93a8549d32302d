package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
	"github.com/agritrace/fieldsync/internal/core/usecase"
)

const timeFormat = "2006-01-02T15:04:05.999999999Z07:00"

// Handler exposes the local control surface: sync status, the pending
// queue, manual flush and retry, and the audit trail. It is meant to be
// bound to loopback; nothing here talks to the remote API.
type Handler struct {
	dispatcher *usecase.SyncDispatcher
	queue      ports.PendingQueue
	audit      *usecase.AuditLogService
}

func NewHandler(dispatcher *usecase.SyncDispatcher, queue ports.PendingQueue, audit *usecase.AuditLogService) *Handler {
	return &Handler{dispatcher: dispatcher, queue: queue, audit: audit}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.healthz)
	r.Get("/v1/sync/status", h.syncStatus)
	r.Get("/v1/sync/pending", h.listPending)
	r.Post("/v1/sync/flush", h.flush)
	r.Post("/v1/sync/pending/{id}/retry", h.retry)
	r.Get("/v1/audit", h.listAudit)
	return r
}

type statusResponse struct {
	PendingCount   int64 `json:"pending_count"`
	AppliedTotal   int64 `json:"applied_total"`
	RetriedTotal   int64 `json:"retried_total"`
	ExhaustedTotal int64 `json:"exhausted_total"`
	BlockedTotal   int64 `json:"blocked_total"`
}

type pendingResponse struct {
	ID            int64          `json:"id"`
	EntityID      string         `json:"entity_id"`
	EntityKind    string         `json:"entity_kind"`
	Operation     string         `json:"operation"`
	Payload       map[string]any `json:"payload"`
	Timestamp     string         `json:"timestamp"`
	Retries       int            `json:"retries"`
	UserID        string         `json:"user_id"`
	Status        string         `json:"status"`
	LastError     string         `json:"last_error,omitempty"`
	NextAttemptAt string         `json:"next_attempt_at"`
}

type auditResponse struct {
	ID         int64  `json:"id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Operation  string `json:"operation"`
	Outcome    string `json:"outcome"`
	Detail     string `json:"detail,omitempty"`
	UserID     string `json:"user_id"`
	OccurredAt string `json:"occurred_at"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	count, err := h.queue.CountPending(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	m := h.dispatcher.Metrics()
	writeJSON(w, http.StatusOK, statusResponse{
		PendingCount:   count,
		AppliedTotal:   m.AppliedTotal,
		RetriedTotal:   m.RetriedTotal,
		ExhaustedTotal: m.ExhaustedTotal,
		BlockedTotal:   m.BlockedTotal,
	})
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	ops, err := h.queue.ListByUser(r.Context(), userID)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	out := make([]pendingResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, toPendingResponse(op))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) flush(w http.ResponseWriter, _ *http.Request) {
	h.dispatcher.TriggerSync()
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid operation id")
		return
	}

	if err := h.dispatcher.RetryOperation(r.Context(), id); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"retried": true})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.AuditFilter{
		UserID:     strings.TrimSpace(q.Get("user")),
		EntityKind: domain.EntityKind(strings.TrimSpace(q.Get("kind"))),
		EntityID:   strings.TrimSpace(q.Get("entity")),
		Outcome:    strings.TrimSpace(q.Get("outcome")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			writeError(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		filter.AfterID = after
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func toPendingResponse(op domain.PendingOperation) pendingResponse {
	return pendingResponse{
		ID:            op.ID,
		EntityID:      op.EntityID,
		EntityKind:    string(op.EntityKind),
		Operation:     string(op.Operation),
		Payload:       op.Payload,
		Timestamp:     op.Timestamp.Format(timeFormat),
		Retries:       op.Retries,
		UserID:        op.UserID,
		Status:        string(op.Status),
		LastError:     op.LastError,
		NextAttemptAt: op.NextAttemptAt.Format(timeFormat),
	}
}

func toAuditResponse(e domain.AuditEntry) auditResponse {
	return auditResponse{
		ID:         e.ID,
		EntityKind: string(e.EntityKind),
		EntityID:   e.EntityID,
		Operation:  string(e.Operation),
		Outcome:    e.Outcome,
		Detail:     e.Detail,
		UserID:     e.UserID,
		OccurredAt: e.OccurredAt.Format(timeFormat),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Printf("encode json response: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
