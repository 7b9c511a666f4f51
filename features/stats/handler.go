package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"worknode/internal/failure"
	"worknode/internal/middleware"
)

type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Node identifies the process serving the stats.
type Node struct {
	ComponentID string   `json:"component_id"`
	InstanceID  string   `json:"instance_id"`
	Listeners   []string `json:"listeners"`
}

type Handler struct {
	jobRepo       Counter
	heartbeatRepo Counter
	node          Node
}

func NewHandler(jobs, heartbeats Counter, node Node) *Handler {
	return &Handler{jobRepo: jobs, heartbeatRepo: heartbeats, node: node}
}

type StatsResponse struct {
	Node       Node `json:"node"`
	FailedJobs int  `json:"failed_jobs"`
	Heartbeats int  `json:"heartbeats"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeCountError(ctx, w, "failed to count jobs", err)
		return
	}

	hCount, err := h.heartbeatRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count heartbeats", "error", err, "correlationId", correlationID)
		h.writeCountError(ctx, w, "failed to count heartbeats", err)
		return
	}

	resp := StatsResponse{
		Node:       h.node,
		FailedJobs: jCount,
		Heartbeats: hCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeCountError(ctx context.Context, w http.ResponseWriter, message string, err error) {
	if failure.IsUnavailable(err) {
		h.writeError(ctx, w, "UNAVAILABLE", message, http.StatusServiceUnavailable)
		return
	}
	h.writeError(ctx, w, "INTERNAL_ERROR", message, http.StatusInternalServerError)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
