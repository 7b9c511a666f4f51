package heartbeat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"worknode/internal/failure"
	"worknode/internal/middleware"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Latest serves the most recent heartbeat recorded for a component.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	componentID := r.PathValue("component")

	rec, err := h.repo.Latest(ctx, componentID)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.writeError(ctx, w, "NOT_FOUND", "no heartbeat recorded for "+componentID, http.StatusNotFound)
		case failure.IsUnavailable(err):
			slog.ErrorContext(ctx, "heartbeat store unavailable", "error", err)
			h.writeError(ctx, w, "UNAVAILABLE", err.Error(), http.StatusServiceUnavailable)
		default:
			slog.ErrorContext(ctx, "failed to get latest heartbeat", "component_id", componentID, "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to get heartbeat", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": rec}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
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
