// Package stats serves the service-wide counters shown on the dashboard.
package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"kbingest/internal/ingestion"
	"kbingest/internal/middleware"
)

type SourceRepo interface {
	Totals(ctx context.Context) (sources, pages int, err error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type RunTracker interface {
	Active() []ingestion.RunInfo
}

type Handler struct {
	sourceRepo SourceRepo
	jobRepo    JobRepo
	runs       RunTracker
}

func NewHandler(s SourceRepo, j JobRepo, r RunTracker) *Handler {
	return &Handler{sourceRepo: s, jobRepo: j, runs: r}
}

type StatsResponse struct {
	Sources    int `json:"sources"`
	Pages      int `json:"pages"`
	FailedJobs int `json:"failed_jobs"`
	ActiveRuns int `json:"active_runs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sources, pages, err := h.sourceRepo.Totals(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count sources", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count sources", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Sources:    sources,
		Pages:      pages,
		FailedJobs: jCount,
		ActiveRuns: len(h.runs.Active()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
