// Package ingestion is the HTTP surface for ingestion runs: queueing a run,
// listing active runs and cancelling one.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"kbingest/internal/config"
	core "kbingest/internal/ingestion"
	"kbingest/internal/middleware"
	"kbingest/internal/worker"
)

// DefaultMaxMessageBytes matches the nsqd --max-msg-size the service is
// deployed with.
const DefaultMaxMessageBytes int64 = 10 << 20

var ErrInvalidRequest = errors.New("invalid ingestion request")

type Publisher interface {
	Publish(topic string, body []byte) error
}

// RunTracker is the part of the run registry the handler needs.
type RunTracker interface {
	Active() []core.RunInfo
	Cancel(runID string) error
}

type Handler struct {
	pub      Publisher
	runs     RunTracker
	maxBytes int64
}

type HandlerOption func(*Handler)

// WithMaxMessageBytes caps request bodies and published payloads at the
// largest message the queue accepts.
func WithMaxMessageBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBytes = n
		}
	}
}

func NewHandler(pub Publisher, runs RunTracker, opts ...HandlerOption) *Handler {
	h := &Handler{pub: pub, runs: runs, maxBytes: DefaultMaxMessageBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateRequest is the body of POST /ingestions.
type CreateRequest struct {
	SourceID          string                 `json:"source_id"`
	CrawlType         string                 `json:"crawl_type"`
	Request           core.Request           `json:"request"`
	SourceURL         string                 `json:"source_url"`
	SourceDisplayName string                 `json:"source_display_name"`
	Documents         []core.CrawledDocument `json:"documents"`
}

func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" {
		return fmt.Errorf("%w: source_id is required", ErrInvalidRequest)
	}
	if len(r.Documents) == 0 {
		return fmt.Errorf("%w: at least one document is required", ErrInvalidRequest)
	}
	for i, d := range r.Documents {
		if strings.TrimSpace(d.URL) == "" {
			return fmt.Errorf("%w: documents[%d].url is required", ErrInvalidRequest, i)
		}
	}
	return nil
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(ctx, w, "PAYLOAD_TOO_LARGE", fmt.Sprintf("Request body exceeds %d bytes", h.maxBytes), http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	payload := worker.IngestPayload{
		RunID:             uuid.New().String(),
		SourceID:          req.SourceID,
		CrawlType:         req.CrawlType,
		Request:           req.Request,
		SourceURL:         req.SourceURL,
		SourceDisplayName: req.SourceDisplayName,
		Documents:         req.Documents,
		CorrelationID:     middleware.GetCorrelationID(ctx),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if int64(len(body)) > h.maxBytes {
		h.writeError(ctx, w, "PAYLOAD_TOO_LARGE", fmt.Sprintf("Ingestion message exceeds %d bytes", h.maxBytes), http.StatusRequestEntityTooLarge)
		return
	}

	if err := h.pub.Publish(config.TopicIngestDocuments, body); err != nil {
		slog.ErrorContext(ctx, "failed to publish ingestion", "error", err, "source_id", req.SourceID)
		h.writeError(ctx, w, "QUEUE_UNAVAILABLE", "Failed to queue ingestion", http.StatusServiceUnavailable)
		return
	}
	slog.InfoContext(ctx, "ingestion queued", "run_id", payload.RunID, "source_id", req.SourceID, "documents", len(req.Documents))

	h.writeJSON(ctx, w, http.StatusAccepted, map[string]any{
		"data": map[string]string{"run_id": payload.RunID, "source_id": req.SourceID, "status": "queued"},
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	runs := h.runs.Active()
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"data": runs,
		"meta": map[string]int{"count": len(runs)},
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if err := h.runs.Cancel(id); err != nil {
		if errors.Is(err, core.ErrRunNotFound) {
			h.writeError(ctx, w, "NOT_FOUND", "Ingestion run not found", http.StatusNotFound)
			return
		}
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	slog.InfoContext(ctx, "ingestion cancellation requested", "run_id", id)

	h.writeJSON(ctx, w, http.StatusAccepted, map[string]any{
		"data": map[string]string{"run_id": id, "status": "cancelling"},
	})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	h.writeJSON(ctx, w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	})
}
