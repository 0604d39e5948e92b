package source

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"kbingest/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{
		KnowledgeType: q.Get("knowledge_type"),
		Query:         q.Get("q"),
	}
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			f.Limit = parsed
		}
	}

	sources, err := h.service.List(r.Context(), f)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if sources == nil {
		sources = []Source{}
	}

	h.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"data": sources,
		"meta": map[string]int{"count": len(sources)},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"data": detail})
}

func (h *Handler) GetPages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pages, err := h.service.Pages(r.Context(), id)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	if pages == nil {
		pages = []Page{}
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"data": pages,
		"meta": map[string]int{"count": len(pages)},
	})
}

func (h *Handler) GetChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "url query parameter is required", http.StatusBadRequest)
		return
	}
	limit := defaultChunkLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	chunks, err := h.service.Chunks(r.Context(), id, pageURL, limit)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	out := make([]chunkView, len(chunks))
	for i, c := range chunks {
		out[i] = chunkView{URL: c.URL, ChunkIndex: c.ChunkIndex, Content: c.Content, PageID: c.PageID, Title: c.Title}
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"data": out,
		"meta": map[string]int{"count": len(out)},
	})
}

const defaultChunkLimit = 100

type chunkView struct {
	URL        string `json:"url"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	PageID     string `json:"page_id,omitempty"`
	Title      string `json:"title,omitempty"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, err := h.service.Stats(r.Context(), id)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]any{"data": stats})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		h.writeError(ctx, w, "NOT_FOUND", "Source not found", http.StatusNotFound)
		return
	}
	slog.ErrorContext(ctx, "source request failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
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
