package ingestion

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"kbingest/internal/text"

	"github.com/google/uuid"
)

const (
	CrawlTypeLLMsTxt  = "llms-txt"
	CrawlTypeLLMsFull = "llms_full"
)

// PageRegistrar writes page records after the source exists. A failed page
// write is not fatal: chunks are then stored without page IDs.
type PageRegistrar struct {
	pages  PageStore
	logger *slog.Logger
}

func NewPageRegistrar(store PageStore, logger *slog.Logger) *PageRegistrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageRegistrar{pages: store, logger: logger}
}

// RegisterDocuments stores one page per document and returns URL -> page ID.
func (r *PageRegistrar) RegisterDocuments(ctx context.Context, docs []CrawledDocument, sourceID, crawlType string) map[string]string {
	pages := make([]PageRecord, 0, len(docs))
	for _, d := range docs {
		pages = append(pages, PageRecord{
			ID:        uuid.New().String(),
			SourceID:  sourceID,
			URL:       d.URL,
			WordCount: text.CountWords(d.Markdown),
			CharCount: utf8.RuneCountInString(d.Markdown),
			CrawlType: crawlType,
		})
	}
	return r.persist(ctx, pages)
}

// RegisterSections stores one page per section of a multi-section document
// and returns section URL -> page ID.
func (r *PageRegistrar) RegisterSections(ctx context.Context, sections []text.Section, sourceID string) map[string]string {
	pages := make([]PageRecord, 0, len(sections))
	for _, s := range sections {
		pages = append(pages, PageRecord{
			ID:           uuid.New().String(),
			SourceID:     sourceID,
			URL:          s.URL,
			SectionTitle: s.Title,
			SectionOrder: s.Order,
			WordCount:    s.WordCount,
			CharCount:    utf8.RuneCountInString(s.Content),
			CrawlType:    CrawlTypeLLMsFull,
		})
	}
	return r.persist(ctx, pages)
}

func (r *PageRegistrar) persist(ctx context.Context, pages []PageRecord) map[string]string {
	ids := map[string]string{}
	if r.pages == nil || len(pages) == 0 {
		return ids
	}
	stored, err := r.pages.StorePages(ctx, pages)
	if err != nil {
		r.logger.WarnContext(ctx, "page registration failed, chunks will be stored without page ids", "pages", len(pages), "error", err)
		return ids
	}
	for url, id := range stored {
		ids[url] = id
	}
	r.logger.InfoContext(ctx, "pages registered", "count", len(ids))
	return ids
}
