// Package source exposes the lineage records written during ingestion:
// sources, the pages under them and the chunks derived from those pages.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kbingest/internal/ingestion"
)

var ErrNotFound = errors.New("source not found")

type Source struct {
	ID                string         `json:"source_id"`
	Title             string         `json:"title"`
	Summary           string         `json:"summary"`
	TotalWordCount    int            `json:"total_word_count"`
	KnowledgeType     string         `json:"knowledge_type"`
	Tags              []string       `json:"tags"`
	Metadata          map[string]any `json:"metadata"`
	OriginalURL       string         `json:"original_url,omitempty"`
	SourceURL         string         `json:"source_url,omitempty"`
	SourceDisplayName string         `json:"source_display_name,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type Page struct {
	ID           string `json:"id"`
	SourceID     string `json:"source_id"`
	URL          string `json:"url"`
	SectionTitle string `json:"section_title,omitempty"`
	SectionOrder int    `json:"section_order"`
	WordCount    int    `json:"word_count"`
	CharCount    int    `json:"char_count"`
	CrawlType    string `json:"crawl_type"`
}

// Stats aggregates the pages of a source.
type Stats struct {
	SourceID     string `json:"source_id"`
	PageCount    int    `json:"page_count"`
	WordCount    int    `json:"word_count"`
	CharCount    int    `json:"char_count"`
	SectionCount int    `json:"section_count"`
}

// ListFilter narrows List. Zero values mean no filter.
type ListFilter struct {
	KnowledgeType string
	Query         string
	Limit         int
}

type Repository interface {
	List(ctx context.Context, f ListFilter) ([]Source, error)
	Get(ctx context.Context, id string) (*Source, error)
	Pages(ctx context.Context, sourceID string) ([]Page, error)
	Stats(ctx context.Context, sourceID string) (*Stats, error)
	Delete(ctx context.Context, id string) error
}

type ChunkStore interface {
	DeleteChunksByURLs(ctx context.Context, urls []string) error
	ChunksByURL(ctx context.Context, url string, limit int) ([]ingestion.Chunk, error)
	CountChunks(ctx context.Context, sourceID string) (int, error)
}

type Service struct {
	repo       Repository
	chunkStore ChunkStore
}

func NewService(repo Repository, chunkStore ChunkStore) *Service {
	return &Service{repo: repo, chunkStore: chunkStore}
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Source, error) {
	return s.repo.List(ctx, f)
}

type SourceDetail struct {
	Source
	Pages      []Page `json:"pages"`
	ChunkCount int    `json:"chunk_count"`
}

func (s *Service) Get(ctx context.Context, id string) (*SourceDetail, error) {
	src, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	pages, err := s.repo.Pages(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch pages", "error", err, "source_id", id)
		pages = []Page{}
	}
	detail := &SourceDetail{Source: *src, Pages: pages}
	if s.chunkStore != nil {
		if n, err := s.chunkStore.CountChunks(ctx, id); err != nil {
			slog.WarnContext(ctx, "failed to count chunks", "error", err, "source_id", id)
		} else {
			detail.ChunkCount = n
		}
	}
	return detail, nil
}

// Chunks returns the stored chunks of one page of the source, in order.
func (s *Service) Chunks(ctx context.Context, id, pageURL string, limit int) ([]ingestion.Chunk, error) {
	pages, err := s.repo.Pages(ctx, id)
	if err != nil {
		return nil, err
	}
	found := false
	for _, p := range pages {
		if p.URL == pageURL {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNotFound
	}
	if s.chunkStore == nil {
		return []ingestion.Chunk{}, nil
	}
	return s.chunkStore.ChunksByURL(ctx, pageURL, limit)
}

func (s *Service) Pages(ctx context.Context, id string) ([]Page, error) {
	return s.repo.Pages(ctx, id)
}

func (s *Service) Stats(ctx context.Context, id string) (*Stats, error) {
	return s.repo.Stats(ctx, id)
}

// Delete removes the source's chunks from the vector store, then the source
// row. Pages go with it through the foreign key.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}

	pages, err := s.repo.Pages(ctx, id)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	if len(pages) > 0 && s.chunkStore != nil {
		urls := make([]string, len(pages))
		for i, p := range pages {
			urls[i] = p.URL
		}
		if err := s.chunkStore.DeleteChunksByURLs(ctx, urls); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "source deleted", "source_id", id, "pages", len(pages))
	return nil
}
