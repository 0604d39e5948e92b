// Package ingestion turns crawled documents into stored, lineage-tracked
// chunks: sources first, then pages, then chunks streamed to the chunk
// writer in bounded flushes.
package ingestion

import "context"

// CrawledDocument is one crawled page. Documents without a URL or with
// blank Markdown are skipped.
type CrawledDocument struct {
	URL         string `json:"url"`
	Markdown    string `json:"markdown"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Request carries the caller's crawl parameters that end up on every
// stored record.
type Request struct {
	URL           string   `json:"url"`
	KnowledgeType string   `json:"knowledge_type,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// Input is everything one ingestion run needs.
type Input struct {
	Documents         []CrawledDocument
	Request           Request
	CrawlType         string
	SourceID          string
	SourceURL         string
	SourceDisplayName string
}

const DefaultKnowledgeType = "documentation"

func (r Request) knowledgeType() string {
	if r.KnowledgeType == "" {
		return DefaultKnowledgeType
	}
	return r.KnowledgeType
}

// Chunk is one stored unit of text. ChunkIndex is contiguous from 0 per URL.
type Chunk struct {
	URL           string
	ChunkIndex    int
	Content       string
	WordCount     int
	CharCount     int
	SourceID      string
	KnowledgeType string
	PageID        string
	CrawlType     string
	Tags          []string
	Title         string
	Description   string
	Headers       string
	HasCode       bool
}

// SourceRecord is the top-level lineage record. It must be durable before
// any page or chunk referencing it is written.
type SourceRecord struct {
	SourceID          string
	Title             string
	Summary           string
	TotalWordCount    int
	Metadata          map[string]any
	Tags              []string
	KnowledgeType     string
	OriginalURL       string
	SourceURL         string
	SourceDisplayName string
}

// PageRecord is one document, or one section of a multi-section document.
type PageRecord struct {
	ID           string
	SourceID     string
	URL          string
	SectionTitle string
	SectionOrder int
	WordCount    int
	CharCount    int
	CrawlType    string
}

type State string

const (
	StatePreparing          State = "preparing"
	StateRegisteringSources State = "registering_sources"
	StateRegisteringPages   State = "registering_pages"
	StateStreaming          State = "streaming"
	StateFinalizing         State = "finalizing"
	StateDone               State = "done"
	StateCancelled          State = "cancelled"
	StateFailed             State = "failed"
)

// Result summarises a run. ChunkCount counts chunks produced; ChunksStored
// counts chunks the writer confirmed, which is lower after a failure or
// cancellation.
type Result struct {
	State              State             `json:"state"`
	ChunkCount         int               `json:"chunk_count"`
	ChunksStored       int               `json:"chunks_stored"`
	TotalWordCount     int               `json:"total_word_count"`
	URLToFullDocument  map[string]string `json:"-"`
	SourceID           string            `json:"source_id"`
	SourceWordCounts   map[string]int    `json:"source_word_counts"`
	ProcessedDocuments int               `json:"processed_documents"`
	SkippedDocuments   int               `json:"skipped_documents"`
	Flushes            int               `json:"flushes"`
	CodeExamplesStored int               `json:"code_examples_stored"`
}

// ProgressFunc receives progress updates. A nil ProgressFunc is legal.
type ProgressFunc func(ctx context.Context, stage string, percent int, message string)

func (p ProgressFunc) report(ctx context.Context, stage string, percent int, message string) {
	if p != nil {
		p(ctx, stage, percent, message)
	}
}
