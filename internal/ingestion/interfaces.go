package ingestion

import "context"

type Summarizer interface {
	Summarize(ctx context.Context, sourceID, content string) (string, error)
}

type SourceStore interface {
	UpsertSource(ctx context.Context, rec SourceRecord) error
	// UpsertSourceFallback writes the minimal record used when the full
	// upsert failed.
	UpsertSourceFallback(ctx context.Context, rec SourceRecord) error
	SourceExists(ctx context.Context, sourceID string) (bool, error)
}

// PageStore persists pages and returns URL -> page ID.
type PageStore interface {
	StorePages(ctx context.Context, pages []PageRecord) (map[string]string, error)
}

type WriteRequest struct {
	Chunks            []Chunk
	URLToFullDocument map[string]string
	URLToPageID       map[string]string
	BatchSize         int
	// DeleteExisting asks the writer to remove previously stored chunks
	// for DeletionURLs before inserting.
	DeleteExisting bool
	DeletionURLs   []string
	Progress       ProgressFunc
}

type WriteStats struct {
	ChunksStored int
}

// ChunkWriter embeds and stores chunks. It may return partial stats
// together with an error.
type ChunkWriter interface {
	WriteChunks(ctx context.Context, req WriteRequest) (WriteStats, error)
}

type CodeExtractor interface {
	ExtractCodeExamples(ctx context.Context, docs []CrawledDocument, urlToFullDocument map[string]string, sourceID string, progress ProgressFunc) (int, error)
}

// FlushSizeSource provides an operator override for the flush threshold.
type FlushSizeSource interface {
	FlushChunkSize(ctx context.Context) (int, error)
}
