package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kbingest/internal/ingestion"

	"golang.org/x/sync/errgroup"
)

const (
	defaultEmbedConcurrency = 4
	embedTimeout            = 60 * time.Second
	documentContextChars    = 200
)

// ChunkWriter embeds chunks and stores them in the vector store, one
// sub-batch at a time.
type ChunkWriter struct {
	embedder    Embedder
	store       VectorStore
	concurrency int
}

func NewChunkWriter(e Embedder, s VectorStore, concurrency int) *ChunkWriter {
	if concurrency < 1 {
		concurrency = defaultEmbedConcurrency
	}
	return &ChunkWriter{embedder: e, store: s, concurrency: concurrency}
}

// WriteChunks implements ingestion.ChunkWriter. On error the returned stats
// count the sub-batches already stored.
func (w *ChunkWriter) WriteChunks(ctx context.Context, req ingestion.WriteRequest) (ingestion.WriteStats, error) {
	var stats ingestion.WriteStats

	if req.DeleteExisting && len(req.DeletionURLs) > 0 {
		if err := w.store.DeleteChunksByURLs(ctx, req.DeletionURLs); err != nil {
			return stats, fmt.Errorf("delete existing chunks: %w", err)
		}
		slog.DebugContext(ctx, "deleted existing chunks", "urls", len(req.DeletionURLs))
	}

	batchSize := req.BatchSize
	if batchSize < 1 {
		batchSize = ingestion.DefaultWriteBatchSize
	}

	total := len(req.Chunks)
	for start := 0; start < total; start += batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		end := min(start+batchSize, total)
		embedded, err := w.embedBatch(ctx, req, req.Chunks[start:end])
		if err != nil {
			return stats, err
		}

		n, err := w.store.StoreChunks(ctx, embedded)
		stats.ChunksStored += n
		if err != nil {
			return stats, fmt.Errorf("store chunks %d-%d: %w", start, end-1, err)
		}

		if req.Progress != nil {
			req.Progress(ctx, "document_storage", end*100/total,
				fmt.Sprintf("Stored %d/%d chunks", end, total))
		}
	}

	return stats, nil
}

func (w *ChunkWriter) embedBatch(ctx context.Context, req ingestion.WriteRequest, batch []ingestion.Chunk) ([]EmbeddedChunk, error) {
	embedded := make([]EmbeddedChunk, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for i, c := range batch {
		if c.PageID == "" {
			c.PageID = req.URLToPageID[c.URL]
		}
		g.Go(func() error {
			embedCtx, cancel := context.WithTimeout(gctx, embedTimeout)
			defer cancel()

			vec, err := w.embedder.Embed(embedCtx, contextualString(c, req.URLToFullDocument[c.URL]))
			if err != nil {
				slog.ErrorContext(ctx, "embedding failed", "error", err, "source_id", c.SourceID, "url", c.URL, "chunk_index", c.ChunkIndex)
				return fmt.Errorf("embed chunk %d of %s: %w", c.ChunkIndex, c.URL, err)
			}
			embedded[i] = EmbeddedChunk{Chunk: c, Vector: vec}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embedded, nil
}

// contextualString prefixes the chunk with document metadata so the
// embedding carries where the text came from. Format:
//
//	Title: <title>
//	URL: <url>
//	Type: <crawl type>
//	Sections: <headers> (optional)
//	Document: <start of full document> (optional)
//	---
//	<chunk content>
func contextualString(c ingestion.Chunk, fullDocument string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\nURL: %s\nType: %s", c.Title, c.URL, c.CrawlType)
	if c.Headers != "" {
		fmt.Fprintf(&b, "\nSections: %s", c.Headers)
	}
	if fullDocument != "" && fullDocument != c.Content {
		fmt.Fprintf(&b, "\nDocument: %s", documentLead(fullDocument))
	}
	fmt.Fprintf(&b, "\n---\n%s", c.Content)
	return b.String()
}

// documentLead returns the first line of the document, capped in length.
func documentLead(doc string) string {
	lead := strings.TrimSpace(doc)
	if i := strings.IndexByte(lead, '\n'); i >= 0 {
		lead = lead[:i]
	}
	if len(lead) > documentContextChars {
		cut := documentContextChars
		for cut > 0 && !isRuneStart(lead[cut]) {
			cut--
		}
		lead = lead[:cut]
	}
	return lead
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
