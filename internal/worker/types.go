package worker

import (
	"context"

	"kbingest/internal/ingestion"
)

// EmbeddedChunk is a chunk ready for the vector store.
type EmbeddedChunk struct {
	ingestion.Chunk
	Vector []float32
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	StoreChunks(ctx context.Context, chunks []EmbeddedChunk) (int, error)
	DeleteChunksByURLs(ctx context.Context, urls []string) error
}

type Publisher interface {
	Publish(topic string, body []byte) error
}

// Runner executes one ingestion run.
type Runner interface {
	Run(ctx context.Context, in ingestion.Input, progress ingestion.ProgressFunc) (*ingestion.Result, error)
}
