package ingestion

import (
	"log/slog"

	"kbingest/internal/text"

	"github.com/panjf2000/ants/v2"
)

// chunker runs SmartChunk inline for small inputs and on the worker pool for
// inputs at or above the offload threshold. Offloaded work is always awaited.
type chunker struct {
	pool      *ants.Pool
	chunkSize int
	threshold int
	logger    *slog.Logger
}

func (c *chunker) chunk(batch string) []string {
	if c.pool == nil || c.threshold <= 0 || len(batch) < c.threshold {
		return text.SmartChunk(batch, c.chunkSize)
	}

	done := make(chan []string, 1)
	err := c.pool.Submit(func() {
		done <- text.SmartChunk(batch, c.chunkSize)
	})
	if err != nil {
		c.logger.Warn("chunk offload rejected, chunking inline", "bytes", len(batch), "error", err)
		return text.SmartChunk(batch, c.chunkSize)
	}
	return <-done
}
