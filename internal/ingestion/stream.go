package ingestion

import "context"

// chunkStream buffers chunks until the flush threshold and hands them to the
// writer. Existing chunks for the run's URLs are deleted on the first flush
// only.
type chunkStream struct {
	writer            ChunkWriter
	flushSize         int
	batchSize         int
	urlToFullDocument map[string]string
	urlToPageID       map[string]string
	deletionURLs      []string
	progress          ProgressFunc

	pending    []Chunk
	deleteDone bool
	stored     int
	flushes    int
}

func (s *chunkStream) Append(c Chunk) {
	s.pending = append(s.pending, c)
}

func (s *chunkStream) ShouldFlush() bool {
	return len(s.pending) >= s.flushSize
}

// Drain empties the buffer and returns what it held.
func (s *chunkStream) Drain() []Chunk {
	out := s.pending
	s.pending = nil
	return out
}

// Flush writes the buffered chunks. Stats reported by the writer are
// counted even when it also returns an error.
func (s *chunkStream) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	chunks := s.Drain()

	req := WriteRequest{
		Chunks:            chunks,
		URLToFullDocument: s.urlToFullDocument,
		URLToPageID:       s.urlToPageID,
		BatchSize:         s.batchSize,
		Progress:          s.progress,
	}
	if !s.deleteDone {
		req.DeleteExisting = true
		req.DeletionURLs = s.deletionURLs
	}

	stats, err := s.writer.WriteChunks(ctx, req)
	s.stored += stats.ChunksStored
	if err != nil {
		return err
	}
	s.deleteDone = true
	s.flushes++
	return nil
}
