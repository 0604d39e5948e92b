package ingestion_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kbingest/internal/ingestion"
)

// paragraphs builds n paragraphs of 250 bytes each. With a chunk size of 300
// every paragraph becomes exactly one chunk.
func paragraphs(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%03d", i) + strings.Repeat("p", 247)
	}
	return strings.Join(parts, "\n\n")
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

type pipelineDeps struct {
	sources *MockSourceStore
	pages   *MockPageStore
	writer  *MockChunkWriter
	summary *MockSummarizer
}

func newDeps() *pipelineDeps {
	d := &pipelineDeps{
		sources: new(MockSourceStore),
		pages:   new(MockPageStore),
		writer:  new(MockChunkWriter),
		summary: new(MockSummarizer),
	}
	d.summary.On("Summarize", mock.Anything, mock.Anything, mock.Anything).Return("summary", nil).Maybe()
	return d
}

func (d *pipelineDeps) sourcesOK(ids ...string) {
	d.sources.On("UpsertSource", mock.Anything, mock.Anything).Return(nil)
	for _, id := range ids {
		d.sources.On("SourceExists", mock.Anything, id).Return(true, nil)
	}
}

func (d *pipelineDeps) pipeline(t *testing.T, opts ...ingestion.Option) *ingestion.Pipeline {
	p, err := ingestion.NewPipeline(d.sources, d.pages, d.writer, d.summary, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func writeRequests(w *MockChunkWriter) []ingestion.WriteRequest {
	var out []ingestion.WriteRequest
	for _, c := range w.Calls {
		if c.Method == "WriteChunks" {
			out = append(out, c.Arguments.Get(1).(ingestion.WriteRequest))
		}
	}
	return out
}

func storeAll(w *MockChunkWriter) {
	w.On("WriteChunks", mock.Anything, mock.Anything).
		Return(func(_ context.Context, req ingestion.WriteRequest) ingestion.WriteStats {
			return ingestion.WriteStats{ChunksStored: len(req.Chunks)}
		}, nil)
}

func TestNewPipeline_Validation(t *testing.T) {
	_, err := ingestion.NewPipeline(nil, nil, new(MockChunkWriter), nil)
	assert.ErrorIs(t, err, ingestion.ErrSourceStoreRequired)

	_, err = ingestion.NewPipeline(new(MockSourceStore), nil, nil, nil)
	assert.ErrorIs(t, err, ingestion.ErrChunkWriterRequired)
}

func TestPipeline_WordCountAggregation(t *testing.T) {
	d := newDeps()
	d.sources.On("UpsertSource", mock.Anything, mock.MatchedBy(func(rec ingestion.SourceRecord) bool {
		return rec.TotalWordCount == 200
	})).Return(nil)
	d.sources.On("SourceExists", mock.Anything, "src").Return(true, nil)
	d.pages.On("StorePages", mock.Anything, mock.Anything).Return(map[string]string{}, nil)
	storeAll(d.writer)

	res, err := d.pipeline(t).Run(context.Background(), ingestion.Input{
		SourceID: "src",
		Documents: []ingestion.CrawledDocument{
			{URL: "https://a", Markdown: words(120)},
			{URL: "https://b", Markdown: words(80)},
		},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, ingestion.StateDone, res.State)
	assert.Equal(t, 200, res.TotalWordCount)
	assert.Equal(t, 200, res.SourceWordCounts["src"])
	assert.Equal(t, 2, res.ProcessedDocuments)
	d.sources.AssertExpectations(t)
}

func TestPipeline_VerificationFailureStopsRun(t *testing.T) {
	d := newDeps()
	d.sources.On("UpsertSource", mock.Anything, mock.Anything).Return(nil)
	d.sources.On("SourceExists", mock.Anything, "src").Return(false, nil)

	res, err := d.pipeline(t).Run(context.Background(), ingestion.Input{
		SourceID:  "src",
		Documents: []ingestion.CrawledDocument{{URL: "https://a", Markdown: "content"}},
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ingestion.ErrSourceVerification)
	assert.Equal(t, ingestion.StateFailed, res.State)
	d.pages.AssertNotCalled(t, "StorePages", mock.Anything, mock.Anything)
	d.writer.AssertNotCalled(t, "WriteChunks", mock.Anything, mock.Anything)
}

func TestPipeline_FlushBatching(t *testing.T) {
	d := newDeps()
	d.sourcesOK("src")
	d.pages.On("StorePages", mock.Anything, mock.Anything).Return(map[string]string{"https://big": "page-1"}, nil)
	storeAll(d.writer)

	p := d.pipeline(t, ingestion.WithChunkSize(300), ingestion.WithFlushChunkSize(25))
	res, err := p.Run(context.Background(), ingestion.Input{
		SourceID:  "src",
		CrawlType: "recursive",
		Request:   ingestion.Request{Tags: []string{"t"}},
		Documents: []ingestion.CrawledDocument{{URL: "https://big", Markdown: paragraphs(60), Title: "Big"}},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 60, res.ChunkCount)
	assert.Equal(t, 60, res.ChunksStored)
	assert.Equal(t, 3, res.Flushes)

	reqs := writeRequests(d.writer)
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[0].Chunks, 25)
	assert.Len(t, reqs[1].Chunks, 25)
	assert.Len(t, reqs[2].Chunks, 10)

	assert.True(t, reqs[0].DeleteExisting)
	assert.Equal(t, []string{"https://big"}, reqs[0].DeletionURLs)
	assert.False(t, reqs[1].DeleteExisting)
	assert.Nil(t, reqs[1].DeletionURLs)
	assert.False(t, reqs[2].DeleteExisting)
	assert.Equal(t, ingestion.DefaultWriteBatchSize, reqs[0].BatchSize)

	// Chunk indices are contiguous across flushes.
	idx := 0
	for _, r := range reqs {
		for _, c := range r.Chunks {
			assert.Equal(t, idx, c.ChunkIndex)
			assert.Equal(t, "page-1", c.PageID)
			assert.Equal(t, "src", c.SourceID)
			assert.Equal(t, "Big", c.Title)
			assert.Equal(t, "recursive", c.CrawlType)
			assert.Equal(t, ingestion.DefaultKnowledgeType, c.KnowledgeType)
			assert.Equal(t, []string{"t"}, c.Tags)
			idx++
		}
	}
	assert.Equal(t, fmt.Sprintf("%03d", 59)+strings.Repeat("p", 247), reqs[2].Chunks[9].Content)
}

func TestPipeline_CancellationPreservesFlushes(t *testing.T) {
	d := newDeps()
	d.sourcesOK("src")
	d.pages.On("StorePages", mock.Anything, mock.Anything).Return(map[string]string{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.writer.On("WriteChunks", mock.Anything, mock.Anything).Return(ingestion.WriteStats{ChunksStored: 25}, nil).Once()
	d.writer.On("WriteChunks", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(ingestion.WriteStats{ChunksStored: 25}, nil).Once()

	progress := &progressRecorder{}
	p := d.pipeline(t, ingestion.WithChunkSize(300), ingestion.WithFlushChunkSize(25))
	res, err := p.Run(ctx, ingestion.Input{
		SourceID:  "src",
		Documents: []ingestion.CrawledDocument{{URL: "https://big", Markdown: paragraphs(60)}},
	}, progress.Func())

	require.Error(t, err)
	assert.ErrorIs(t, err, ingestion.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ingestion.StateCancelled, res.State)
	assert.Equal(t, 50, res.ChunksStored)
	assert.Equal(t, 2, res.Flushes)
	assert.True(t, progress.Has("cancelled", 99))
	d.writer.AssertNumberOfCalls(t, "WriteChunks", 2)
}

func TestPipeline_CancelledBeforeStart(t *testing.T) {
	d := newDeps()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	progress := &progressRecorder{}
	res, err := d.pipeline(t).Run(ctx, ingestion.Input{
		SourceID:  "src",
		Documents: []ingestion.CrawledDocument{{URL: "https://a", Markdown: "x"}},
	}, progress.Func())

	assert.ErrorIs(t, err, ingestion.ErrCancelled)
	assert.Equal(t, ingestion.StateCancelled, res.State)
	assert.Equal(t, 0, res.ProcessedDocuments)
	assert.True(t, progress.Has("cancelled", 99))
	d.sources.AssertNotCalled(t, "UpsertSource", mock.Anything, mock.Anything)
}

func TestPipeline_SkipsEmptyDocuments(t *testing.T) {
	d := newDeps()

	res, err := d.pipeline(t).Run(context.Background(), ingestion.Input{
		SourceID: "src",
		Documents: []ingestion.CrawledDocument{
			{URL: "", Markdown: "content"},
			{URL: "https://a", Markdown: "  \n "},
		},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, ingestion.StateDone, res.State)
	assert.Equal(t, 2, res.SkippedDocuments)
	assert.Equal(t, 0, res.ChunkCount)
	assert.Empty(t, res.URLToFullDocument)
	assert.Equal(t, map[string]int{"src": 0}, res.SourceWordCounts)
	d.sources.AssertNotCalled(t, "UpsertSource", mock.Anything, mock.Anything)
}

func TestPipeline_MultiSectionDocument(t *testing.T) {
	d := newDeps()
	d.sourcesOK("src")
	base := "https://docs.example.com/llms-full.txt"
	doc := "# Intro\nWelcome to the docs.\n# Install\nRun the installer."

	d.pages.On("StorePages", mock.Anything, mock.MatchedBy(func(pages []ingestion.PageRecord) bool {
		return len(pages) == 2 &&
			pages[0].URL == base+"#section-0-intro" &&
			pages[0].SectionTitle == "Intro" &&
			pages[1].SectionOrder == 1 &&
			pages[1].CrawlType == ingestion.CrawlTypeLLMsFull
	})).Return(map[string]string{base + "#section-0-intro": "p0", base + "#section-1-install": "p1"}, nil)
	storeAll(d.writer)

	res, err := d.pipeline(t).Run(context.Background(), ingestion.Input{
		SourceID:  "src",
		Documents: []ingestion.CrawledDocument{{URL: base, Markdown: doc}},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, res.ChunkCount)
	assert.Len(t, res.URLToFullDocument, 2)
	assert.NotContains(t, res.URLToFullDocument, base)

	reqs := writeRequests(d.writer)
	require.Len(t, reqs, 1)
	assert.Equal(t, "p0", reqs[0].Chunks[0].PageID)
	assert.Equal(t, "Install", reqs[0].Chunks[1].Title)
	assert.Equal(t, 0, reqs[0].Chunks[1].ChunkIndex)
	assert.ElementsMatch(t, []string{base + "#section-0-intro", base + "#section-1-install"}, reqs[0].DeletionURLs)
	d.pages.AssertExpectations(t)
}

func TestPipeline_PageFailureIsNotFatal(t *testing.T) {
	d := newDeps()
	d.sourcesOK("src")
	d.pages.On("StorePages", mock.Anything, mock.Anything).Return(nil, errors.New("pages table missing"))
	storeAll(d.writer)

	res, err := d.pipeline(t).Run(context.Background(), ingestion.Input{
		SourceID:  "src",
		Documents: []ingestion.CrawledDocument{{URL: "https://a", Markdown: "some content"}},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksStored)
	reqs := writeRequests(d.writer)
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Chunks[0].PageID)
}

func TestPipeline_FlushFailure(t *testing.T) {
	d := newDeps()
	d.sourcesOK("src")
	d.pages.On("StorePages", mock.Anything, mock.Anything).Return(map[string]string{}, nil)
	backendErr := errors.New("vector store unavailable")
	d.writer.On("WriteChunks", mock.Anything, mock.Anything).Return(ingestion.WriteStats{ChunksStored: 25}, nil).Once()
	d.writer.On("WriteChunks", mock.Anything, mock.Anything).Return(ingestion.WriteStats{ChunksStored: 5}, backendErr).Once()

	p := d.pipeline(t, ingestion.WithChunkSize(300), ingestion.WithFlushChunkSize(25))
	res, err := p.Run(context.Background(), ingestion.Input{
		SourceID:  "src",
		Documents: []ingestion.CrawledDocument{{URL: "https://big", Markdown: paragraphs(60)}},
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ingestion.ErrStorageBackend)
	assert.ErrorIs(t, err, backendErr)
	var stageErr *ingestion.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, ingestion.StateStreaming, stageErr.Stage)
	assert.Equal(t, "src", stageErr.SourceID)
	assert.Equal(t, ingestion.StateFailed, res.State)
	assert.Equal(t, 30, res.ChunksStored)
	assert.Equal(t, 1, res.Flushes)
}

func TestPipeline_FlushSizeSource(t *testing.T) {
	t.Run("Override Below Minimum Is Raised", func(t *testing.T) {
		d := newDeps()
		d.sourcesOK("src")
		d.pages.On("StorePages", mock.Anything, mock.Anything).Return(map[string]string{}, nil)
		storeAll(d.writer)
		src := new(MockFlushSizeSource)
		src.On("FlushChunkSize", mock.Anything).Return(5, nil)

		p := d.pipeline(t, ingestion.WithChunkSize(300), ingestion.WithFlushSizeSource(src))
		res, err := p.Run(context.Background(), ingestion.Input{
			SourceID:  "src",
			Documents: []ingestion.CrawledDocument{{URL: "https://big", Markdown: paragraphs(60)}},
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, 3, res.Flushes)
	})

	t.Run("Setting Error Falls Back To Configured Size", func(t *testing.T) {
		d := newDeps()
		d.sourcesOK("src")
		d.pages.On("StorePages", mock.Anything, mock.Anything).Return(map[string]string{}, nil)
		storeAll(d.writer)
		src := new(MockFlushSizeSource)
		src.On("FlushChunkSize", mock.Anything).Return(0, errors.New("settings unavailable"))

		p := d.pipeline(t, ingestion.WithChunkSize(300), ingestion.WithFlushSizeSource(src))
		res, err := p.Run(context.Background(), ingestion.Input{
			SourceID:  "src",
			Documents: []ingestion.CrawledDocument{{URL: "https://big", Markdown: paragraphs(60)}},
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, 1, res.Flushes)
	})
}

func TestPipeline_CodeExtraction(t *testing.T) {
	docs := []ingestion.CrawledDocument{{URL: "https://a", Markdown: "```go\nfmt.Println()\n```"}}

	t.Run("Count Is Passed Through", func(t *testing.T) {
		d := newDeps()
		d.sourcesOK("src")
		d.pages.On("StorePages", mock.Anything, mock.Anything).Return(map[string]string{}, nil)
		storeAll(d.writer)
		x := new(MockCodeExtractor)
		x.On("ExtractCodeExamples", mock.Anything, docs, mock.Anything, "src").Return(3, nil)

		res, err := d.pipeline(t, ingestion.WithCodeExtractor(x)).Run(context.Background(), ingestion.Input{SourceID: "src", Documents: docs}, nil)

		require.NoError(t, err)
		assert.Equal(t, 3, res.CodeExamplesStored)
	})

	t.Run("Failure Is Not Fatal", func(t *testing.T) {
		d := newDeps()
		d.sourcesOK("src")
		d.pages.On("StorePages", mock.Anything, mock.Anything).Return(map[string]string{}, nil)
		storeAll(d.writer)
		x := new(MockCodeExtractor)
		x.On("ExtractCodeExamples", mock.Anything, mock.Anything, mock.Anything, "src").Return(0, errors.New("llm down"))

		res, err := d.pipeline(t, ingestion.WithCodeExtractor(x)).Run(context.Background(), ingestion.Input{SourceID: "src", Documents: docs}, nil)

		require.NoError(t, err)
		assert.Equal(t, ingestion.StateDone, res.State)
		assert.Equal(t, 0, res.CodeExamplesStored)
	})
}

func TestPipeline_OffloadMatchesInline(t *testing.T) {
	doc := paragraphs(40)

	run := func(opts ...ingestion.Option) []string {
		d := newDeps()
		d.sourcesOK("src")
		d.pages.On("StorePages", mock.Anything, mock.Anything).Return(map[string]string{}, nil)
		storeAll(d.writer)

		_, err := d.pipeline(t, opts...).Run(context.Background(), ingestion.Input{
			SourceID:  "src",
			Documents: []ingestion.CrawledDocument{{URL: "https://a", Markdown: doc}},
		}, nil)
		require.NoError(t, err)

		var out []string
		for _, r := range writeRequests(d.writer) {
			for _, c := range r.Chunks {
				out = append(out, c.Content)
			}
		}
		return out
	}

	inline := run(ingestion.WithChunkSize(300))
	offloaded := run(ingestion.WithChunkSize(300), ingestion.WithOffload(1000, 2))
	assert.Equal(t, inline, offloaded)
	assert.Len(t, offloaded, 40)
}

func TestPipeline_ProgressStages(t *testing.T) {
	d := newDeps()
	d.sourcesOK("src")
	d.pages.On("StorePages", mock.Anything, mock.Anything).Return(map[string]string{}, nil)
	storeAll(d.writer)

	progress := &progressRecorder{}
	_, err := d.pipeline(t).Run(context.Background(), ingestion.Input{
		SourceID:  "src",
		Documents: []ingestion.CrawledDocument{{URL: "https://a", Markdown: "content"}},
	}, progress.Func())

	require.NoError(t, err)
	var stages []string
	for _, e := range progress.events {
		stages = append(stages, e.Stage)
	}
	assert.Equal(t, []string{"preparing", "registering_sources", "registering_pages", "streaming", "finalizing"}, stages)
	assert.True(t, progress.Has("streaming", 90))
}
