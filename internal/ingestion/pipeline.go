package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"kbingest/internal/text"

	"github.com/panjf2000/ants/v2"
)

const (
	DefaultFlushChunkSize   = 250
	MinFlushChunkSize       = 25
	DefaultWriteBatchSize   = 25
	DefaultOffloadThreshold = 50_000
	DefaultChunkPoolSize    = 4

	documentCheckpointEvery = 5
	chunkCheckpointEvery    = 10
)

var (
	ErrSourceStoreRequired = errors.New("source store is required")
	ErrChunkWriterRequired = errors.New("chunk writer is required")
)

// Pipeline runs ingestions. It is safe for concurrent use; every Run keeps
// its accumulators local.
type Pipeline struct {
	sourceStore     SourceStore
	pageStore       PageStore
	summarizer      Summarizer
	writer          ChunkWriter
	codeExtractor   CodeExtractor
	flushSizeSource FlushSizeSource

	sources *SourceRegistrar
	pages   *PageRegistrar
	chunker *chunker

	flushChunkSize   int
	writeBatchSize   int
	chunkSize        int
	maxCharsPerBatch int
	pagesPerBatch    int
	offloadThreshold int
	pool             *ants.Pool
	logger           *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

func WithChunkSize(size int) Option {
	return func(p *Pipeline) error {
		if size > 0 {
			p.chunkSize = size
		}
		return nil
	}
}

// WithFlushChunkSize sets the configured flush threshold. Values below
// MinFlushChunkSize are raised to it when a run starts.
func WithFlushChunkSize(size int) Option {
	return func(p *Pipeline) error {
		if size > 0 {
			p.flushChunkSize = size
		}
		return nil
	}
}

// WithFlushSizeSource lets an operator setting override the flush threshold.
func WithFlushSizeSource(src FlushSizeSource) Option {
	return func(p *Pipeline) error {
		p.flushSizeSource = src
		return nil
	}
}

func WithWriteBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size > 0 {
			p.writeBatchSize = size
		}
		return nil
	}
}

func WithBatchLimits(maxCharsPerBatch, pagesPerBatch int) Option {
	return func(p *Pipeline) error {
		if maxCharsPerBatch > 0 {
			p.maxCharsPerBatch = maxCharsPerBatch
		}
		if pagesPerBatch > 0 {
			p.pagesPerBatch = pagesPerBatch
		}
		return nil
	}
}

// WithOffload sets the size at which chunking moves to the worker pool and
// the pool size.
func WithOffload(thresholdBytes, poolSize int) Option {
	return func(p *Pipeline) error {
		if thresholdBytes > 0 {
			p.offloadThreshold = thresholdBytes
		}
		if poolSize < 1 {
			poolSize = 1
		}
		pool, err := ants.NewPool(poolSize)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

func WithCodeExtractor(x CodeExtractor) Option {
	return func(p *Pipeline) error {
		p.codeExtractor = x
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline builds a pipeline. The summarizer and page store may be nil.
func NewPipeline(sources SourceStore, pages PageStore, writer ChunkWriter, summarizer Summarizer, opts ...Option) (*Pipeline, error) {
	if sources == nil {
		return nil, ErrSourceStoreRequired
	}
	if writer == nil {
		return nil, ErrChunkWriterRequired
	}

	pool, err := ants.NewPool(DefaultChunkPoolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		sourceStore:      sources,
		pageStore:        pages,
		summarizer:       summarizer,
		writer:           writer,
		flushChunkSize:   DefaultFlushChunkSize,
		writeBatchSize:   DefaultWriteBatchSize,
		chunkSize:        text.DefaultChunkSize,
		maxCharsPerBatch: text.DefaultCharsPerBatch,
		pagesPerBatch:    text.DefaultPagesPerBatch,
		offloadThreshold: DefaultOffloadThreshold,
		pool:             pool,
		logger:           slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	p.sources = NewSourceRegistrar(p.sourceStore, p.summarizer, p.logger)
	p.pages = NewPageRegistrar(p.pageStore, p.logger)
	p.chunker = &chunker{pool: p.pool, chunkSize: p.chunkSize, threshold: p.offloadThreshold, logger: p.logger}

	return p, nil
}

// Release frees the chunking pool. The pipeline must not be used afterwards.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// streamUnit is one document or section fed through chunking.
type streamUnit struct {
	url         string
	content     string
	title       string
	description string
	crawlType   string
}

// Run ingests in.Documents. On cancellation it returns the partial result
// with State cancelled and an error matching ErrCancelled and ctx.Err().
// On a fatal failure it returns the partial result with State failed and a
// *StageError.
func (p *Pipeline) Run(ctx context.Context, in Input, progress ProgressFunc) (*Result, error) {
	res := &Result{
		State:             StatePreparing,
		SourceID:          in.SourceID,
		URLToFullDocument: map[string]string{},
		SourceWordCounts:  map[string]int{in.SourceID: 0},
	}

	progress.report(ctx, string(StatePreparing), 0, fmt.Sprintf("Preparing %d documents", len(in.Documents)))

	var prepared []CrawledDocument
	var samples []SourceSample
	for i, doc := range in.Documents {
		if i%documentCheckpointEvery == 0 && ctx.Err() != nil {
			return res, p.cancel(ctx, res, nil, progress,
				fmt.Sprintf("Document processing cancelled at document %d/%d", i+1, len(in.Documents)))
		}

		url := strings.TrimSpace(doc.URL)
		markdown := strings.TrimSpace(doc.Markdown)
		if url == "" || markdown == "" {
			res.SkippedDocuments++
			p.logger.DebugContext(ctx, "skipping document", "index", i, "url", url, "empty_content", markdown == "")
			continue
		}

		res.ProcessedDocuments++
		res.URLToFullDocument[url] = markdown
		prepared = append(prepared, CrawledDocument{
			URL:         url,
			Markdown:    markdown,
			Title:       doc.Title,
			Description: doc.Description,
		})
		samples = append(samples, NewSourceSample(in.SourceID, markdown, text.CountWords(markdown)))
	}

	if len(prepared) == 0 {
		res.State = StateDone
		p.logger.InfoContext(ctx, "no documents to store", "source_id", in.SourceID, "skipped", res.SkippedDocuments)
		return res, nil
	}

	res.State = StateRegisteringSources
	progress.report(ctx, string(StateRegisteringSources), 5, "Creating source records")

	wordCounts, err := p.sources.Register(ctx, samples, SourceDetails{
		Request:           in.Request,
		SourceURL:         in.SourceURL,
		SourceDisplayName: in.SourceDisplayName,
	})
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	for id, n := range wordCounts {
		res.SourceWordCounts[id] = n
	}
	for _, n := range res.SourceWordCounts {
		res.TotalWordCount += n
	}

	res.State = StateRegisteringPages
	progress.report(ctx, string(StateRegisteringPages), 10, "Storing page records")

	units, urlToPageID := p.registerPages(ctx, in, prepared, res)

	res.State = StateStreaming
	deletionURLs := make([]string, 0, len(res.URLToFullDocument))
	for url := range res.URLToFullDocument {
		deletionURLs = append(deletionURLs, url)
	}
	sort.Strings(deletionURLs)

	stream := &chunkStream{
		writer:            p.writer,
		flushSize:         p.resolveFlushSize(ctx),
		batchSize:         p.writeBatchSize,
		urlToFullDocument: res.URLToFullDocument,
		urlToPageID:       urlToPageID,
		deletionURLs:      deletionURLs,
		progress:          progress,
	}

	knowledgeType := in.Request.knowledgeType()
	tags := tagsOrEmpty(in.Request.Tags)

	for i, u := range units {
		if i%documentCheckpointEvery == 0 && ctx.Err() != nil {
			return res, p.cancel(ctx, res, stream, progress,
				fmt.Sprintf("Chunking cancelled at document %d/%d", i+1, len(units)))
		}

		chunkIndex := 0
		for _, batch := range text.SplitForIncrementalChunking(u.content, p.maxCharsPerBatch, p.pagesPerBatch) {
			for _, content := range p.chunker.chunk(batch) {
				if chunkIndex%chunkCheckpointEvery == 0 && ctx.Err() != nil {
					return res, p.cancel(ctx, res, stream, progress,
						fmt.Sprintf("Chunking cancelled at chunk %d of document %d", chunkIndex+1, i+1))
				}

				meta := text.ExtractMetadata(content)
				stream.Append(Chunk{
					URL:           u.url,
					ChunkIndex:    chunkIndex,
					Content:       content,
					WordCount:     meta.WordCount,
					CharCount:     meta.CharCount,
					SourceID:      in.SourceID,
					KnowledgeType: knowledgeType,
					PageID:        urlToPageID[u.url],
					CrawlType:     u.crawlType,
					Tags:          tags,
					Title:         u.title,
					Description:   u.description,
					Headers:       meta.Headers,
					HasCode:       meta.HasCode,
				})
				res.ChunkCount++
				chunkIndex++

				if stream.ShouldFlush() {
					if err := p.flush(ctx, stream, res, progress); err != nil {
						return res, err
					}
				}
			}
		}

		progress.report(ctx, string(StateStreaming), 10+80*(i+1)/len(units),
			fmt.Sprintf("Chunked %d/%d documents", i+1, len(units)))
	}

	res.State = StateFinalizing
	if err := p.flush(ctx, stream, res, progress); err != nil {
		return res, err
	}
	progress.report(ctx, string(StateFinalizing), 95, fmt.Sprintf("Stored %d/%d chunks", res.ChunksStored, res.ChunkCount))

	avg := float64(res.ChunkCount) / float64(res.ProcessedDocuments)
	p.logger.InfoContext(ctx, "document storage complete",
		"source_id", in.SourceID,
		"processed", res.ProcessedDocuments,
		"total", len(in.Documents),
		"chunks", res.ChunkCount,
		"chunks_stored", res.ChunksStored,
		"flushes", res.Flushes,
		"avg_chunks_per_doc", fmt.Sprintf("%.1f", avg),
	)

	if p.codeExtractor != nil {
		n, err := p.codeExtractor.ExtractCodeExamples(ctx, in.Documents, res.URLToFullDocument, in.SourceID, progress)
		if err != nil {
			p.logger.WarnContext(ctx, "code example extraction failed", "source_id", in.SourceID, "error", err)
		} else {
			res.CodeExamplesStored = n
		}
	}

	res.State = StateDone
	return res, nil
}

// registerPages stores page records and returns the units to stream. In
// multi-section mode every section becomes its own page and unit, and
// res.URLToFullDocument is replaced by the section contents.
func (p *Pipeline) registerPages(ctx context.Context, in Input, prepared []CrawledDocument, res *Result) ([]streamUnit, map[string]string) {
	if !isMultiSection(in.CrawlType, res.URLToFullDocument) {
		units := make([]streamUnit, 0, len(prepared))
		for _, d := range prepared {
			units = append(units, streamUnit{
				url:         d.URL,
				content:     d.Markdown,
				title:       d.Title,
				description: d.Description,
				crawlType:   in.CrawlType,
			})
		}
		return units, p.pages.RegisterDocuments(ctx, prepared, in.SourceID, in.CrawlType)
	}

	var sections []text.Section
	for _, d := range prepared {
		sections = append(sections, text.ParseSections(d.Markdown, d.URL)...)
	}

	clear(res.URLToFullDocument)
	units := make([]streamUnit, 0, len(sections))
	for _, s := range sections {
		res.URLToFullDocument[s.URL] = s.Content
		units = append(units, streamUnit{
			url:       s.URL,
			content:   s.Content,
			title:     s.Title,
			crawlType: CrawlTypeLLMsFull,
		})
	}
	p.logger.InfoContext(ctx, "storing multi-section document", "source_id", in.SourceID, "sections", len(sections))

	return units, p.pages.RegisterSections(ctx, sections, in.SourceID)
}

func isMultiSection(crawlType string, urlToFullDocument map[string]string) bool {
	if crawlType == CrawlTypeLLMsTxt {
		return true
	}
	if len(urlToFullDocument) != 1 {
		return false
	}
	for url := range urlToFullDocument {
		return strings.HasSuffix(url, text.FullDocumentSuffix)
	}
	return false
}

func (p *Pipeline) resolveFlushSize(ctx context.Context) int {
	size := p.flushChunkSize
	if p.flushSizeSource != nil {
		n, err := p.flushSizeSource.FlushChunkSize(ctx)
		switch {
		case err != nil:
			p.logger.WarnContext(ctx, "failed to load flush chunk size setting, using default", "default", size, "error", err)
		case n > 0:
			size = n
		}
	}
	return max(MinFlushChunkSize, size)
}

func (p *Pipeline) flush(ctx context.Context, stream *chunkStream, res *Result, progress ProgressFunc) error {
	err := stream.Flush(ctx)
	res.ChunksStored = stream.stored
	res.Flushes = stream.flushes
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return p.cancel(ctx, res, stream, progress, fmt.Sprintf("Storage cancelled after %d stored chunks", res.ChunksStored))
	}

	res.State = StateFailed
	p.logger.ErrorContext(ctx, "chunk flush failed", "source_id", res.SourceID, "chunks_stored", res.ChunksStored, "error", err)
	return &StageError{Stage: StateStreaming, SourceID: res.SourceID, Err: fmt.Errorf("%w: %w", ErrStorageBackend, err)}
}

// cancel discards unflushed chunks, emits the final progress update and
// builds the cancellation error.
func (p *Pipeline) cancel(ctx context.Context, res *Result, stream *chunkStream, progress ProgressFunc, msg string) error {
	stage := res.State
	discarded := 0
	if stream != nil {
		discarded = len(stream.Drain())
	}
	res.State = StateCancelled

	progress.report(context.WithoutCancel(ctx), string(StateCancelled), 99, msg)
	p.logger.WarnContext(ctx, "ingestion cancelled",
		"source_id", res.SourceID,
		"stage", stage,
		"chunks_stored", res.ChunksStored,
		"discarded", discarded,
	)

	return fmt.Errorf("%w during %s: %w", ErrCancelled, stage, ctx.Err())
}
