package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

const (
	summarySampleChars = 5000
	summarySampleDocs  = 3
	summaryCombinedMax = 15000
)

// SourceSample is one document's contribution to its source record.
type SourceSample struct {
	SourceID  string
	Content   string
	WordCount int
}

// NewSourceSample caps content to the summary sample size.
func NewSourceSample(sourceID, content string, wordCount int) SourceSample {
	if len(content) > summarySampleChars {
		content = content[:summarySampleChars]
	}
	return SourceSample{SourceID: sourceID, Content: content, WordCount: wordCount}
}

// SourceRegistrar creates or refreshes source records and verifies they
// are visible before anything references them.
type SourceRegistrar struct {
	store      SourceStore
	summarizer Summarizer
	logger     *slog.Logger
}

func NewSourceRegistrar(store SourceStore, summarizer Summarizer, logger *slog.Logger) *SourceRegistrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceRegistrar{store: store, summarizer: summarizer, logger: logger}
}

// SourceDetails are the caller-level fields copied onto every source record.
type SourceDetails struct {
	Request           Request
	SourceURL         string
	SourceDisplayName string
}

// Register upserts one record per distinct source ID in samples and returns
// the word total per source. Sources are processed in sorted ID order.
func (r *SourceRegistrar) Register(ctx context.Context, samples []SourceSample, details SourceDetails) (map[string]int, error) {
	grouped := make(map[string][]SourceSample)
	wordCounts := make(map[string]int)
	for _, s := range samples {
		grouped[s.SourceID] = append(grouped[s.SourceID], s)
		wordCounts[s.SourceID] += s.WordCount
	}

	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r.logger.InfoContext(ctx, "registering sources", "count", len(ids), "source_ids", ids)

	for _, id := range ids {
		if err := r.registerOne(ctx, id, grouped[id], wordCounts[id], details); err != nil {
			return nil, err
		}
	}

	for _, id := range ids {
		exists, err := r.store.SourceExists(ctx, id)
		if err != nil {
			r.logger.ErrorContext(ctx, "source verification lookup failed", "source_id", id, "error", err)
			return nil, &StageError{Stage: StateRegisteringSources, SourceID: id, Err: fmt.Errorf("%w: %w", ErrSourceVerification, err)}
		}
		if !exists {
			r.logger.ErrorContext(ctx, "source record missing after upsert", "source_id", id)
			return nil, &StageError{Stage: StateRegisteringSources, SourceID: id, Err: fmt.Errorf("%w: %q does not exist", ErrSourceVerification, id)}
		}
	}
	r.logger.InfoContext(ctx, "all source records verified", "count", len(ids))

	return wordCounts, nil
}

func (r *SourceRegistrar) registerOne(ctx context.Context, id string, samples []SourceSample, words int, details SourceDetails) error {
	combined := combineSamples(samples)
	summary := r.summarize(ctx, id, combined, len(samples))

	knowledgeType := details.Request.knowledgeType()
	title := details.SourceDisplayName
	if title == "" {
		title = id
	}

	rec := SourceRecord{
		SourceID:       id,
		Title:          title,
		Summary:        summary,
		TotalWordCount: words,
		Metadata: map[string]any{
			"knowledge_type":   knowledgeType,
			"tags":             tagsOrEmpty(details.Request.Tags),
			"auto_generated":   true,
			"update_frequency": 0,
			"original_url":     details.Request.URL,
		},
		Tags:              tagsOrEmpty(details.Request.Tags),
		KnowledgeType:     knowledgeType,
		OriginalURL:       details.Request.URL,
		SourceURL:         details.SourceURL,
		SourceDisplayName: details.SourceDisplayName,
	}

	err := r.store.UpsertSource(ctx, rec)
	if err == nil {
		r.logger.InfoContext(ctx, "source record upserted", "source_id", id, "word_count", words)
		return nil
	}
	r.logger.ErrorContext(ctx, "source upsert failed, attempting fallback", "source_id", id, "error", err)

	fallback := SourceRecord{
		SourceID:       id,
		Title:          id,
		Summary:        summary,
		TotalWordCount: words,
		Metadata: map[string]any{
			"knowledge_type":    knowledgeType,
			"tags":              tagsOrEmpty(details.Request.Tags),
			"auto_generated":    true,
			"fallback_creation": true,
			"original_url":      details.Request.URL,
		},
		SourceURL:         details.SourceURL,
		SourceDisplayName: details.SourceDisplayName,
	}
	if ferr := r.store.UpsertSourceFallback(ctx, fallback); ferr != nil {
		r.logger.ErrorContext(ctx, "both source creation attempts failed", "source_id", id, "error", ferr)
		return &StageError{Stage: StateRegisteringSources, SourceID: id, Err: fmt.Errorf("%w: %w", ErrSourceIntegrity, ferr)}
	}
	r.logger.InfoContext(ctx, "fallback source creation succeeded", "source_id", id)
	return nil
}

func (r *SourceRegistrar) summarize(ctx context.Context, id, content string, docs int) string {
	fallback := fmt.Sprintf("Documentation from %s - %d pages crawled", id, docs)
	if r.summarizer == nil {
		return fallback
	}
	summary, err := r.summarizer.Summarize(ctx, id, content)
	if err != nil {
		r.logger.WarnContext(ctx, "using fallback source summary", "source_id", id, "error", fmt.Errorf("%w: %w", ErrSummarization, err))
		return fallback
	}
	if strings.TrimSpace(summary) == "" {
		return fallback
	}
	return summary
}

// combineSamples joins up to the first three samples while the result stays
// under the combined limit.
func combineSamples(samples []SourceSample) string {
	var b strings.Builder
	for i, s := range samples {
		if i == summarySampleDocs {
			break
		}
		if b.Len()+len(s.Content) >= summaryCombinedMax {
			break
		}
		b.WriteString(" ")
		b.WriteString(s.Content)
	}
	return strings.TrimSpace(b.String())
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
