package ingestion_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"kbingest/internal/ingestion"
)

type MockSourceStore struct{ mock.Mock }

func (m *MockSourceStore) UpsertSource(ctx context.Context, rec ingestion.SourceRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockSourceStore) UpsertSourceFallback(ctx context.Context, rec ingestion.SourceRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockSourceStore) SourceExists(ctx context.Context, sourceID string) (bool, error) {
	args := m.Called(ctx, sourceID)
	return args.Bool(0), args.Error(1)
}

type MockPageStore struct{ mock.Mock }

func (m *MockPageStore) StorePages(ctx context.Context, pages []ingestion.PageRecord) (map[string]string, error) {
	args := m.Called(ctx, pages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

type MockSummarizer struct{ mock.Mock }

func (m *MockSummarizer) Summarize(ctx context.Context, sourceID, content string) (string, error) {
	args := m.Called(ctx, sourceID, content)
	return args.String(0), args.Error(1)
}

type MockChunkWriter struct{ mock.Mock }

func (m *MockChunkWriter) WriteChunks(ctx context.Context, req ingestion.WriteRequest) (ingestion.WriteStats, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(context.Context, ingestion.WriteRequest) ingestion.WriteStats); ok {
		return fn(ctx, req), args.Error(1)
	}
	return args.Get(0).(ingestion.WriteStats), args.Error(1)
}

type MockCodeExtractor struct{ mock.Mock }

func (m *MockCodeExtractor) ExtractCodeExamples(ctx context.Context, docs []ingestion.CrawledDocument, urlToFullDocument map[string]string, sourceID string, progress ingestion.ProgressFunc) (int, error) {
	args := m.Called(ctx, docs, urlToFullDocument, sourceID)
	return args.Int(0), args.Error(1)
}

type MockFlushSizeSource struct{ mock.Mock }

func (m *MockFlushSizeSource) FlushChunkSize(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// progressEvent is one recorded ProgressFunc call.
type progressEvent struct {
	Stage   string
	Percent int
	Message string
}

type progressRecorder struct {
	events []progressEvent
}

func (r *progressRecorder) Func() ingestion.ProgressFunc {
	return func(_ context.Context, stage string, percent int, message string) {
		r.events = append(r.events, progressEvent{stage, percent, message})
	}
}

func (r *progressRecorder) Has(stage string, percent int) bool {
	for _, e := range r.events {
		if e.Stage == stage && e.Percent == percent {
			return true
		}
	}
	return false
}
