package worker_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"kbingest/features/job"
	"kbingest/internal/ingestion"
	"kbingest/internal/worker"
)

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) StoreChunks(ctx context.Context, chunks []worker.EmbeddedChunk) (int, error) {
	args := m.Called(ctx, chunks)
	return args.Int(0), args.Error(1)
}

func (m *MockVectorStore) DeleteChunksByURLs(ctx context.Context, urls []string) error {
	args := m.Called(ctx, urls)
	return args.Error(0)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}
func (m *MockJobRepo) List(ctx context.Context) ([]job.Job, error)          { return nil, nil }
func (m *MockJobRepo) Get(ctx context.Context, id string) (*job.Job, error) { return nil, nil }
func (m *MockJobRepo) Delete(ctx context.Context, id string) error          { return nil }
func (m *MockJobRepo) Count(ctx context.Context) (int, error)               { return 0, nil }

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

type MockRunner struct{ mock.Mock }

func (m *MockRunner) Run(ctx context.Context, in ingestion.Input, progress ingestion.ProgressFunc) (*ingestion.Result, error) {
	args := m.Called(ctx, in, progress)
	if fn, ok := args.Get(0).(func(context.Context, ingestion.ProgressFunc) (*ingestion.Result, error)); ok {
		return fn(ctx, progress)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingestion.Result), args.Error(1)
}

// stageLog records progress callbacks.
type stageLog struct {
	mu      sync.Mutex
	stages  []string
	percent []int
}

func (s *stageLog) report(_ context.Context, stage string, percent int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, stage)
	s.percent = append(s.percent, percent)
}
