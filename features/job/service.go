package job

import (
	"context"
	"log/slog"

	"kbingest/internal/config"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo   Repository
	pub    EventPublisher
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// Retry republishes the original ingestion message and removes the job. The
// job is kept if publishing fails or ctx ends first.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicIngestDocuments, job.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "failed job requeued", "job_id", id, "run_id", job.RunID, "source_id", job.SourceID)
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
