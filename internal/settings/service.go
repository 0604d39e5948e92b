package settings

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings are operator overrides stored in the single settings row. Zero
// values fall back to the process configuration.
type Settings struct {
	ID             int    `json:"-"`
	GeminiAPIKey   string `json:"gemini_api_key"`
	FlushChunkSize int    `json:"flush_chunk_size"`
	SummaryModel   string `json:"summary_model"`
	EmbeddingModel string `json:"embedding_model"`
}

func (s *Settings) Validate() error {
	if s.FlushChunkSize < 0 {
		return fmt.Errorf("%w: flush_chunk_size must not be negative", ErrInvalidSettings)
	}
	return nil
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}

// FlushChunkSize returns the stored flush threshold, 0 when unset.
func (s *Service) FlushChunkSize(ctx context.Context) (int, error) {
	set, err := s.repo.Get(ctx)
	if err != nil {
		return 0, err
	}
	return set.FlushChunkSize, nil
}
