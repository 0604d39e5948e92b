package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"kbingest/features/job"
	"kbingest/internal/config"
	"kbingest/internal/ingestion"
	"kbingest/internal/middleware"
)

const HandlerIngestion = "ingestion-worker"

// IngestPayload is the body of an ingest.documents message.
type IngestPayload struct {
	RunID             string                      `json:"run_id"`
	SourceID          string                      `json:"source_id"`
	CrawlType         string                      `json:"crawl_type,omitempty"`
	Request           ingestion.Request           `json:"request"`
	SourceURL         string                      `json:"source_url,omitempty"`
	SourceDisplayName string                      `json:"source_display_name,omitempty"`
	Documents         []ingestion.CrawledDocument `json:"documents"`
	CorrelationID     string                      `json:"correlation_id,omitempty"`
}

// CompletedEvent is published to ingest.completed when a run ends.
type CompletedEvent struct {
	RunID         string            `json:"run_id"`
	SourceID      string            `json:"source_id"`
	Status        string            `json:"status"`
	Error         string            `json:"error,omitempty"`
	Result        *ingestion.Result `json:"result,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	FinishedAt    time.Time         `json:"finished_at"`
}

const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

type IngestionConsumer struct {
	runner    Runner
	registry  *ingestion.Registry
	jobRepo   job.Repository
	publisher Publisher
}

func NewIngestionConsumer(r Runner, reg *ingestion.Registry, j job.Repository, p Publisher) *IngestionConsumer {
	return &IngestionConsumer{runner: r, registry: reg, jobRepo: j, publisher: p}
}

// HandleMessage runs one ingestion. It never asks NSQ to requeue: failures
// are saved as failed jobs and retried explicitly.
func (c *IngestionConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestPayload
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "invalid message format", "error", err)
		return nil
	}
	if payload.SourceID == "" {
		slog.ErrorContext(ctx, "missing source_id, dropping message")
		return nil
	}

	if payload.RunID == "" {
		payload.RunID = uuid.New().String()
	}
	ctx = middleware.WithRunID(ctx, payload.RunID)

	runCtx, done, err := c.registry.Start(ctx, payload.RunID, payload.SourceID)
	if err != nil {
		slog.WarnContext(ctx, "run already active, dropping duplicate", "error", err)
		return nil
	}
	defer done()

	slog.InfoContext(ctx, "ingestion started", "source_id", payload.SourceID, "documents", len(payload.Documents), "attempts", m.Attempts)

	progress := func(ctx context.Context, stage string, percent int, message string) {
		if m.Delegate != nil {
			m.Touch()
		}
		slog.DebugContext(ctx, "ingestion progress", "stage", stage, "percent", percent, "message", message)
	}

	res, runErr := c.runner.Run(runCtx, ingestion.Input{
		Documents:         payload.Documents,
		Request:           payload.Request,
		CrawlType:         payload.CrawlType,
		SourceID:          payload.SourceID,
		SourceURL:         payload.SourceURL,
		SourceDisplayName: payload.SourceDisplayName,
	}, progress)

	event := CompletedEvent{
		RunID:         payload.RunID,
		SourceID:      payload.SourceID,
		Status:        StatusCompleted,
		Result:        res,
		CorrelationID: correlationID,
		FinishedAt:    time.Now().UTC(),
	}

	switch {
	case runErr == nil:
		slog.InfoContext(ctx, "ingestion completed", "source_id", payload.SourceID, "chunks_stored", res.ChunksStored)
	case errors.Is(runErr, ingestion.ErrCancelled):
		event.Status = StatusCancelled
		event.Error = runErr.Error()
		slog.InfoContext(ctx, "ingestion cancelled", "source_id", payload.SourceID, "error", runErr)
	default:
		event.Status = StatusFailed
		event.Error = runErr.Error()
		slog.ErrorContext(ctx, "ingestion failed", "source_id", payload.SourceID, "error", runErr)
		c.saveFailedJob(ctx, payload, m.Body, runErr)
	}

	c.publishCompleted(ctx, event)
	return nil
}

func (c *IngestionConsumer) saveFailedJob(ctx context.Context, payload IngestPayload, body []byte, runErr error) {
	if c.jobRepo == nil {
		return
	}

	failed := &job.Job{
		RunID:    payload.RunID,
		SourceID: payload.SourceID,
		Handler:  HandlerIngestion,
		Payload:  json.RawMessage(body),
		Error:    runErr.Error(),
	}
	var stageErr *ingestion.StageError
	if errors.As(runErr, &stageErr) {
		failed.Stage = string(stageErr.Stage)
	}

	if err := c.jobRepo.Save(ctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
		return
	}
	slog.InfoContext(ctx, "saved failed job for retry", "job_id", failed.ID)
}

func (c *IngestionConsumer) publishCompleted(ctx context.Context, event CompletedEvent) {
	if c.publisher == nil {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal completion event", "error", err)
		return
	}
	if err := c.publisher.Publish(config.TopicIngestCompleted, body); err != nil {
		slog.WarnContext(ctx, "failed to publish completion event", "error", err)
	}
}
