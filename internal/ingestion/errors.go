package ingestion

import (
	"errors"
	"fmt"
)

var (
	ErrCancelled          = errors.New("ingestion cancelled")
	ErrSourceIntegrity    = errors.New("unable to create source record")
	ErrSourceVerification = errors.New("source record verification failed")
	ErrStorageBackend     = errors.New("chunk storage failed")
	// ErrSummarization is only logged; the registrar falls back to a
	// generated summary.
	ErrSummarization = errors.New("source summarization failed")
)

// StageError records where a run failed.
type StageError struct {
	Stage    State
	SourceID string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("ingestion %s failed for source %q: %v", e.Stage, e.SourceID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
