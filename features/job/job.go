// Package job keeps ingestion runs that failed so they can be inspected and
// re-queued.
package job

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("job not found")

// Job is a failed ingestion run. Payload is the original message body and is
// republished unchanged on retry.
type Job struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	SourceID  string          `json:"source_id"`
	Handler   string          `json:"handler"`
	Stage     string          `json:"stage,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
