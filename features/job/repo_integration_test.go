package job_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbingest/features/job"
	"kbingest/internal/testutils"
)

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	repo := job.NewPostgresRepo(s.DB)
	ctx := context.Background()

	j1 := &job.Job{RunID: "run-1", SourceID: "src-1", Handler: "ingestion-worker", Payload: json.RawMessage(`{"n":1}`), Error: "e1"}
	require.NoError(t, repo.Save(ctx, j1))

	time.Sleep(100 * time.Millisecond)

	j2 := &job.Job{RunID: "run-2", SourceID: "src-1", Handler: "ingestion-worker", Stage: "streaming", Payload: json.RawMessage(`{"n":2}`), Error: "e2"}
	require.NoError(t, repo.Save(ctx, j2))

	jobs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, j2.ID, jobs[0].ID, "newest job first")

	// Same run failing again bumps retries instead of adding a row.
	again := &job.Job{RunID: "run-1", SourceID: "src-1", Handler: "ingestion-worker", Payload: json.RawMessage(`{"n":1}`), Error: "e1 again"}
	require.NoError(t, repo.Save(ctx, again))
	assert.Equal(t, j1.ID, again.ID)
	assert.Equal(t, 1, again.Retries)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, repo.Delete(ctx, j1.ID))
	_, err = repo.Get(ctx, j1.ID)
	assert.ErrorIs(t, err, job.ErrNotFound)
}
