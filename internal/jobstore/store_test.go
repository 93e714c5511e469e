// SPDX-License-Identifier: MIT

package jobstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwrenn/ppubsd/internal/ppubs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRecordAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := ppubs.PrintJob{
		ID:          "job-1",
		GUID:        "US-12345678-B2",
		State:       ppubs.JobSubmitted,
		SubmittedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.Record(ctx, job))

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.GUID, got.GUID)
	assert.Equal(t, ppubs.JobSubmitted, got.State)
	assert.True(t, got.SubmittedAt.Equal(job.SubmittedAt))
	assert.True(t, got.LastPolledAt.IsZero())
}

func TestStoreUpsertTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := ppubs.PrintJob{
		ID:          "job-1",
		GUID:        "US-12345678-B2",
		State:       ppubs.JobSubmitted,
		SubmittedAt: time.Now(),
	}
	require.NoError(t, s.Record(ctx, job))

	job.State = ppubs.JobPending
	job.LastPolledAt = time.Now()
	require.NoError(t, s.Record(ctx, job))

	job.State = ppubs.JobCompleted
	job.ArtifactName = "out.pdf"
	require.NoError(t, s.Record(ctx, job))

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ppubs.JobCompleted, got.State)
	assert.Equal(t, "out.pdf", got.ArtifactName)
	assert.False(t, got.LastPolledAt.IsZero())
}

func TestStoreGetUnknownID(t *testing.T) {
	s := openTestStore(t)

	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, s.Record(ctx, ppubs.PrintJob{
			ID:          id,
			GUID:        "US-12345678-B2",
			State:       ppubs.JobPending,
			SubmittedAt: time.Now(),
		}))
		time.Sleep(2 * time.Millisecond) // distinct updated_at ordering
	}

	jobs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-3", jobs[0].ID)
	assert.Equal(t, "job-2", jobs[1].ID)
}

func TestStoreRecordFailureReason(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, ppubs.PrintJob{
		ID:            "job-1",
		GUID:          "US-12345678-B2",
		State:         ppubs.JobFailed,
		FailureReason: "job failed upstream",
		SubmittedAt:   time.Now(),
	}))

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ppubs.JobFailed, got.State)
	assert.Equal(t, "job failed upstream", got.FailureReason)
}

func TestOpenBadPath(t *testing.T) {
	_, err := Open("/nonexistent-dir/sub/jobs.db")
	assert.Error(t, err)
}
