// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partmig/partmig/pkg/errkind"
	"github.com/partmig/partmig/pkg/events"
	"github.com/partmig/partmig/pkg/store"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	assert.Equal(t, SkipPartitionOnError, o.errorStrategy)
	assert.Equal(t, 100_000, o.batchSize)
	assert.NotNil(t, o.emitter)
}

func TestOptionsApply(t *testing.T) {
	o := defaultOptions()
	WithErrorStrategy(StopOnError)(&o)
	WithBatchSize(500)(&o)
	assert.Equal(t, StopOnError, o.errorStrategy)
	assert.Equal(t, 500, o.batchSize)
}

func TestConnectionStatusLabel(t *testing.T) {
	assert.Equal(t, "ok", connectionStatusLabel(true))
	assert.Equal(t, "failed", connectionStatusLabel(false))
}

func TestFailureStatusDistinguishesCancelled(t *testing.T) {
	assert.Equal(t, store.StatusCancelled, failureStatus(errkind.Sentinel(errkind.Cancelled)))
	assert.Equal(t, store.StatusFailed, failureStatus(errors.New("boom")))
}

func newTestJob(t *testing.T) *Job {
	t.Helper()
	st, err := store.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &Job{store: st, emitter: events.NewNoop()}
}

func TestResumeOrCreateHistoryCreatesWhenNoneIncomplete(t *testing.T) {
	j := newTestJob(t)
	ctx := context.Background()
	now := time.Now()

	historyID, err := j.resumeOrCreateHistory(ctx, "profile-a", now, now, now, true, true)
	require.NoError(t, err)
	assert.NotEmpty(t, historyID)

	h, err := j.store.History.GetByID(ctx, historyID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, h.Status)
}

func TestResumeOrCreateHistoryReusesIncompleteRun(t *testing.T) {
	j := newTestJob(t)
	ctx := context.Background()
	now := time.Now()

	first, err := j.resumeOrCreateHistory(ctx, "profile-b", now, now, now, true, true)
	require.NoError(t, err)
	require.NoError(t, j.store.History.UpdateByID(ctx, first, func(h *store.History) error {
		h.Status = store.StatusFailed
		return nil
	}))

	second, err := j.resumeOrCreateHistory(ctx, "profile-b", now, now, now.Add(time.Minute), false, true)
	require.NoError(t, err)
	assert.Equal(t, first, second, "a restarted job must reuse the prior run's history_id, not mint a new one")

	h, err := j.store.History.GetByID(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, h.Status, "resuming flips status back to running")
	assert.Equal(t, "failed", h.SourceConnectionStatus, "the resumed run re-records its own probe results")
	assert.Equal(t, "ok", h.TargetConnectionStatus)
}

func TestResumeOrCreateHistoryIgnoresCompletedRuns(t *testing.T) {
	j := newTestJob(t)
	ctx := context.Background()
	now := time.Now()

	first, err := j.resumeOrCreateHistory(ctx, "profile-c", now, now, now, true, true)
	require.NoError(t, err)
	require.NoError(t, j.store.History.UpdateByID(ctx, first, func(h *store.History) error {
		h.Status = store.StatusCompleted
		return nil
	}))

	second, err := j.resumeOrCreateHistory(ctx, "profile-c", now, now, now, true, true)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "a completed run must not be reused")
}
