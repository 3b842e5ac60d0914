package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/data"
	"github.com/Johnshah/My/internal/domain/model"
	"github.com/Johnshah/My/internal/domain/phase"
)

func newTestWriter(t *testing.T) (*jobWriter, *data.MemoryJobRepo, *recordingPublisher) {
	t.Helper()
	repo := data.NewMemoryJobRepo(nil)
	job := &model.Job{
		ID:        "w1",
		Mode:      model.JobModeStandard,
		Status:    model.JobStatusPending,
		Platforms: []model.Platform{model.PlatformWeb},
	}
	require.NoError(t, repo.Create(context.Background(), job))
	pub := &recordingPublisher{}
	e := &Executor{jobs: repo, publisher: pub, now: time.Now, logger: slog.New(slog.DiscardHandler)}
	return e.newWriter(job.Clone(), phase.StandardTable()), repo, pub
}

func TestJobWriter_ReconcilesStaleVersion(t *testing.T) {
	w, repo, pub := newTestWriter(t)
	ctx := context.Background()

	// Another writer bumps the version without finishing the record.
	other, err := repo.GetByID(ctx, "w1")
	require.NoError(t, err)
	other.Message = "touched"
	require.NoError(t, repo.Save(ctx, other))

	require.NoError(t, w.enterPhase(ctx, 0))

	stored, err := repo.GetByID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Version)
	assert.Equal(t, model.JobStatusAnalyzing, stored.Status)
	require.Len(t, pub.snaps, 1)
	assert.Equal(t, stored.Version, pub.snaps[0].Version)
}

func TestJobWriter_AbortsOnTerminalRecord(t *testing.T) {
	w, repo, pub := newTestWriter(t)
	ctx := context.Background()
	require.NoError(t, w.enterPhase(ctx, 0))

	_, err := repo.FailInFlight(ctx, core.FailJobsParams{Error: interruptedError()})
	require.NoError(t, err)

	err = w.advance(ctx, 0, 1, 2)
	require.ErrorIs(t, err, errRunAborted)
	assert.Len(t, pub.snaps, 1, "nothing is published after the abort")

	stored, err := repo.GetByID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
}

func TestJobWriter_SkipsNonIncreasingProgress(t *testing.T) {
	w, _, pub := newTestWriter(t)
	ctx := context.Background()
	require.NoError(t, w.enterPhase(ctx, 2))
	require.Len(t, pub.snaps, 1)
	assert.Equal(t, 30, pub.snaps[0].Progress)

	require.NoError(t, w.advance(ctx, 2, 2, 4))
	require.NoError(t, w.advance(ctx, 2, 1, 4))
	require.NoError(t, w.advance(ctx, 2, 2, 4))

	require.Len(t, pub.snaps, 2)
	assert.Equal(t, 50, pub.snaps[1].Progress)
}

func TestJobWriter_FailKeepsProgress(t *testing.T) {
	w, _, pub := newTestWriter(t)
	ctx := context.Background()
	require.NoError(t, w.enterPhase(ctx, 1))
	require.NoError(t, w.fail(ctx, model.JobError{Code: "build_failed", Detail: "boom"}))

	last := pub.snaps[len(pub.snaps)-1]
	assert.Equal(t, model.JobStatusFailed, last.Status)
	assert.Equal(t, 20, last.Progress)
	assert.NotNil(t, last.CompletedAt)

	assert.ErrorIs(t, w.complete(ctx, model.JobStats{}), errRunAborted)
}
