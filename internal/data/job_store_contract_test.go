package data

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/domain/model"
	apperrors "github.com/Johnshah/My/internal/errors"
	"github.com/Johnshah/My/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runJobStoreContract exercises the write rules every JobStore must honour.
func runJobStoreContract(t *testing.T, newStore func(t *testing.T, tp TimeProvider) JobStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		store := newStore(t, NewFixedTimeProvider(testutil.TestTime()))
		job := testutil.NewJob("job-create").WithSource("https://github.com/acme/app").Build()
		job.Platforms = []model.Platform{model.PlatformWeb, model.PlatformAndroid}
		require.NoError(t, store.Create(ctx, job))

		got, err := store.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobModeStandard, got.Mode)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Equal(t, []model.Platform{model.PlatformWeb, model.PlatformAndroid}, got.Platforms)
		assert.Equal(t, "https://github.com/acme/app", got.Source.URL)
		assert.Equal(t, int64(1), got.Version)
		assert.Nil(t, got.Error)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		store := newStore(t, nil)
		require.NoError(t, store.Create(ctx, testutil.NewJob("job-dup").Build()))
		err := store.Create(ctx, testutil.NewJob("job-dup").Build())
		assert.True(t, apperrors.IsConflict(err), "got %v", err)
	})

	t.Run("missing job is not found", func(t *testing.T) {
		store := newStore(t, nil)
		_, err := store.GetByID(ctx, "nope")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("save bumps version and rejects stale writers", func(t *testing.T) {
		store := newStore(t, nil)
		job := testutil.NewJob("job-cas").Build()
		require.NoError(t, store.Create(ctx, job))

		stale := job.Clone()
		job.Status = model.JobStatusAnalyzing
		job.Progress = 12
		require.NoError(t, store.Save(ctx, job))
		assert.Equal(t, int64(2), job.Version)

		stale.Progress = 99
		err := store.Save(ctx, stale)
		require.ErrorIs(t, err, core.ErrStaleWrite)

		got, err := store.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 12, got.Progress)
	})

	t.Run("terminal records refuse writes", func(t *testing.T) {
		store := newStore(t, nil)
		job := testutil.NewJob("job-terminal").Build()
		require.NoError(t, store.Create(ctx, job))

		now := testutil.TestTime()
		job.Status = model.JobStatusReady
		job.Progress = 100
		job.CompletedAt = &now
		job.Artifacts = map[model.Platform]string{model.PlatformWeb: "job-terminal/web.zip"}
		require.NoError(t, store.Save(ctx, job))

		job.Status = model.JobStatusFailed
		err := store.Save(ctx, job)
		require.ErrorIs(t, err, core.ErrJobTerminal)

		got, err := store.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusReady, got.Status)
		assert.Equal(t, "job-terminal/web.zip", got.Artifacts[model.PlatformWeb])
	})

	t.Run("list newest first with paging", func(t *testing.T) {
		store := newStore(t, nil)
		base := testutil.TestTime()
		for i, id := range []string{"a", "b", "c"} {
			require.NoError(t, store.Create(ctx, testutil.NewJob(id).WithCreatedAt(base.Add(time.Duration(i)*time.Minute)).Build()))
		}

		jobs, err := store.List(ctx, model.JobListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "c", jobs[0].ID)
		assert.Equal(t, "b", jobs[1].ID)

		jobs, err = store.List(ctx, model.JobListOptions{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "a", jobs[0].ID)
	})

	t.Run("fail in flight by owner", func(t *testing.T) {
		store := newStore(t, nil)
		mine := testutil.NewJob("mine").WithOwner("node-a").WithStatus(model.JobStatusGenerating, 40).Build()
		theirs := testutil.NewJob("theirs").WithOwner("node-b").WithStatus(model.JobStatusAnalyzing, 10).Build()
		done := testutil.NewJob("done").WithOwner("node-a").WithStatus(model.JobStatusReady, 100).Build()
		for _, j := range []*model.Job{mine, theirs, done} {
			require.NoError(t, store.Create(ctx, j))
		}

		failed, err := store.FailInFlight(ctx, core.FailJobsParams{
			Owner: "node-a",
			Error: model.JobError{Code: "interrupted", Detail: "executor restarted"},
		})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "mine", failed[0].ID)
		assert.Equal(t, model.JobStatusFailed, failed[0].Status)
		assert.Equal(t, 40, failed[0].Progress, "progress is left at its last value")
		require.NotNil(t, failed[0].Error)
		assert.Equal(t, "interrupted", failed[0].Error.Code)
		assert.NotNil(t, failed[0].CompletedAt)

		got, err := store.GetByID(ctx, "theirs")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusAnalyzing, got.Status)
	})

	t.Run("fail in flight by age", func(t *testing.T) {
		store := newStore(t, nil)
		base := testutil.TestTime()
		old := testutil.NewJob("old").WithStatus(model.JobStatusGenerating, 50).WithCreatedAt(base.Add(-2 * time.Hour)).Build()
		fresh := testutil.NewJob("fresh").WithStatus(model.JobStatusGenerating, 50).WithCreatedAt(base).Build()
		require.NoError(t, store.Create(ctx, old))
		require.NoError(t, store.Create(ctx, fresh))

		failed, err := store.FailInFlight(ctx, core.FailJobsParams{
			UpdatedBefore: base.Add(-time.Hour),
			Error:         model.JobError{Code: "interrupted", Detail: "no progress"},
		})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "old", failed[0].ID)
	})

	t.Run("delete terminal before cutoff", func(t *testing.T) {
		store := newStore(t, nil)
		base := testutil.TestTime()
		expired := testutil.NewJob("expired").WithStatus(model.JobStatusFailed, 30).WithCreatedAt(base.Add(-48 * time.Hour)).Build()
		recent := testutil.NewJob("recent").WithStatus(model.JobStatusReady, 100).WithCreatedAt(base).Build()
		running := testutil.NewJob("running").WithStatus(model.JobStatusGenerating, 30).WithCreatedAt(base.Add(-48 * time.Hour)).Build()
		for _, j := range []*model.Job{expired, recent, running} {
			require.NoError(t, store.Create(ctx, j))
		}

		ids, err := store.DeleteTerminalBefore(ctx, base.Add(-24*time.Hour), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"expired"}, ids)

		_, err = store.GetByID(ctx, "expired")
		assert.True(t, apperrors.IsNotFound(err))
		_, err = store.GetByID(ctx, "running")
		assert.NoError(t, err)
	})

	t.Run("delete only terminal records", func(t *testing.T) {
		store := newStore(t, nil)
		done := testutil.NewJob("done").WithStatus(model.JobStatusCompleted, 100).Build()
		running := testutil.NewJob("running").WithStatus(model.JobStatusValidating, 80).Build()
		require.NoError(t, store.Create(ctx, done))
		require.NoError(t, store.Create(ctx, running))

		require.ErrorIs(t, store.Delete(ctx, "running"), core.ErrJobNotTerminal)
		_, err := store.GetByID(ctx, "running")
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, "done"))
		_, err = store.GetByID(ctx, "done")
		assert.True(t, apperrors.IsNotFound(err))

		assert.True(t, apperrors.IsNotFound(store.Delete(ctx, "done")))
	})
}

func TestMemoryJobRepo_Contract(t *testing.T) {
	runJobStoreContract(t, func(_ *testing.T, tp TimeProvider) JobStore {
		return NewMemoryJobRepo(tp)
	})
}

func TestJobRepo_Contract(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	runJobStoreContract(t, func(t *testing.T, tp TimeProvider) JobStore {
		db := testutil.SetupTestDB(t)
		t.Cleanup(func() {
			testutil.CleanupTestDB(t, db)
			_ = db.Close()
		})
		return NewJobRepo(db, RepoConfig{TimeProvider: tp})
	})
}

func TestMemoryJobRepo_SaveKeepsImmutableFields(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepo(nil)
	job := testutil.NewJob("j1").Build()
	require.NoError(t, repo.Create(ctx, job))

	job.Mode = model.JobModeDeep
	job.Prompt = "rewritten"
	job.Status = model.JobStatusAnalyzing
	require.NoError(t, repo.Save(ctx, job))

	got, err := repo.GetByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobModeStandard, got.Mode)
	assert.Equal(t, "todo list app", got.Prompt)
	assert.Equal(t, model.JobStatusAnalyzing, got.Status)
}

func TestMemoryJobRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepo(nil)
	require.NoError(t, repo.Create(ctx, testutil.NewJob("j1").Build()))

	got, err := repo.GetByID(ctx, "j1")
	require.NoError(t, err)
	got.Progress = 77

	again, err := repo.GetByID(ctx, "j1")
	require.NoError(t, err)
	assert.Zero(t, again.Progress)
}

// Run with -race: listing must never read a record the reaper is failing.
func TestMemoryJobRepo_ListDuringFailInFlight(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepo(nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			jobs, err := repo.List(ctx, model.JobListOptions{Limit: 50})
			if !assert.NoError(t, err) {
				return
			}
			for _, j := range jobs {
				_ = j.Status
			}
		}
	}()

	for i := range 200 {
		require.NoError(t, repo.Create(ctx, testutil.NewJob(fmt.Sprintf("race-%d", i)).WithOwner("replica-1").Build()))
		failed, err := repo.FailInFlight(ctx, core.FailJobsParams{
			Owner: "replica-1",
			Error: model.JobError{Code: string(apperrors.ErrCodeInterrupted), Detail: "restart"},
		})
		require.NoError(t, err)
		require.Len(t, failed, 1)
	}
	close(stop)
	wg.Wait()

	jobs, err := repo.List(ctx, model.JobListOptions{Limit: 500})
	require.NoError(t, err)
	require.Len(t, jobs, 200)
	for _, j := range jobs {
		assert.Equal(t, model.JobStatusFailed, j.Status)
	}
}
