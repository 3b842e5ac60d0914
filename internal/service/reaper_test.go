package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Johnshah/My/config"
	"github.com/Johnshah/My/internal/core"
	"github.com/Johnshah/My/internal/data"
	"github.com/Johnshah/My/internal/domain/model"
	"github.com/Johnshah/My/internal/mocks"
)

// mockReaperRepo is a simple mock implementation for testing.
type mockReaperRepo struct {
	mu sync.Mutex

	failInFlightCalls []core.FailJobsParams
	failInFlightBatch []*model.Job
	failInFlightError error

	deleteCalled  int
	deleteIDs     []string
	deleteError   error
	deleteCutoffs []time.Time
}

func (m *mockReaperRepo) FailInFlight(_ context.Context, params core.FailJobsParams) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failInFlightCalls = append(m.failInFlightCalls, params)
	if m.failInFlightError != nil {
		return nil, m.failInFlightError
	}
	// Return the batch on the first call, then nothing to simulate exhaustion
	if len(m.failInFlightCalls) == 1 {
		return m.failInFlightBatch, nil
	}
	return nil, nil
}

func (m *mockReaperRepo) DeleteTerminalBefore(_ context.Context, cutoff time.Time, _ int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalled++
	m.deleteCutoffs = append(m.deleteCutoffs, cutoff)
	if m.deleteError != nil {
		return nil, m.deleteError
	}
	if m.deleteCalled == 1 {
		return m.deleteIDs, nil
	}
	return nil, nil
}

func (m *mockReaperRepo) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failInFlightCalls)
}

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:       5 * time.Minute,
		InflightMaxAge: 30 * time.Minute,
		Retention:      7 * 24 * time.Hour,
		BatchSize:      2,
	}
}

func TestNewReaperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   &mockReaperRepo{},
			Config: testReaperConfig(),
			Logger: slog.Default(),
		})

		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when repo is nil", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{Config: testReaperConfig()})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "ReaperRepository is required")
	})
}

func TestReaperService_RecoverOwned(t *testing.T) {
	t.Run("fails jobs owned by this instance and publishes them", func(t *testing.T) {
		jobs := data.NewMemoryJobRepo(nil)
		ctx := context.Background()
		for i, owner := range []string{"node-a", "node-a", "node-b"} {
			require.NoError(t, jobs.Create(ctx, &model.Job{
				ID:        fmt.Sprintf("job-%d", i),
				Mode:      model.JobModeStandard,
				Status:    model.JobStatusGenerating,
				Platforms: []model.Platform{model.PlatformWeb},
				Owner:     owner,
			}))
		}
		pub := &recordingPublisher{}

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:       jobs,
			Publisher:  pub,
			Config:     testReaperConfig(),
			InstanceID: "node-a",
		})
		require.NoError(t, err)

		count, err := svc.RecoverOwned(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		for _, id := range []string{"job-0", "job-1"} {
			job, getErr := jobs.GetByID(ctx, id)
			require.NoError(t, getErr)
			assert.Equal(t, model.JobStatusFailed, job.Status)
			assert.Equal(t, "interrupted", job.Error.Code)
		}
		other, err := jobs.GetByID(ctx, "job-2")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusGenerating, other.Status, "other owners are left alone")

		assert.Len(t, pub.snaps, 2)
		for _, s := range pub.snaps {
			assert.True(t, s.IsTerminal())
		}
	})

	t.Run("does nothing without an instance id", func(t *testing.T) {
		repo := &mockReaperRepo{}
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: testReaperConfig()})
		require.NoError(t, err)

		count, err := svc.RecoverOwned(context.Background())
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Zero(t, repo.calls())
	})
}

func TestReaperService_runCleanup(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("runs all cleanup operations successfully", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		artifacts := mocks.NewMockArtifactStore(ctrl)
		artifacts.EXPECT().DeleteJob(gomock.Any(), "old-1").Return(nil)
		artifacts.EXPECT().DeleteJob(gomock.Any(), "old-2").Return(errors.New("permission denied"))

		repo := &mockReaperRepo{
			failInFlightBatch: []*model.Job{{ID: "stale", Status: model.JobStatusFailed}},
			deleteIDs:         []string{"old-1", "old-2"},
		}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:      repo,
			Artifacts: artifacts,
			Config:    testReaperConfig(),
			Clock:     func() time.Time { return now },
		})
		require.NoError(t, err)

		require.NoError(t, svc.runCleanup(context.Background()))

		// One batch smaller than BatchSize ends the loop
		require.Len(t, repo.failInFlightCalls, 1)
		params := repo.failInFlightCalls[0]
		assert.Equal(t, now.Add(-30*time.Minute), params.UpdatedBefore)
		assert.Empty(t, params.Owner)
		assert.Equal(t, "interrupted", params.Error.Code)
		assert.Equal(t, "no progress for 30m0s", params.Error.Detail)
		assert.Equal(t, 2, params.BatchSize)

		// A full batch triggers a second call that returns nothing
		assert.Equal(t, 2, repo.deleteCalled)
		assert.Equal(t, now.Add(-7*24*time.Hour), repo.deleteCutoffs[0])
	})

	t.Run("continues on partial errors", func(t *testing.T) {
		repo := &mockReaperRepo{
			failInFlightError: errors.New("fail error"),
			deleteIDs:         []string{"old-1"},
		}
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: testReaperConfig()})
		require.NoError(t, err)

		err = svc.runCleanup(context.Background())

		// Should return error but still run the delete step
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fail stale jobs")
		assert.Equal(t, 1, repo.calls())
		assert.Equal(t, 1, repo.deleteCalled)
	})
}

func TestReaperService_failStaleJobs(t *testing.T) {
	t.Run("only fails jobs older than the max age", func(t *testing.T) {
		start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		clock := data.NewFixedTimeProvider(start)
		jobs := data.NewMemoryJobRepo(clock)
		ctx := context.Background()

		require.NoError(t, jobs.Create(ctx, &model.Job{
			ID: "old", Mode: model.JobModeStandard, Status: model.JobStatusAnalyzing,
			Platforms: []model.Platform{model.PlatformWeb},
		}))
		clock.SetTime(start.Add(40 * time.Minute))
		require.NoError(t, jobs.Create(ctx, &model.Job{
			ID: "fresh", Mode: model.JobModeStandard, Status: model.JobStatusAnalyzing,
			Platforms: []model.Platform{model.PlatformWeb},
		}))

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   jobs,
			Config: testReaperConfig(),
			Clock:  clock.Now,
		})
		require.NoError(t, err)

		count, err := svc.failStaleJobs(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		old, err := jobs.GetByID(ctx, "old")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, old.Status)
		fresh, err := jobs.GetByID(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusAnalyzing, fresh.Status)
	})
}

func TestReaperService_Run(t *testing.T) {
	t.Run("stops on context cancellation", func(t *testing.T) {
		repo := &mockReaperRepo{}
		cfg := testReaperConfig()
		cfg.Interval = 100 * time.Millisecond

		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() {
			done <- svc.Run(ctx)
		}()

		// Wait a bit to ensure at least one cleanup runs
		time.Sleep(150 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			// Should return nil on graceful shutdown
			require.NoError(t, err)
		case <-time.After(1 * time.Second):
			t.Fatal("Run did not stop after context cancellation")
		}

		assert.GreaterOrEqual(t, repo.calls(), 1)
	})

	t.Run("continues running despite cleanup errors", func(t *testing.T) {
		repo := &mockReaperRepo{failInFlightError: errors.New("test error")}
		cfg := testReaperConfig()
		cfg.Interval = 50 * time.Millisecond

		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		err = svc.Run(ctx)

		// Should return context deadline exceeded, not the cleanup error
		require.Error(t, err)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.GreaterOrEqual(t, repo.calls(), 2)
	})
}
