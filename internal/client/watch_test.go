package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Johnshah/My/internal/domain/model"
)

func TestWatch_PushPath(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, &model.Job{ID: "w1", Status: model.JobStatusAnalyzing, Progress: 10})

	var mu sync.Mutex
	var seen []int
	go func() {
		// Give the watcher time to attach before the job moves on.
		time.Sleep(50 * time.Millisecond)
		assert.NoError(t, api.advance("w1", func(j *model.Job) {
			j.Status = model.JobStatusGenerating
			j.Progress = 60
		}))
		assert.NoError(t, api.advance("w1", func(j *model.Job) {
			j.Status = model.JobStatusReady
			j.Progress = 100
		}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := api.client.Watch(ctx, "w1", WatchOptions{
		OnProgress: func(j *model.Job) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, j.Progress)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusReady, job.Status)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 100, seen[len(seen)-1])
	assert.IsNonDecreasing(t, seen)
}

func TestWatch_FailedJob(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, &model.Job{
		ID: "w2", Status: model.JobStatusFailed, Progress: 40,
		Error: &model.JobError{Code: "generation_failed", Detail: "syntax check failed"},
	})

	job, err := api.client.Watch(context.Background(), "w2", WatchOptions{})
	require.Error(t, err)
	var jobErr *JobFailedError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "syntax check failed", jobErr.Cause.Detail)
	require.NotNil(t, job)
	assert.Equal(t, 40, job.Progress)
}

func TestWatch_FallsBackToPolling(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, &model.Job{ID: "w3", Status: model.JobStatusGenerating, Progress: 50})

	var fallbacks int
	go func() {
		time.Sleep(50 * time.Millisecond)
		assert.NoError(t, api.advance("w3", func(j *model.Job) {
			j.Status = model.JobStatusCompleted
			j.Progress = 100
		}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Snapshots stay reachable while every websocket dial fails.
	blocked := &websocket.Dialer{
		NetDialContext: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("blocked by proxy")
		},
	}
	job, err := api.client.Watch(ctx, "w3", WatchOptions{
		Subscriber: SubscriberOptions{
			MaxRetries: 2,
			RetryDelay: time.Millisecond,
			Dialer:     blocked,
		},
		PollInterval: 5 * time.Millisecond,
		OnFallback:   func(error) { fallbacks++ },
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, fallbacks)
}

func TestWatch_Cancelled(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, &model.Job{ID: "w4", Status: model.JobStatusGenerating, Progress: 50})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	job, err := api.client.Watch(ctx, "w4", WatchOptions{})
	assert.Nil(t, job)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
