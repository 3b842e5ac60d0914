package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Johnshah/My/internal/domain/model"
	"github.com/Johnshah/My/internal/domain/progress"
	"github.com/Johnshah/My/internal/testutil"
)

func TestProgressBus_ListenDeliversPublishedSnapshots(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer client.Close()

	bus := NewProgressBus(ProgressBusOptions{Client: client, Prefix: "appgen:test:" + t.Name() + ":"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan *model.Job, 64)
	done := make(chan error, 1)
	listenCtx, stop := context.WithCancel(ctx)
	go func() {
		done <- bus.Listen(listenCtx, "job-1", func(j *model.Job) { got <- j })
	}()

	// Publish until the subscription is live; pub/sub drops messages sent earlier.
	require.Eventually(t, func() bool {
		assert.NoError(t, bus.Publish(ctx, &model.Job{ID: "job-1", Status: model.JobStatusAnalyzing, Progress: 5}))
		return len(got) > 0
	}, 3*time.Second, 20*time.Millisecond)

	first := <-got
	assert.Equal(t, "job-1", first.ID)
	assert.Equal(t, 5, first.Progress)

	require.NoError(t, bus.Publish(ctx, &model.Job{ID: "job-2", Status: model.JobStatusAnalyzing}))
	require.NoError(t, bus.Publish(ctx, &model.Job{
		ID: "job-1", Status: model.JobStatusFailed, Progress: 40,
		Error: &model.JobError{Code: "generation_failed", Detail: "boom"},
	}))

	var terminal *model.Job
	require.Eventually(t, func() bool {
		select {
		case j := <-got:
			if j.IsTerminal() {
				terminal = j
				return true
			}
		default:
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "boom", terminal.Error.Detail)

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestProgressBus_FeedsHub(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer client.Close()

	bus := NewProgressBus(ProgressBusOptions{Client: client, Prefix: "appgen:test:" + t.Name() + ":"})
	hub := progress.NewHub(progress.HubOptions{Source: bus, Backoff: 10 * time.Millisecond})
	defer hub.StopAll()

	unsub, ch := hub.Subscribe("job-9")
	defer unsub()

	ctx := context.Background()
	var snap *model.Job
	require.Eventually(t, func() bool {
		assert.NoError(t, bus.Publish(ctx, &model.Job{ID: "job-9", Status: model.JobStatusGenerating, Progress: 50}))
		select {
		case snap = <-ch:
			return true
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 50, snap.Progress)
}

func TestProgressBus_PublishIgnoresAnonymous(t *testing.T) {
	bus := NewProgressBus(ProgressBusOptions{})
	assert.NoError(t, bus.Publish(context.Background(), nil))
	assert.NoError(t, bus.Publish(context.Background(), &model.Job{}))
	assert.Equal(t, DefaultChannelPrefix+"x", bus.Channel("x"))
}
