package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Johnshah/My/internal/domain/model"
	apperrors "github.com/Johnshah/My/internal/errors"
)

var testUpgrader = websocket.Upgrader{}

// recorder collects callback invocations.
type recorder struct {
	mu        sync.Mutex
	progress  []*model.Job
	completed []*model.Job
	errs      []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(job *model.Job) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.progress = append(r.progress, job)
		},
		OnComplete: func(job *model.Job) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = append(r.completed, job)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) versions() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.progress))
	for _, job := range r.progress {
		out = append(out, job.Version)
	}
	return out
}

func (r *recorder) snapshot() (progress, completed []*model.Job, errs []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Job(nil), r.progress...),
		append([]*model.Job(nil), r.completed...),
		append([]error(nil), r.errs...)
}

// wsServer runs handle for every websocket connection; n counts from 1.
func wsServer(t *testing.T, handle func(n int, conn *websocket.Conn)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(dials.Add(1))
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(n, conn)
	}))
	t.Cleanup(srv.Close)
	return srv, &dials
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/j1/progress"
}

func closeWith(conn *websocket.Conn, code int) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
}

func startSubscriber(t *testing.T, opts SubscriberOptions, rec *recorder) *Subscriber {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	sub := NewSubscriber(opts, rec.callbacks())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, sub.Start(ctx))
	t.Cleanup(sub.Disconnect)
	return sub
}

func waitDone(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not finish")
	}
}

func snapshotAt(version int64, status model.JobStatus, progress int) model.Job {
	return model.Job{ID: "j1", Status: status, Progress: progress, Version: version}
}

func TestSubscriber_CompletesOnReady(t *testing.T) {
	srv, dials := wsServer(t, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteJSON(snapshotAt(1, model.JobStatusAnalyzing, 10))
		_ = conn.WriteJSON(snapshotAt(2, model.JobStatusGenerating, 60))
		_ = conn.WriteJSON(snapshotAt(3, model.JobStatusReady, 100))
		closeWith(conn, websocket.CloseNormalClosure)
	})

	rec := &recorder{}
	sub := startSubscriber(t, SubscriberOptions{URL: wsURL(srv)}, rec)
	waitDone(t, sub)

	progress, completed, errs := rec.snapshot()
	assert.Len(t, progress, 3)
	require.Len(t, completed, 1)
	assert.Equal(t, 100, completed[0].Progress)
	assert.Empty(t, errs)
	assert.NoError(t, sub.Err())
	assert.Equal(t, int32(1), dials.Load())
}

func TestSubscriber_ReconnectsAfterAbnormalClosure(t *testing.T) {
	srv, dials := wsServer(t, func(n int, conn *websocket.Conn) {
		_ = conn.WriteJSON(snapshotAt(1, model.JobStatusGenerating, 40))
		if n < 3 {
			// Dropped without a close frame.
			return
		}
		_ = conn.WriteJSON(snapshotAt(2, model.JobStatusCompleted, 100))
		closeWith(conn, websocket.CloseNormalClosure)
	})

	rec := &recorder{}
	sub := startSubscriber(t, SubscriberOptions{URL: wsURL(srv), RetryDelay: 5 * time.Millisecond}, rec)
	waitDone(t, sub)

	assert.Equal(t, []int64{1, 2}, rec.versions(), "replayed snapshots are delivered once")
	_, completed, errs := rec.snapshot()
	assert.Len(t, completed, 1)
	assert.Empty(t, errs)
	assert.Equal(t, int32(3), dials.Load())
}

func TestSubscriber_FlappingChannelExhaustsRetries(t *testing.T) {
	// Every connection delivers one new snapshot and then drops.
	srv, dials := wsServer(t, func(n int, conn *websocket.Conn) {
		_ = conn.WriteJSON(snapshotAt(int64(n), model.JobStatusGenerating, 10+n))
	})

	rec := &recorder{}
	sub := startSubscriber(t, SubscriberOptions{
		URL:         wsURL(srv),
		MaxRetries:  3,
		RetryDelay:  5 * time.Millisecond,
		StableAfter: time.Minute,
	}, rec)
	waitDone(t, sub)

	progress, completed, errs := rec.snapshot()
	assert.Len(t, progress, 4, "each connection's snapshot is still delivered")
	assert.Empty(t, completed)
	require.Len(t, errs, 1)
	var connErr *ConnectionError
	require.ErrorAs(t, errs[0], &connErr)
	assert.Equal(t, 3, connErr.Attempts)
	assert.Equal(t, int32(4), dials.Load(), "one connection plus three reconnects")
}

func TestSubscriber_StableConnectionRestoresRetries(t *testing.T) {
	srv, dials := wsServer(t, func(n int, conn *websocket.Conn) {
		_ = conn.WriteJSON(snapshotAt(int64(n), model.JobStatusGenerating, 10+n))
		if n < 4 {
			// Long enough to count as stable, then dropped.
			time.Sleep(30 * time.Millisecond)
			return
		}
		_ = conn.WriteJSON(snapshotAt(int64(n+1), model.JobStatusReady, 100))
		closeWith(conn, websocket.CloseNormalClosure)
	})

	rec := &recorder{}
	sub := startSubscriber(t, SubscriberOptions{
		URL:         wsURL(srv),
		MaxRetries:  1,
		RetryDelay:  5 * time.Millisecond,
		StableAfter: 10 * time.Millisecond,
	}, rec)
	waitDone(t, sub)

	_, completed, errs := rec.snapshot()
	assert.Empty(t, errs)
	assert.Len(t, completed, 1)
	assert.NoError(t, sub.Err())
	assert.Equal(t, int32(4), dials.Load())
}

func TestSubscriber_ConnectionErrorWhilePollerSeesReady(t *testing.T) {
	var dials, polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs/j1/progress", func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	})
	mux.HandleFunc("GET /api/jobs/j1", func(w http.ResponseWriter, _ *http.Request) {
		snap := snapshotAt(2, model.JobStatusGenerating, 40)
		if polls.Add(1) >= 3 {
			snap = snapshotAt(3, model.JobStatusReady, 100)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, Logger: discardLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	type result struct {
		job *model.Job
		err error
	}
	polled := make(chan result, 1)
	go func() {
		job, runErr := NewPoller(c, "j1", PollerOptions{Interval: 5 * time.Millisecond}).Run(ctx)
		polled <- result{job: job, err: runErr}
	}()

	rec := &recorder{}
	sub := startSubscriber(t, SubscriberOptions{URL: c.ProgressURL("j1"), RetryDelay: 5 * time.Millisecond}, rec)
	waitDone(t, sub)

	_, completed, errs := rec.snapshot()
	assert.Empty(t, completed)
	require.Len(t, errs, 1)
	var connErr *ConnectionError
	require.ErrorAs(t, errs[0], &connErr)
	assert.Equal(t, 5, connErr.Attempts)
	var jobErr *JobFailedError
	assert.False(t, errors.As(errs[0], &jobErr), "a lost channel is not a job failure")
	assert.Equal(t, int32(6), dials.Load(), "one connection plus five reconnects")
	assert.Equal(t, errs[0], sub.Err())

	res := <-polled
	require.NoError(t, res.err)
	assert.Equal(t, model.JobStatusReady, res.job.Status)
	assert.Equal(t, 100, res.job.Progress)
}

func TestSubscriber_JobFailure(t *testing.T) {
	srv, dials := wsServer(t, func(_ int, conn *websocket.Conn) {
		failed := snapshotAt(4, model.JobStatusFailed, 40)
		failed.Error = &model.JobError{Code: "generation_failed", Detail: "syntax check failed"}
		_ = conn.WriteJSON(failed)
		closeWith(conn, websocket.CloseNormalClosure)
	})

	rec := &recorder{}
	sub := startSubscriber(t, SubscriberOptions{URL: wsURL(srv), RetryDelay: 5 * time.Millisecond}, rec)
	waitDone(t, sub)

	progress, completed, errs := rec.snapshot()
	assert.Len(t, progress, 1)
	assert.Empty(t, completed)
	require.Len(t, errs, 1)
	var jobErr *JobFailedError
	require.ErrorAs(t, errs[0], &jobErr)
	assert.Equal(t, "syntax check failed", jobErr.Cause.Detail)
	assert.Equal(t, "generation_failed", jobErr.Cause.Code)
	var connErr *ConnectionError
	assert.False(t, errors.As(errs[0], &connErr))
	assert.Equal(t, int32(1), dials.Load())
}

func TestSubscriber_NormalClosureWithoutResult(t *testing.T) {
	srv, dials := wsServer(t, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteJSON(snapshotAt(1, model.JobStatusGenerating, 40))
		closeWith(conn, websocket.CloseNormalClosure)
	})

	rec := &recorder{}
	sub := startSubscriber(t, SubscriberOptions{URL: wsURL(srv), RetryDelay: 5 * time.Millisecond}, rec)
	waitDone(t, sub)

	_, _, errs := rec.snapshot()
	require.Len(t, errs, 1)
	var connErr *ConnectionError
	require.ErrorAs(t, errs[0], &connErr)
	assert.Equal(t, 0, connErr.Attempts)
	assert.Equal(t, int32(1), dials.Load(), "a normal closure is not retried")
}

func TestSubscriber_GoingAwayIsRetried(t *testing.T) {
	srv, dials := wsServer(t, func(n int, conn *websocket.Conn) {
		if n == 1 {
			_ = conn.WriteJSON(snapshotAt(1, model.JobStatusGenerating, 40))
			closeWith(conn, websocket.CloseGoingAway)
			return
		}
		_ = conn.WriteJSON(snapshotAt(2, model.JobStatusReady, 100))
		closeWith(conn, websocket.CloseNormalClosure)
	})

	rec := &recorder{}
	sub := startSubscriber(t, SubscriberOptions{URL: wsURL(srv), RetryDelay: 5 * time.Millisecond}, rec)
	waitDone(t, sub)

	assert.NoError(t, sub.Err())
	assert.Equal(t, int32(2), dials.Load())
}

func TestSubscriber_HandshakeRejected(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"job j1 not found"}`))
	}))
	t.Cleanup(srv.Close)

	rec := &recorder{}
	sub := startSubscriber(t, SubscriberOptions{URL: wsURL(srv), RetryDelay: 5 * time.Millisecond}, rec)
	waitDone(t, sub)

	_, _, errs := rec.snapshot()
	require.Len(t, errs, 1)
	assert.True(t, apperrors.IsNotFound(errs[0]))
	assert.Equal(t, int32(1), hits.Load())
}

func TestSubscriber_DisconnectClosesNormally(t *testing.T) {
	closed := make(chan int, 1)
	srv, _ := wsServer(t, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteJSON(snapshotAt(1, model.JobStatusGenerating, 40))
		_, _, err := conn.ReadMessage()
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			closed <- closeErr.Code
			return
		}
		closed <- -1
	})

	rec := &recorder{}
	sub := startSubscriber(t, SubscriberOptions{URL: wsURL(srv)}, rec)
	require.Eventually(t, func() bool { return len(rec.versions()) == 1 }, 3*time.Second, 5*time.Millisecond)

	sub.Disconnect()
	waitDone(t, sub)

	select {
	case code := <-closed:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw the close")
	}
	_, _, errs := rec.snapshot()
	assert.Empty(t, errs)
	assert.NoError(t, sub.Err())
}

func TestSubscriber_DisconnectCancelsPendingReconnect(t *testing.T) {
	srv, dials := wsServer(t, func(int, *websocket.Conn) {})

	rec := &recorder{}
	sub := startSubscriber(t, SubscriberOptions{URL: wsURL(srv), RetryDelay: time.Hour}, rec)
	require.Eventually(t, func() bool { return dials.Load() == 1 }, 3*time.Second, 5*time.Millisecond)

	sub.Disconnect()
	waitDone(t, sub)

	_, _, errs := rec.snapshot()
	assert.Empty(t, errs)
	assert.Equal(t, int32(1), dials.Load())
}

func TestSubscriber_StartTwice(t *testing.T) {
	srv, _ := wsServer(t, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteJSON(snapshotAt(1, model.JobStatusReady, 100))
	})
	sub := startSubscriber(t, SubscriberOptions{URL: wsURL(srv)}, &recorder{})
	assert.ErrorIs(t, sub.Start(context.Background()), ErrAlreadyStarted)
	waitDone(t, sub)
}

func TestSubscriber_TwoSubscribersSameJob(t *testing.T) {
	api := newAPIServer(t)
	api.seed(t, &model.Job{ID: "shared", Status: model.JobStatusGenerating, Progress: 50})

	first, second := &recorder{}, &recorder{}
	subA := startSubscriber(t, SubscriberOptions{URL: api.client.ProgressURL("shared")}, first)
	subB := startSubscriber(t, SubscriberOptions{URL: api.client.ProgressURL("shared")}, second)
	require.Eventually(t, func() bool {
		return len(first.versions()) == 1 && len(second.versions()) == 1
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, api.advance("shared", func(j *model.Job) {
		j.Status = model.JobStatusReady
		j.Progress = 100
	}))
	waitDone(t, subA)
	waitDone(t, subB)

	for _, rec := range []*recorder{first, second} {
		_, completed, errs := rec.snapshot()
		require.Len(t, completed, 1)
		assert.Equal(t, int64(2), completed[0].Version)
		assert.Equal(t, model.JobStatusReady, completed[0].Status)
		assert.Empty(t, errs)
	}
	assert.NoError(t, subA.Err())
	assert.NoError(t, subB.Err())
}
