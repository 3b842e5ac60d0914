package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Johnshah/My/internal/data"
	"github.com/Johnshah/My/internal/domain/model"
	"github.com/Johnshah/My/internal/domain/progress"
	"github.com/Johnshah/My/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type progressFixture struct {
	repo *data.MemoryJobRepo
	hub  *progress.Hub
	srv  *httptest.Server
}

func newProgressFixture(t *testing.T, mutate func(*RouterServices)) *progressFixture {
	t.Helper()
	repo := data.NewMemoryJobRepo(nil)
	hub := progress.NewHub(progress.HubOptions{})
	store, err := data.NewFileArtifactStore(t.TempDir())
	require.NoError(t, err)

	services := RouterServices{
		Submitter: &stubSubmitter{},
		Jobs:      service.MustNewJobService(service.JobServiceOptions{Repo: repo, Artifacts: store, Progress: hub}),
		Logger:    discardLogger(),
	}
	if mutate != nil {
		mutate(&services)
	}
	srv := httptest.NewServer(NewRouter(services))
	t.Cleanup(func() {
		hub.StopAll()
		srv.Close()
	})
	return &progressFixture{repo: repo, hub: hub, srv: srv}
}

func (f *progressFixture) seed(t *testing.T, job *model.Job) {
	t.Helper()
	job.Mode = model.JobModeStandard
	job.Platforms = []model.Platform{model.PlatformWeb}
	require.NoError(t, f.repo.Create(context.Background(), job))
}

// update saves a change the way the executor does and optionally publishes it.
func (f *progressFixture) update(t *testing.T, id string, publish bool, mutate func(*model.Job)) *model.Job {
	t.Helper()
	ctx := context.Background()
	job, err := f.repo.GetByID(ctx, id)
	require.NoError(t, err)
	mutate(job)
	require.NoError(t, f.repo.Save(ctx, job))
	if publish {
		require.NoError(t, f.hub.Publish(ctx, job))
	}
	return job
}

func (f *progressFixture) dial(t *testing.T, id string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/jobs/" + id + "/progress"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		t.Cleanup(func() { _ = resp.Body.Close() })
	}
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readSnapshot(t *testing.T, conn *websocket.Conn) *model.Job {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var job model.Job
	require.NoError(t, conn.ReadJSON(&job))
	return &job
}

func requireNormalClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestProgressWebSocket_StreamsUntilTerminal(t *testing.T) {
	f := newProgressFixture(t, nil)
	f.seed(t, &model.Job{ID: "j1", Status: model.JobStatusPending})

	conn, _, err := f.dial(t, "j1", nil)
	require.NoError(t, err)

	first := readSnapshot(t, conn)
	assert.Equal(t, model.JobStatusPending, first.Status)
	assert.Equal(t, int64(1), first.Version)

	f.update(t, "j1", true, func(j *model.Job) {
		j.Status = model.JobStatusAnalyzing
		j.Phase = "requirements analysis"
		j.Progress = 10
	})
	got := readSnapshot(t, conn)
	assert.Equal(t, model.JobStatusAnalyzing, got.Status)
	assert.Equal(t, 10, got.Progress)

	// A replayed older snapshot is dropped.
	require.NoError(t, f.hub.Publish(context.Background(), first))

	f.update(t, "j1", true, func(j *model.Job) {
		j.Status = model.JobStatusReady
		j.Progress = 100
	})
	final := readSnapshot(t, conn)
	assert.Equal(t, model.JobStatusReady, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, int64(3), final.Version)

	requireNormalClose(t, conn)
}

func TestProgressWebSocket_TerminalJobClosesImmediately(t *testing.T) {
	f := newProgressFixture(t, nil)
	f.seed(t, &model.Job{
		ID: "done", Status: model.JobStatusFailed, Progress: 40,
		Error: &model.JobError{Code: "generation_failed", Detail: "syntax check failed"},
	})

	conn, _, err := f.dial(t, "done", nil)
	require.NoError(t, err)

	job := readSnapshot(t, conn)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, "syntax check failed", job.Error.Detail)
	requireNormalClose(t, conn)
}

func TestProgressWebSocket_ResyncsMissedUpdates(t *testing.T) {
	f := newProgressFixture(t, func(s *RouterServices) {
		s.ResyncInterval = 20 * time.Millisecond
	})
	f.seed(t, &model.Job{ID: "j2", Status: model.JobStatusGenerating, Progress: 50})

	conn, _, err := f.dial(t, "j2", nil)
	require.NoError(t, err)
	readSnapshot(t, conn)

	// Stored but never published, as when a bus message is lost.
	f.update(t, "j2", false, func(j *model.Job) {
		j.Status = model.JobStatusReady
		j.Progress = 100
	})

	final := readSnapshot(t, conn)
	assert.Equal(t, model.JobStatusReady, final.Status)
	requireNormalClose(t, conn)
}

func TestProgressWebSocket_ShutdownIsNotNormalClosure(t *testing.T) {
	f := newProgressFixture(t, nil)
	f.seed(t, &model.Job{ID: "j3", Status: model.JobStatusAnalyzing, Progress: 5})

	conn, _, err := f.dial(t, "j3", nil)
	require.NoError(t, err)
	readSnapshot(t, conn)

	f.hub.StopAll()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestProgressWebSocket_UnknownJob(t *testing.T) {
	f := newProgressFixture(t, nil)

	_, resp, err := f.dial(t, "missing", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProgressWebSocket_OriginCheck(t *testing.T) {
	f := newProgressFixture(t, func(s *RouterServices) {
		s.AllowedOrigins = []string{"https://app.example.com"}
	})
	f.seed(t, &model.Job{ID: "j4", Status: model.JobStatusPending})

	_, resp, err := f.dial(t, "j4", http.Header{"Origin": {"https://evil.example.com"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := f.dial(t, "j4", http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, readSnapshot(t, conn).Status)
}

func TestProgressEvents_StreamEndsAfterTerminal(t *testing.T) {
	f := newProgressFixture(t, nil)
	f.seed(t, &model.Job{ID: "e1", Status: model.JobStatusPending})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/api/jobs/e1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan *model.Job, 8)
	readErr := make(chan error, 1)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var job model.Job
			if decodeErr := json.Unmarshal([]byte(data), &job); decodeErr != nil {
				readErr <- decodeErr
				return
			}
			events <- &job
		}
		readErr <- scanner.Err()
	}()

	first := <-events
	require.NotNil(t, first)
	assert.Equal(t, model.JobStatusPending, first.Status)

	f.update(t, "e1", true, func(j *model.Job) {
		j.Status = model.JobStatusFailed
		j.Error = &model.JobError{Code: "build_failed", Detail: "gradle exited 1"}
	})

	var last *model.Job
	for job := range events {
		last = job
	}
	require.NoError(t, <-readErr, "stream should end cleanly")
	require.NotNil(t, last)
	assert.Equal(t, model.JobStatusFailed, last.Status)
	assert.Equal(t, "build_failed", last.Error.Code)
}

func TestOriginChecker(t *testing.T) {
	assert.Nil(t, originChecker(nil))

	anyOrigin := originChecker([]string{"*"})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://anything.example")
	assert.True(t, anyOrigin(r))

	listed := originChecker([]string{"https://a.example"})
	assert.False(t, listed(r))
	r.Header.Set("Origin", "https://a.example")
	assert.True(t, listed(r))
	r.Header.Del("Origin")
	assert.True(t, listed(r), "non-browser clients send no origin")
}
