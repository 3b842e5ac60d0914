package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Johnshah/My/internal/domain/model"
)

const (
	defaultPingInterval   = 15 * time.Second
	defaultResyncInterval = 10 * time.Second
	writeWait             = 10 * time.Second
	maxClientMessage      = 512
)

// errStreamClosed reports a subscription closed by the server before the job
// finished, which happens on shutdown.
var errStreamClosed = errors.New("progress stream closed before the job finished")

// ProgressHandlersOptions configures ProgressHandlers.
type ProgressHandlersOptions struct {
	Jobs JobReader
	// AllowedOrigins lists browser origins accepted on the websocket. Empty
	// means same origin only; "*" accepts any origin.
	AllowedOrigins []string
	PingInterval   time.Duration
	// ResyncInterval is how often the stream re-reads the stored snapshot, so
	// an update missed by the live feed still reaches the client.
	ResyncInterval time.Duration
	Logger         *slog.Logger
}

// ProgressHandlers streams Job Record snapshots over a websocket or SSE.
type ProgressHandlers struct {
	jobs     JobReader
	upgrader websocket.Upgrader
	ping     time.Duration
	resync   time.Duration
	logger   *slog.Logger
}

// NewProgressHandlers constructs ProgressHandlers.
func NewProgressHandlers(opts ProgressHandlersOptions) *ProgressHandlers {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	resync := opts.ResyncInterval
	if resync <= 0 {
		resync = defaultResyncInterval
	}

	h := &ProgressHandlers{
		jobs:   opts.Jobs,
		ping:   ping,
		resync: resync,
		logger: logger.With("component", "progress_http"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// originChecker returns nil for the upgrader's same-origin default.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// streamSink is one transport for snapshots.
type streamSink interface {
	send(job *model.Job) error
	ping() error
}

// follow sends first and every newer snapshot of the job until a terminal
// snapshot has been sent. Snapshots with a version not above the last sent
// one are dropped, so a client sees non-decreasing progress.
func (h *ProgressHandlers) follow(ctx context.Context, first *model.Job, updates <-chan *model.Job, sink streamSink) error {
	last := first
	if err := sink.send(first); err != nil {
		return err
	}
	if first.IsTerminal() {
		return nil
	}

	pingTicker := time.NewTicker(h.ping)
	defer pingTicker.Stop()
	resyncTicker := time.NewTicker(h.resync)
	defer resyncTicker.Stop()

	offer := func(job *model.Job) (bool, error) {
		if job == nil || job.Version <= last.Version {
			return false, nil
		}
		if err := sink.send(job); err != nil {
			return false, err
		}
		last = job
		return job.IsTerminal(), nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-updates:
			if !ok {
				// The hub closes a subscription right after a terminal
				// snapshot or on shutdown. Settle against the store.
				return h.settle(ctx, first.ID, offer)
			}
			done, err := offer(job)
			if err != nil || done {
				return err
			}
		case <-resyncTicker.C:
			job, err := h.jobs.Get(ctx, first.ID)
			if err != nil {
				h.logger.DebugContext(ctx, "progress resync failed", "job_id", first.ID, "error", err)
				continue
			}
			done, err := offer(job)
			if err != nil || done {
				return err
			}
		case <-pingTicker.C:
			if err := sink.ping(); err != nil {
				return err
			}
		}
	}
}

func (h *ProgressHandlers) settle(ctx context.Context, id string, offer func(*model.Job) (bool, error)) error {
	job, err := h.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	done, err := offer(job)
	if err != nil {
		return err
	}
	if done || job.IsTerminal() {
		return nil
	}
	return errStreamClosed
}

// subscribe registers for updates before reading the snapshot so nothing
// published in between is missed.
func (h *ProgressHandlers) subscribe(ctx context.Context, id string) (*model.Job, func(), <-chan *model.Job, error) {
	unsub, updates := h.jobs.Subscribe(id)
	job, err := h.jobs.Get(ctx, id)
	if err != nil {
		unsub()
		return nil, nil, nil, err
	}
	return job, unsub, updates, nil
}

// WebSocket handles GET /api/jobs/{id}/progress. After the terminal snapshot
// the server closes with 1000 (normal closure); any other close means the
// client should reconnect.
func (h *ProgressHandlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	id := r.PathValue("id")

	job, unsub, updates, err := h.subscribe(ctx, id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	defer unsub()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		h.logger.DebugContext(ctx, "websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	// Reads only serve control frames; a read error means the client left.
	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.ping))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.ping))
	})
	go func() {
		defer cancel()
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	sink := &wsSink{conn: conn}
	err = h.follow(ctx, job, updates, sink)
	switch {
	case err == nil:
		sink.close(websocket.CloseNormalClosure, "job finished")
		h.logger.DebugContext(ctx, "progress stream finished", "job_id", id)
	case errors.Is(err, errStreamClosed):
		sink.close(websocket.CloseGoingAway, "server shutting down")
	case ctx.Err() != nil:
		// Client went away; nothing to tell it.
	default:
		h.logger.WarnContext(ctx, "progress stream failed", "job_id", id, "error", err)
		sink.close(websocket.CloseInternalServerErr, "progress unavailable")
	}
}

type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) send(job *model.Job) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(job)
}

func (s *wsSink) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *wsSink) close(code int, text string) {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// Events handles GET /api/jobs/{id}/events as server-sent events. Each
// snapshot is a "progress" event; the stream ends after the terminal one.
func (h *ProgressHandlers) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "streaming_unsupported",
			Err:     errors.New("streaming unsupported"),
		})
		return
	}

	job, unsub, updates, err := h.subscribe(ctx, id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = h.follow(ctx, job, updates, &sseSink{w: w, flusher: flusher})
	if err != nil && ctx.Err() == nil {
		h.logger.DebugContext(ctx, "event stream ended early", "job_id", id, "error", err)
	}
}

type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) send(job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if _, err = fmt.Fprintf(s.w, "id: %d\nevent: progress\ndata: %s\n\n", job.Version, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
