package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Johnshah/My/internal/domain/model"
)

// Reconnect defaults applied to zero SubscriberOptions.
const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 3 * time.Second
)

const (
	defaultIdleTimeout = 60 * time.Second
	defaultStableAfter = 10 * time.Second
	controlWait        = 5 * time.Second
)

// ErrAlreadyStarted is returned by a second Start call.
var ErrAlreadyStarted = errors.New("subscriber already started")

// Callbacks receive subscriber events. They run on the subscriber's own
// goroutine, one at a time; any of them may be nil.
type Callbacks struct {
	// OnProgress receives every new snapshot, including the terminal one.
	OnProgress func(job *model.Job)
	// OnComplete receives the terminal snapshot of a successful job.
	OnComplete func(job *model.Job)
	// OnError receives a *JobFailedError, a *ConnectionError, or an
	// *APIError when the server refused the channel outright.
	OnError func(err error)
}

// SubscriberOptions configures a Subscriber.
type SubscriberOptions struct {
	// URL is the progress websocket URL; see Client.ProgressURL.
	URL string
	// MaxRetries bounds consecutive reconnects after abnormal closures.
	MaxRetries int
	// RetryDelay is the fixed wait before each reconnect.
	RetryDelay time.Duration
	// IdleTimeout drops a connection that delivered neither data nor a ping.
	IdleTimeout time.Duration
	// StableAfter is how long a connection must stay up, having delivered a
	// new snapshot, before the retry budget is restored.
	StableAfter time.Duration
	Dialer      *websocket.Dialer
	Header      http.Header
	Logger      *slog.Logger
}

// Subscriber follows one job over the progress websocket. Any closure other
// than the server's normal closure after a terminal snapshot is retried with
// a fixed delay until MaxRetries consecutive attempts have failed. The
// attempt count resets only after a connection delivers a new snapshot and
// stays up for StableAfter, so a channel that keeps dropping right after each
// snapshot still runs out of retries.
type Subscriber struct {
	opts   SubscriberOptions
	cb     Callbacks
	logger *slog.Logger

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	conn     *websocket.Conn
	err      error
	done     chan struct{}
	lastSeen int64
}

// NewSubscriber constructs a Subscriber. Zero options take their defaults:
// 5 retries, 3s apart.
func NewSubscriber(opts SubscriberOptions, cb Callbacks) *Subscriber {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.StableAfter <= 0 {
		opts.StableAfter = defaultStableAfter
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		opts:   opts,
		cb:     cb,
		logger: logger.With("component", "progress_subscriber"),
		done:   make(chan struct{}),
	}
}

// Start connects in the background. It returns immediately; watch Done for
// the end of the subscription.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if s.stopped {
		cancel()
	}
	go s.run(runCtx)
	return nil
}

// Disconnect closes the channel normally, cancels a pending reconnect and
// suppresses further retries. No callback fires afterwards for a connection
// problem. Safe to call more than once.
func (s *Subscriber) Disconnect() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	conn := s.conn
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		closeNormally(conn, "client disconnect")
		_ = conn.Close()
	}
}

// Done is closed once the subscription has ended for any reason.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err reports how the subscription ended: nil after a successful job or a
// Disconnect, otherwise the error that was passed to OnError or the
// context's error.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscriber) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()

	retries := 0
	for {
		finished, lastErr := s.attempt(ctx, &retries)
		if finished {
			return
		}
		if s.isStopped() {
			return
		}
		if ctx.Err() != nil {
			s.setErr(ctx.Err())
			return
		}

		var closeErr *websocket.CloseError
		if errors.As(lastErr, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
			// The server only closes normally after a terminal snapshot. Not
			// having seen one means the result must be fetched another way.
			s.fail(&ConnectionError{Attempts: retries, Last: lastErr})
			return
		}
		if retries >= s.opts.MaxRetries {
			s.fail(&ConnectionError{Attempts: retries, Last: lastErr})
			return
		}
		retries++
		s.logger.Warn("progress channel lost, reconnecting",
			"url", s.opts.URL, "attempt", retries, "max_attempts", s.opts.MaxRetries,
			"delay", s.opts.RetryDelay, "error", lastErr)

		timer := time.NewTimer(s.opts.RetryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			if !s.isStopped() {
				s.setErr(ctx.Err())
			}
			return
		}
	}
}

// attempt runs one connection. finished reports that the subscription is
// over and callbacks, if any, have fired.
func (s *Subscriber) attempt(ctx context.Context, retries *int) (bool, error) {
	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, s.opts.Header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil && permanentStatus(resp.StatusCode) {
			apiErr := decodeAPIError(resp)
			_ = resp.Body.Close()
			s.fail(apiErr)
			return true, apiErr
		}
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return false, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		closeNormally(conn, "client disconnect")
		_ = conn.Close()
		return false, nil
	}
	s.conn = conn
	s.mu.Unlock()
	connectedAt := time.Now()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	finished, progressed, err := s.consume(conn)
	if progressed && time.Since(connectedAt) >= s.opts.StableAfter {
		*retries = 0
	}
	return finished, err
}

// consume reads snapshots until the terminal one or a read error.
func (s *Subscriber) consume(conn *websocket.Conn) (finished, progressed bool, err error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		var job model.Job
		if err := conn.ReadJSON(&job); err != nil {
			return false, progressed, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))

		// A reconnect starts with the current snapshot, which may already
		// have been delivered.
		if job.Version <= s.lastSeen {
			continue
		}
		s.lastSeen = job.Version
		progressed = true

		snap := &job
		if s.cb.OnProgress != nil {
			s.cb.OnProgress(snap)
		}
		if !snap.IsTerminal() {
			continue
		}

		closeNormally(conn, "done")
		if snap.Status.IsSuccess() {
			if s.cb.OnComplete != nil {
				s.cb.OnComplete(snap)
			}
			return true, true, nil
		}
		s.fail(jobFailed(snap))
		return true, true, nil
	}
}

func (s *Subscriber) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Subscriber) fail(err error) {
	s.setErr(err)
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

// permanentStatus reports handshake replies that retrying cannot fix.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500 &&
		code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

func closeNormally(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(controlWait))
}
