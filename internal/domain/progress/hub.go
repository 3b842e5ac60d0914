// Package progress fans Job Record snapshots out to the observers of each job.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Johnshah/My/internal/domain/model"
)

// Source feeds snapshots published by other processes into the hub. Listen
// blocks, calling deliver for each snapshot of jobID, until ctx ends or the
// underlying stream fails.
type Source interface {
	Listen(ctx context.Context, jobID string, deliver func(*model.Job)) error
}

// HubOptions configure a Hub.
type HubOptions struct {
	// Source is optional. When set, the hub runs one listener per job that has
	// at least one subscriber.
	Source  Source
	Backoff time.Duration
	Logger  *slog.Logger
}

// Hub is a registry of subscriptions keyed by job id. Each subscription owns
// a one-slot mailbox holding the newest undelivered snapshot, so publishing
// never waits on a slow reader: an unread snapshot is replaced by the newer one.
type Hub struct {
	source  Source
	backoff time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	subs      map[string]map[chan *model.Job]struct{}
	listeners map[string]context.CancelFunc
}

// NewHub constructs a Hub.
func NewHub(opts HubOptions) *Hub {
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		source:    opts.Source,
		backoff:   backoff,
		logger:    logger.With("component", "progress_hub"),
		subs:      make(map[string]map[chan *model.Job]struct{}),
		listeners: make(map[string]context.CancelFunc),
	}
}

// Subscribe registers an observer of jobID. The channel is closed right after
// a terminal snapshot is placed in it, when unsub is called, or on StopAll.
// unsub is idempotent.
func (h *Hub) Subscribe(jobID string) (func(), <-chan *model.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.source != nil {
		if _, ok := h.listeners[jobID]; !ok {
			ctx, cancel := context.WithCancel(context.Background())
			h.listeners[jobID] = cancel
			go h.listenLoop(ctx, jobID)
		}
	}

	ch := make(chan *model.Job, 1)
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan *model.Job]struct{})
	}
	h.subs[jobID][ch] = struct{}{}

	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subscribers := h.subs[jobID]
		if _, ok := subscribers[ch]; !ok {
			return
		}
		delete(subscribers, ch)
		drainAndClose(ch)
		if len(subscribers) == 0 {
			h.removeJob(jobID)
		}
	}

	return unsub, ch
}

// Publish delivers job to every current subscriber of job.ID. A terminal
// snapshot closes those subscriptions after it is placed in their mailbox.
// It never blocks on readers and always returns nil.
func (h *Hub) Publish(_ context.Context, job *model.Job) error {
	h.deliver(job)
	return nil
}

func (h *Hub) deliver(job *model.Job) {
	if job == nil || job.ID == "" {
		return
	}
	snapshot := job.Clone()

	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers := h.subs[snapshot.ID]
	for ch := range subscribers {
		offer(ch, snapshot)
	}
	if snapshot.IsTerminal() && len(subscribers) > 0 {
		for ch := range subscribers {
			close(ch)
		}
		h.logger.Debug("closed subscriptions after terminal snapshot",
			"job_id", snapshot.ID, "status", snapshot.Status, "subscribers", len(subscribers))
		h.removeJob(snapshot.ID)
	}
}

// Count returns the number of live subscriptions for jobID.
func (h *Hub) Count(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// StopAll cancels listeners and closes every subscription.
func (h *Hub) StopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for jobID, cancel := range h.listeners {
		cancel()
		delete(h.listeners, jobID)
	}
	for jobID, subscribers := range h.subs {
		for ch := range subscribers {
			drainAndClose(ch)
		}
		delete(h.subs, jobID)
	}
}

// removeJob drops the job's registry entry and stops its listener. Callers hold h.mu.
func (h *Hub) removeJob(jobID string) {
	delete(h.subs, jobID)
	if cancel, ok := h.listeners[jobID]; ok {
		cancel()
		delete(h.listeners, jobID)
	}
}

func (h *Hub) listenLoop(ctx context.Context, jobID string) {
	for ctx.Err() == nil {
		err := h.source.Listen(ctx, jobID, h.deliver)
		if err == nil || ctx.Err() != nil {
			continue
		}
		h.logger.Warn("progress listener failed", "job_id", jobID, "error", err)

		timer := time.NewTimer(h.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// offer places job in a one-slot mailbox, evicting an unread older snapshot.
// Only the hub sends on mailboxes and it does so under h.mu, so the second
// send cannot block.
func offer(ch chan *model.Job, job *model.Job) {
	select {
	case ch <- job:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- job
}

// drainAndClose discards any unread snapshot before closing so receivers
// observe the closed channel immediately.
func drainAndClose(ch chan *model.Job) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}
