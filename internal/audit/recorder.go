package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flextraff/atcs-core/internal/auth"
)

// DefaultBufferSize is the capacity of the Recorder queue. Events beyond it
// are dropped so a slow disk never stalls a login.
const DefaultBufferSize = 256

// Recorder is an auth.AuditSink that writes events to a Repository from a
// single background goroutine. Recording never blocks and never fails the
// caller: a full queue drops the event and write errors are logged.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	ch     chan *AuditLog
	done   chan struct{}

	dropped atomic.Uint64
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBufferSize overrides DefaultBufferSize.
func WithBufferSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.ch = make(chan *AuditLog, n)
		}
	}
}

// WithClock sets the clock used to stamp events as they are recorded.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder starts a Recorder writing to repo. Call Close to flush.
func NewRecorder(repo Repository, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		ch:     make(chan *AuditLog, DefaultBufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.drain()
	return r
}

// Record implements auth.AuditSink. The event is stamped now, so queue delay
// does not reorder the trail.
func (r *Recorder) Record(_ context.Context, event auth.AuditEvent) {
	entry := &AuditLog{
		UserID:     event.ActorID,
		JunctionID: event.JunctionID,
		Action:     event.Action,
		Resource:   event.Resource,
		Details:    event.Details,
		IPAddress:  event.IPAddress,
		CreatedAt:  r.now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.ch <- entry:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit queue full, dropping entry",
			"action", event.Action,
			"resource", event.Resource,
		)
	}
}

// Dropped reports how many events were discarded because the queue was full
// or the recorder was closed.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting events and waits until the queue is written out.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	<-r.done
}

// drain writes entries serially, which suits SQLite's single-writer model.
func (r *Recorder) drain() {
	defer close(r.done)
	for entry := range r.ch {
		if err := r.repo.Create(context.Background(), entry); err != nil {
			r.logger.Error("audit log write failed",
				"action", entry.Action,
				"error", err,
			)
		}
	}
}

var _ auth.AuditSink = (*Recorder)(nil)
