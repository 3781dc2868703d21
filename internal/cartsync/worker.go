package cartsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
)

const (
	defaultQueueSize   = 32
	defaultPushTimeout = 10 * time.Second
)

// Pusher overwrites the server cart with a full snapshot.
type Pusher interface {
	PushCart(ctx context.Context, token string, lines cart.Snapshot, seq int64) error
}

// Request is one snapshot push.
type Request struct {
	UserID string
	Token  string
	Lines  cart.Snapshot

	ticket uint64
}

// WorkerParams wires a Worker.
type WorkerParams struct {
	Pusher      Pusher
	Logger      *logger.Logger
	Metrics     *metrics.CartMetrics
	QueueSize   int
	PushTimeout time.Duration
	Now         func() time.Time
}

type flushWaiter struct {
	ticket uint64
	done   chan struct{}
}

// Worker pushes cart snapshots in the background. Queued requests are
// coalesced so only the newest snapshot is sent.
type Worker struct {
	pusher      Pusher
	logg        *logger.Logger
	metrics     *metrics.CartMetrics
	pushTimeout time.Duration
	seq         *Sequencer

	queue   chan Request
	stop    chan struct{}
	stopped chan struct{}

	// pushMu serialises pushes from the loop and PushNow.
	pushMu sync.Mutex

	mu       sync.Mutex
	issued   uint64
	attempts uint64
	waiters  []flushWaiter
	started  bool
	closed   bool
}

// NewWorker validates params; call Start to run the loop.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Pusher == nil {
		return nil, fmt.Errorf("pusher is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	size := params.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	timeout := params.PushTimeout
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	return &Worker{
		pusher:      params.Pusher,
		logg:        params.Logger,
		metrics:     params.Metrics,
		pushTimeout: timeout,
		seq:         NewSequencer(params.Now),
		queue:       make(chan Request, size),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}, nil
}

// Start launches the background loop once.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	go w.run()
}

// Enqueue schedules req without blocking. When the queue is full the oldest
// pending snapshot is dropped; it is superseded by req anyway.
func (w *Worker) Enqueue(req Request) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logg.Warn(context.Background(), "cart sync worker closed, dropping snapshot")
		return
	}
	w.issued++
	req.ticket = w.issued
	req.Lines = req.Lines.Clone()

	for {
		select {
		case w.queue <- req:
			w.mu.Unlock()
			return
		default:
		}
		select {
		case <-w.queue:
		default:
		}
	}
}

// PushNow pushes synchronously, sharing the sequence with queued pushes.
func (w *Worker) PushNow(ctx context.Context, req Request) error {
	return w.push(ctx, req)
}

// Flush blocks until every request enqueued before the call was attempted or
// superseded.
func (w *Worker) Flush(ctx context.Context) error {
	w.mu.Lock()
	if w.attempts >= w.issued {
		w.mu.Unlock()
		return nil
	}
	waiter := flushWaiter{ticket: w.issued, done: make(chan struct{})}
	w.waiters = append(w.waiters, waiter)
	w.mu.Unlock()

	select {
	case <-waiter.done:
		return nil
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the loop.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.stopped
		return nil
	}
	w.closed = true
	started := w.started
	w.mu.Unlock()

	if !started {
		w.mu.Lock()
		w.started = true
		w.mu.Unlock()
		go w.run()
	}
	close(w.stop)
	<-w.stopped
	return nil
}

func (w *Worker) run() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.queue:
			w.handle(w.latest(req))
		case <-w.stop:
			select {
			case req := <-w.queue:
				w.handle(w.latest(req))
			default:
			}
			return
		}
	}
}

// latest drains anything already queued behind req.
func (w *Worker) latest(req Request) Request {
	for {
		select {
		case next := <-w.queue:
			req = next
		default:
			return req
		}
	}
}

func (w *Worker) handle(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), w.pushTimeout)
	defer cancel()
	_ = w.push(ctx, req)
	w.markAttempted(req.ticket)
}

// push sends req once. A stale rejection that reports a stored seq at or
// above ours means another device's clock runs ahead: the sequencer jumps past
// the stored seq and the snapshot is resent once, so the latest arrival wins.
func (w *Worker) push(ctx context.Context, req Request) error {
	w.pushMu.Lock()
	defer w.pushMu.Unlock()

	if req.UserID != "" {
		ctx = w.logg.WithUserID(ctx, req.UserID)
	}
	seq := w.seq.Next()
	err := w.send(ctx, req, seq)
	if stored, ok := staleStoredSeq(err); ok && stored >= seq {
		w.seq.Observe(stored)
		retry := w.seq.Next()
		w.logg.Warn(w.logg.WithFields(ctx, map[string]any{
			"seq":        seq,
			"stored_seq": stored,
			"retry_seq":  retry,
		}), "cart seq behind server, resending snapshot")
		err = w.send(ctx, req, retry)
	}
	return err
}

func (w *Worker) send(ctx context.Context, req Request, seq int64) error {
	ctx = w.logg.WithSnapshotPush(ctx, seq, len(req.Lines))

	start := time.Now()
	err := w.pusher.PushCart(ctx, req.Token, req.Lines, seq)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		w.metrics.ObservePush(metrics.ResultSuccess, elapsed)
		w.logg.Debug(ctx, "cart snapshot pushed")
	case pkgerrors.IsCode(err, pkgerrors.CodeStaleWrite):
		w.metrics.ObservePush(metrics.ResultStale, elapsed)
		w.logg.Info(ctx, "cart snapshot discarded by server as stale")
	case pkgerrors.IsRetryable(err):
		w.metrics.ObservePush(metrics.ResultFailure, elapsed)
		w.logg.Error(ctx, "cart snapshot push failed, next change retries", err)
	default:
		w.metrics.ObservePush(metrics.ResultFailure, elapsed)
		w.logg.Error(ctx, "cart snapshot push rejected", err)
	}
	return err
}

func staleStoredSeq(err error) (int64, bool) {
	if !pkgerrors.IsCode(err, pkgerrors.CodeStaleWrite) {
		return 0, false
	}
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	if !ok {
		return 0, false
	}
	stored, ok := details["stored_seq"].(int64)
	return stored, ok
}

func (w *Worker) markAttempted(ticket uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ticket > w.attempts {
		w.attempts = ticket
	}
	remaining := w.waiters[:0]
	for _, waiter := range w.waiters {
		if waiter.ticket <= w.attempts {
			close(waiter.done)
			continue
		}
		remaining = append(remaining, waiter)
	}
	w.waiters = remaining
}
