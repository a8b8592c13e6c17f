// Package notify delivers the notifications produced by cart transitions. Delivery is
// fire-and-forget: callers never wait on a sink and never see a sink error.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/cartstate/internal/domain"
)

const (
	// DefaultBufferSize is the queue length used when none is configured.
	DefaultBufferSize = 256

	deliverTimeout = 2 * time.Second
)

// Sink shows a notification to the shopper of one session.
type Sink interface {
	Deliver(ctx context.Context, sessionID string, n domain.Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, sessionID string, n domain.Notification) error

func (f SinkFunc) Deliver(ctx context.Context, sessionID string, n domain.Notification) error {
	return f(ctx, sessionID, n)
}

type envelope struct {
	ctx          context.Context
	sessionID    string
	notification domain.Notification
}

// Dispatcher queues notifications and hands them to every sink from a single worker,
// so a session sees its notifications in the order they were raised.
type Dispatcher struct {
	logger *zap.Logger
	sinks  []Sink
	queue  chan envelope

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts the delivery worker. Close must be called to stop it.
func NewDispatcher(logger *zap.Logger, bufferSize int, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	d := &Dispatcher{
		logger: logger,
		sinks:  sinks,
		queue:  make(chan envelope, bufferSize),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// Notify enqueues notifications without blocking. When the queue is full, or the
// dispatcher is closed, they are dropped.
func (d *Dispatcher) Notify(ctx context.Context, sessionID string, notifications []domain.Notification) {
	if len(notifications) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("notification dropped: dispatcher closed", zap.String("session_id", sessionID))
		return
	}

	// delivery outlives the caller's request
	detached := context.WithoutCancel(ctx)
	for _, n := range notifications {
		select {
		case d.queue <- envelope{ctx: detached, sessionID: sessionID, notification: n}:
		default:
			d.logger.Warn("notification dropped: queue full",
				zap.String("session_id", sessionID),
				zap.Stringer("severity", n.Severity),
				zap.String("title", n.Title))
		}
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for env := range d.queue {
		d.deliver(env)
	}
}

func (d *Dispatcher) deliver(env envelope) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(env.ctx, deliverTimeout)
		err := sink.Deliver(ctx, env.sessionID, env.notification)
		cancel()
		if err != nil {
			d.logger.Error("notification delivery failed",
				zap.String("session_id", env.sessionID),
				zap.String("title", env.notification.Title),
				zap.Error(err))
		}
	}
}

// Close stops intake, delivers what is already queued and waits for the worker.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}
