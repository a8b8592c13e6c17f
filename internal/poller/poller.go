// Package poller clears carts once their checkout has completed.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	Topic   = "checkout-completed"
	GroupID = "cart-state"

	defaultRetryDelay = time.Second
)

// MessageReader is the part of *kafka.Reader the poller uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// CartClearer empties the cart of a session.
type CartClearer interface {
	ClearSession(ctx context.Context, sessionID string) error
}

type checkoutCompleted struct {
	SessionID string `json:"session_id"`
}

type Poller struct {
	reader     MessageReader
	carts      CartClearer
	logger     *zap.Logger
	retryDelay time.Duration
}

func NewPoller(carts CartClearer, logger *zap.Logger, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    Topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return NewPollerWithReader(reader, carts, logger)
}

func NewPollerWithReader(reader MessageReader, carts CartClearer, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{reader: reader, carts: carts, logger: logger, retryDelay: defaultRetryDelay}
}

// Run consumes checkout events until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.handleNext(ctx)
	}
}

// Start runs the poller in the background. The returned stop cancels it, waits for
// the message in flight to be handled and closes the reader; it is safe to call twice.
func (p *Poller) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			p.Close()
		})
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Warn("error closing reader", zap.Error(err))
	}
}

func (p *Poller) handleNext(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			p.logger.Error("error reading message", zap.Error(err))
			p.wait(ctx)
		}
		return
	}

	var event checkoutCompleted
	if err := json.Unmarshal(m.Value, &event); err != nil {
		p.logger.Warn("skipping malformed checkout event",
			zap.Int64("offset", m.Offset),
			zap.Error(err))
		return
	}
	if event.SessionID == "" {
		p.logger.Warn("skipping checkout event without session_id", zap.Int64("offset", m.Offset))
		return
	}

	if err := p.carts.ClearSession(ctx, event.SessionID); err != nil {
		p.logger.Error("failed to clear cart after checkout",
			zap.String("session_id", event.SessionID),
			zap.Error(err))
		return
	}
	p.logger.Info("cart cleared after checkout", zap.String("session_id", event.SessionID))
}

func (p *Poller) wait(ctx context.Context) {
	t := time.NewTimer(p.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
