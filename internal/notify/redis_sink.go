package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/fjod/cartstate/internal/domain"
)

const (
	breakerFailures = 5
	breakerTimeout  = 30 * time.Second
)

// Message is the payload published for the storefront to render as a toast.
type Message struct {
	SessionID string          `json:"session_id"`
	Severity  domain.Severity `json:"severity"`
	Title     string          `json:"title"`
}

// RedisSink publishes notifications on a per-session pub/sub channel. Publishing goes
// through a circuit breaker so an unavailable Redis costs nothing once it has tripped.
type RedisSink struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker[int64]
}

func NewRedisSink(client *redis.Client, logger *zap.Logger) *RedisSink {
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:        "notify-redis",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	return &RedisSink{client: client, breaker: breaker}
}

func (s *RedisSink) Deliver(ctx context.Context, sessionID string, n domain.Notification) error {
	payload, err := json.Marshal(Message{SessionID: sessionID, Severity: n.Severity, Title: n.Title})
	if err != nil {
		return fmt.Errorf("marshal notification failed: %w", err)
	}

	_, err = s.breaker.Execute(func() (int64, error) {
		return s.client.Publish(ctx, Channel(sessionID), payload).Result()
	})
	if err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Channel is the pub/sub channel carrying a session's notifications.
func Channel(sessionID string) string {
	return fmt.Sprintf("cart:notifications:%s", sessionID)
}
