package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fjod/cartstate/internal/domain"
)

// LogSink writes every notification to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, sessionID string, n domain.Notification) error {
	s.logger.Info("cart notification",
		zap.String("session_id", sessionID),
		zap.Stringer("severity", n.Severity),
		zap.String("title", n.Title))
	return nil
}

// Delivered is one notification seen by a Recorder.
type Delivered struct {
	SessionID    string
	Notification domain.Notification
}

// Recorder keeps delivered notifications in memory.
type Recorder struct {
	mu        sync.Mutex
	delivered []Delivered
}

func (r *Recorder) Deliver(_ context.Context, sessionID string, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, Delivered{SessionID: sessionID, Notification: n})
	return nil
}

func (r *Recorder) All() []Delivered {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivered, len(r.delivered))
	copy(out, r.delivered)
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered)
}
