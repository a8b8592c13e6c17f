package cache

import (
	"context"
	"errors"

	"github.com/fjod/cartstate/internal/domain"
)

// SnapshotCache holds the latest cart of each session in front of the repository.
type SnapshotCache interface {
	Get(ctx context.Context, sessionID string) (*domain.Cart, error)
	Set(ctx context.Context, sessionID string, cart *domain.Cart) error
	Delete(ctx context.Context, sessionID string) error
}

var ErrCacheMiss = errors.New("cache miss")
