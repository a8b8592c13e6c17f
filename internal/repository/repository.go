package repository

import (
	"context"
	"errors"

	"github.com/fjod/cartstate/internal/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// CartRepository stores the last snapshot of each session's cart.
type CartRepository interface {
	GetCart(ctx context.Context, sessionID string) (*domain.Cart, error)
	SaveCart(ctx context.Context, sessionID string, cart *domain.Cart) error
	DeleteCart(ctx context.Context, sessionID string) error
}
