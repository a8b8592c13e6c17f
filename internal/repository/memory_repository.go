package repository

import (
	"context"
	"sync"

	"github.com/fjod/cartstate/internal/domain"
)

// MemoryRepository keeps snapshots in process. It backs the service when no
// MongoDB is configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		carts: make(map[string]domain.Cart),
	}
}

func (r *MemoryRepository) GetCart(_ context.Context, sessionID string) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[sessionID]
	if !ok {
		return nil, ErrCartNotFound
	}
	clone := cart.Clone()
	return &clone, nil
}

func (r *MemoryRepository) SaveCart(_ context.Context, sessionID string, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.carts[sessionID] = cart.Clone()
	return nil
}

func (r *MemoryRepository) DeleteCart(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.carts[sessionID]; !ok {
		return ErrCartNotFound
	}
	delete(r.carts, sessionID)
	return nil
}
