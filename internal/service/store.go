package service

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/cartstate/internal/cartstate"
	"github.com/fjod/cartstate/internal/domain"
)

// Notifier receives the intents raised by a transition. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, sessionID string, notifications []domain.Notification)
}

// ChangeFunc observes every cart a Store settles on.
type ChangeFunc func(ctx context.Context, sessionID string, cart domain.Cart)

// Store owns the cart of one session. Transitions are applied one at a time and each
// caller gets the Result of its own transition.
type Store struct {
	sessionID string
	notifier  Notifier
	onChange  ChangeFunc

	mu         sync.Mutex
	cart       domain.Cart
	lastAccess time.Time
	evicted    bool
}

// NewStore seeds a Store with initial. notifier and onChange may be nil.
func NewStore(sessionID string, initial domain.Cart, notifier Notifier, onChange ChangeFunc) *Store {
	if initial.Items == nil {
		initial = domain.NewCart()
	}
	return &Store{
		sessionID: sessionID,
		notifier:  notifier,
		onChange:  onChange,
		cart:       initial.Clone(),
		lastAccess: time.Now(),
	}
}

func (s *Store) SessionID() string {
	return s.sessionID
}

func (s *Store) Add(ctx context.Context, item domain.LineItem) cartstate.Result {
	return s.Dispatch(ctx, domain.AddProduct{Item: item})
}

func (s *Store) Increase(ctx context.Context, key domain.ItemKey) cartstate.Result {
	return s.Dispatch(ctx, domain.IncreaseQuantity{Key: key})
}

func (s *Store) Decrease(ctx context.Context, key domain.ItemKey) cartstate.Result {
	return s.Dispatch(ctx, domain.DecreaseQuantity{Key: key})
}

func (s *Store) Remove(ctx context.Context, key domain.ItemKey) cartstate.Result {
	return s.Dispatch(ctx, domain.RemoveProduct{Key: key})
}

func (s *Store) Clear(ctx context.Context) cartstate.Result {
	return s.Dispatch(ctx, domain.ClearCart{})
}

// Dispatch applies action, forwards its intents and reports the new cart to the
// change hook before releasing the session, so observers see carts in order.
func (s *Store) Dispatch(ctx context.Context, action domain.Action) cartstate.Result {
	result, _ := s.dispatch(ctx, action)
	return result
}

// dispatch reports false, without applying action, once the Store has been evicted.
func (s *Store) dispatch(ctx context.Context, action domain.Action) (cartstate.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evicted {
		return cartstate.Result{}, false
	}
	s.lastAccess = time.Now()

	result := cartstate.Reduce(s.cart, action)
	s.cart = result.Cart

	if s.notifier != nil && len(result.Notifications) > 0 {
		s.notifier.Notify(ctx, s.sessionID, result.Notifications)
	}
	if s.onChange != nil {
		s.onChange(ctx, s.sessionID, result.Cart.Clone())
	}

	result.Cart = result.Cart.Clone()
	return result, true
}

// Snapshot returns a copy of the current cart.
func (s *Store) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = time.Now()
	return s.cart.Clone()
}

// evictIfIdle retires the Store when it has not been used since cutoff. A retired
// Store refuses further transitions; its last cart is already persisted.
func (s *Store) evictIfIdle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAccess.After(cutoff) {
		return false
	}
	s.evicted = true
	return true
}
