package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/cartstate/internal/cache"
	"github.com/fjod/cartstate/internal/cartstate"
	"github.com/fjod/cartstate/internal/domain"
	"github.com/fjod/cartstate/internal/repository"
)

const (
	persistTimeout = 2 * time.Second

	// DefaultIdleTTL is how long a session stays in memory without being used.
	DefaultIdleTTL = 30 * time.Minute
)

var ErrEmptySessionID = errors.New("session id is required")

// Option configures a CartService.
type Option func(*CartService)

// WithIdleTTL sets how long an unused session is kept in memory. A non-positive ttl
// disables eviction.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *CartService) {
		s.idleTTL = ttl
	}
}

// CartService keeps one Store per active session. A session is loaded on its first
// mutation from the cache, then the repository, and starts empty when neither has it.
// Sessions unused for the idle TTL are dropped from memory; the repository and cache
// hold their last cart.
type CartService struct {
	repo     repository.CartRepository
	cache    cache.SnapshotCache
	notifier Notifier
	logger   *zap.Logger
	sfg      singleflight.Group // one load per session at a time
	idleTTL  time.Duration

	mu       sync.Mutex
	sessions map[string]*Store

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCartService builds the service and starts the idle-session sweeper. snapshots
// may be nil when no cache is configured. Close stops the sweeper.
func NewCartService(repo repository.CartRepository, snapshots cache.SnapshotCache, notifier Notifier, logger *zap.Logger, opts ...Option) *CartService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CartService{
		repo:     repo,
		cache:    snapshots,
		notifier: notifier,
		logger:   logger,
		idleTTL:  DefaultIdleTTL,
		sessions: make(map[string]*Store),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.idleTTL > 0 {
		s.wg.Add(1)
		go s.evictLoop(sweepInterval(s.idleTTL))
	}
	return s
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Session returns the Store for sessionID, loading and registering it on first use.
func (s *CartService) Session(ctx context.Context, sessionID string) (*Store, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if store, ok := s.lookup(sessionID); ok {
		return store, nil
	}

	v, err, _ := s.sfg.Do(sessionID, func() (interface{}, error) {
		if store, ok := s.lookup(sessionID); ok {
			return store, nil
		}

		cart, err := s.load(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		store := NewStore(sessionID, *cart, s.notifier, s.persist)
		s.mu.Lock()
		s.sessions[sessionID] = store
		s.mu.Unlock()
		return store, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Store), nil
}

func (s *CartService) lookup(sessionID string) (*Store, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, ok := s.sessions[sessionID]
	return store, ok
}

// SessionCount is the number of sessions held in memory.
func (s *CartService) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// load reads the last persisted cart. It never writes the cache: only persist does,
// under the session's lock, so a cached cart is never older than a committed one.
func (s *CartService) load(ctx context.Context, sessionID string) (*domain.Cart, error) {
	if s.cache != nil {
		cart, err := s.cache.Get(ctx, sessionID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	cart, err := s.repo.GetCart(ctx, sessionID)
	if errors.Is(err, repository.ErrCartNotFound) {
		empty := domain.NewCart()
		return &empty, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart %s: %w", sessionID, err)
	}
	return cart, nil
}

// persist writes the settled cart through to the repository and the cache. Failures
// are logged; the in-memory cart stays authoritative.
func (s *CartService) persist(ctx context.Context, sessionID string, cart domain.Cart) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	var err error
	if cart.Len() == 0 {
		err = s.repo.DeleteCart(ctx, sessionID)
		if errors.Is(err, repository.ErrCartNotFound) {
			err = nil
		}
	} else {
		err = s.repo.SaveCart(ctx, sessionID, &cart)
	}
	if err != nil {
		s.logger.Error("persist cart failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	s.updateCache(ctx, sessionID, cart)
}

func (s *CartService) updateCache(ctx context.Context, sessionID string, cart domain.Cart) {
	if s.cache == nil {
		return
	}
	if cart.Len() > 0 {
		err := s.cache.Set(ctx, sessionID, &cart)
		if err == nil {
			return
		}
		s.logger.Warn("cache set failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Snapshot returns the session's cart. A session that is not in memory is read from
// the cache or repository without being registered.
func (s *CartService) Snapshot(ctx context.Context, sessionID string) (domain.Cart, error) {
	if sessionID == "" {
		return domain.Cart{}, ErrEmptySessionID
	}
	if store, ok := s.lookup(sessionID); ok {
		return store.Snapshot(), nil
	}

	v, err, _ := s.sfg.Do("snapshot:"+sessionID, func() (interface{}, error) {
		return s.load(ctx, sessionID)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return v.(*domain.Cart).Clone(), nil
}

// Dispatch applies action to the session's cart.
func (s *CartService) Dispatch(ctx context.Context, sessionID string, action domain.Action) (cartstate.Result, error) {
	for {
		store, err := s.Session(ctx, sessionID)
		if err != nil {
			return cartstate.Result{}, err
		}

		result, ok := store.dispatch(ctx, action)
		if !ok {
			// evicted between lookup and apply; the next Session call reloads it
			continue
		}
		if !result.Matched && action != nil && action.Type() != domain.ActionAddProduct {
			s.logger.Debug("action matched no line",
				zap.String("session_id", sessionID),
				zap.String("action", string(action.Type())))
		}
		return result, nil
	}
}

func (s *CartService) Add(ctx context.Context, sessionID string, item domain.LineItem) (cartstate.Result, error) {
	return s.Dispatch(ctx, sessionID, domain.AddProduct{Item: item})
}

func (s *CartService) Increase(ctx context.Context, sessionID string, key domain.ItemKey) (cartstate.Result, error) {
	return s.Dispatch(ctx, sessionID, domain.IncreaseQuantity{Key: key})
}

func (s *CartService) Decrease(ctx context.Context, sessionID string, key domain.ItemKey) (cartstate.Result, error) {
	return s.Dispatch(ctx, sessionID, domain.DecreaseQuantity{Key: key})
}

func (s *CartService) Remove(ctx context.Context, sessionID string, key domain.ItemKey) (cartstate.Result, error) {
	return s.Dispatch(ctx, sessionID, domain.RemoveProduct{Key: key})
}

func (s *CartService) Clear(ctx context.Context, sessionID string) (cartstate.Result, error) {
	return s.Dispatch(ctx, sessionID, domain.ClearCart{})
}

// ClearSession empties a session's cart on behalf of a background consumer.
func (s *CartService) ClearSession(ctx context.Context, sessionID string) error {
	_, err := s.Clear(ctx, sessionID)
	return err
}

// EvictIdle drops every session not used since now minus the idle TTL and returns
// how many were dropped.
func (s *CartService) EvictIdle(now time.Time) int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, store := range s.sessions {
		if store.evictIfIdle(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (s *CartService) evictLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			if n := s.EvictIdle(now); n > 0 {
				s.logger.Debug("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

// Close stops the sweeper and forgets every loaded session. Persisted snapshots are
// kept, and the service reloads sessions from them if it is used again.
func (s *CartService) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, store := range s.sessions {
		store.evictIfIdle(time.Now())
	}
	s.sessions = make(map[string]*Store)
	return nil
}
