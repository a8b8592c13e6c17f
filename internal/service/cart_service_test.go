package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fjod/cartstate/internal/cache"
	"github.com/fjod/cartstate/internal/domain"
	"github.com/fjod/cartstate/internal/repository"
)

type countingRepository struct {
	*repository.MemoryRepository
	gets  atomic.Int32
	err   error
	delay time.Duration
}

func (r *countingRepository) GetCart(ctx context.Context, sessionID string) (*domain.Cart, error) {
	r.gets.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.MemoryRepository.GetCart(ctx, sessionID)
}

func newTestService(t *testing.T) (*CartService, *countingRepository, *recordingNotifier) {
	t.Helper()
	repo := &countingRepository{MemoryRepository: repository.NewMemoryRepository()}
	notifier := newRecordingNotifier()
	svc := NewCartService(repo, nil, notifier, zap.NewNop())
	t.Cleanup(func() { _ = svc.Close() })
	return svc, repo, notifier
}

func TestSession_EmptyID(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Session(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptySessionID)
}

func TestSession_NewSessionStartsEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)

	cart, err := svc.Snapshot(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.True(t, cart.TotalPrice.IsZero())
}

func TestSession_SameStoreReturned(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Session(ctx, "s1")
	require.NoError(t, err)
	b, err := svc.Session(ctx, "s1")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, int32(1), repo.gets.Load())
}

func TestSession_ConcurrentLoadsAreDeduplicated(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	stores := make([]*Store, 20)
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store, err := svc.Session(context.Background(), "busy")
			assert.NoError(t, err)
			stores[i] = store
		}(i)
	}
	wg.Wait()

	for _, s := range stores {
		assert.Same(t, stores[0], s)
	}
	assert.Equal(t, int32(1), repo.gets.Load())
}

func TestSession_RepositoryError(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.err = errors.New("connection refused")

	_, err := svc.Session(context.Background(), "s1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "load cart s1")

	// a failed load is not remembered
	repo.err = nil
	_, err = svc.Session(context.Background(), "s1")
	assert.NoError(t, err)
}

func TestSession_LoadsPersistedCart(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	saved := domain.NewCart()
	saved.Items = append(saved.Items, item(5, "Belt", "", "15", 1).WithQuantity(2))
	saved.TotalPrice = domain.Total(saved.Items)
	require.NoError(t, repo.SaveCart(ctx, "s1", &saved))

	cart, err := svc.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.True(t, cart.TotalPrice.Equal(decimal.NewFromInt(30)))
}

func TestMutations_PersistAndNotify(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	ctx := context.Background()

	res, err := svc.Add(ctx, "s1", item(1, "Tee", "M", "10", 2))
	require.NoError(t, err)
	assert.False(t, res.Matched)

	stored, err := repo.MemoryRepository.GetCart(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, stored.TotalPrice.Equal(decimal.NewFromInt(20)))

	res, err = svc.Increase(ctx, "s1", domain.ItemKey{ID: 1, Size: "M"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, 3, res.Cart.Items[0].Quantity)

	res, err = svc.Decrease(ctx, "s1", domain.ItemKey{ID: 9, Size: "M"})
	require.NoError(t, err)
	assert.False(t, res.Matched)

	_, err = svc.Remove(ctx, "s1", domain.ItemKey{ID: 1, Size: "M"})
	require.NoError(t, err)

	// an emptied cart is removed from the repository
	_, err = repo.MemoryRepository.GetCart(ctx, "s1")
	assert.ErrorIs(t, err, repository.ErrCartNotFound)

	_, err = svc.Clear(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, []domain.Notification{
		domain.ProductAdded("Tee"),
		domain.ProductRemoved(),
		domain.CartCleared(),
	}, notifier.For("s1"))
}

func TestDispatch_GenericAction(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	action, err := domain.DecodeAction([]byte(`{"type":"cart/addProduct","payload":{"id":4,"name":"Scarf","price":8,"quantity":1,"size":""}}`))
	require.NoError(t, err)

	res, err := svc.Dispatch(ctx, "s1", action)
	require.NoError(t, err)
	require.Len(t, res.Cart.Items, 1)
	assert.Equal(t, "Scarf", res.Cart.Items[0].Name)
}

func TestSessions_AreIsolated(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, "a", item(1, "Tee", "", "10", 1))
	require.NoError(t, err)

	cart, err := svc.Snapshot(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestClose_ReloadsFromRepository(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, "s1", item(1, "Tee", "", "10", 2))
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	cart, err := svc.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int32(2), repo.gets.Load())
}

func TestCache_HitSkipsRepositoryAndMutationWritesThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	snapshots := cache.NewRedisCache(client, 0)

	repo := &countingRepository{MemoryRepository: repository.NewMemoryRepository()}
	svc := NewCartService(repo, snapshots, nil, zap.NewNop())
	t.Cleanup(func() { _ = svc.Close() })
	ctx := context.Background()

	cached := domain.NewCart()
	cached.Items = append(cached.Items, item(2, "Cap", "", "7", 1).WithQuantity(1))
	cached.TotalPrice = domain.Total(cached.Items)
	require.NoError(t, snapshots.Set(ctx, "s1", &cached))

	cart, err := svc.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int32(0), repo.gets.Load())

	_, err = svc.Increase(ctx, "s1", domain.ItemKey{ID: 2})
	require.NoError(t, err)

	got, err := snapshots.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Items[0].Quantity)

	_, err = svc.Clear(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, mr.Exists("cart:s1"))
}

func TestCache_LoadDoesNotWriteCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &countingRepository{MemoryRepository: repository.NewMemoryRepository()}
	ctx := context.Background()
	saved := domain.NewCart()
	saved.Items = append(saved.Items, item(2, "Cap", "", "7", 1).WithQuantity(3))
	saved.TotalPrice = domain.Total(saved.Items)
	require.NoError(t, repo.SaveCart(ctx, "s1", &saved))

	svc := NewCartService(repo, cache.NewRedisCache(client, 0), nil, zap.NewNop())
	t.Cleanup(func() { _ = svc.Close() })
	_, err := svc.Session(ctx, "s1")
	require.NoError(t, err)

	assert.False(t, mr.Exists("cart:s1"))
}

// slowCache delays every Set, the way a congested Redis would.
type slowCache struct {
	cache.SnapshotCache
	delay time.Duration
}

func (c slowCache) Set(ctx context.Context, sessionID string, cart *domain.Cart) error {
	time.Sleep(c.delay)
	return c.SnapshotCache.Set(ctx, sessionID, cart)
}

func TestCache_SlowWriteNeverRestoresOlderCart(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	snapshots := slowCache{SnapshotCache: cache.NewRedisCache(client, 0), delay: 50 * time.Millisecond}

	repo := &countingRepository{MemoryRepository: repository.NewMemoryRepository()}
	ctx := context.Background()
	saved := domain.NewCart()
	saved.Items = append(saved.Items, item(1, "Tee", "", "10", 1).WithQuantity(1))
	saved.TotalPrice = domain.Total(saved.Items)
	require.NoError(t, repo.SaveCart(ctx, "s1", &saved))

	svc := NewCartService(repo, snapshots, nil, zap.NewNop())
	t.Cleanup(func() { _ = svc.Close() })

	_, err := svc.Increase(ctx, "s1", domain.ItemKey{ID: 1})
	require.NoError(t, err)
	time.Sleep(120 * time.Millisecond)
	require.NoError(t, svc.Close())

	stored, err := repo.MemoryRepository.GetCart(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Items[0].Quantity)

	cart, err := svc.Snapshot(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.True(t, cart.TotalPrice.Equal(decimal.NewFromInt(20)))
}

func TestSnapshot_DoesNotRegisterSessions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 10000; i++ {
		_, err := svc.Snapshot(ctx, fmt.Sprintf("s%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, svc.SessionCount())

	_, err := svc.Add(ctx, "s1", item(1, "Tee", "", "10", 1))
	require.NoError(t, err)
	assert.Equal(t, 1, svc.SessionCount())
}

func TestEvictIdle(t *testing.T) {
	repo := &countingRepository{MemoryRepository: repository.NewMemoryRepository()}
	svc := NewCartService(repo, nil, nil, zap.NewNop(), WithIdleTTL(time.Minute))
	t.Cleanup(func() { _ = svc.Close() })
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := svc.Add(ctx, fmt.Sprintf("s%d", i), item(1, "Tee", "", "10", 1))
		require.NoError(t, err)
	}
	require.Equal(t, 100, svc.SessionCount())

	assert.Equal(t, 0, svc.EvictIdle(time.Now()))
	assert.Equal(t, 100, svc.EvictIdle(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, svc.SessionCount())

	// evicted carts come back from the repository
	cart, err := svc.Snapshot(ctx, "s7")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)

	res, err := svc.Increase(ctx, "s7", domain.ItemKey{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Cart.Items[0].Quantity)
}

func TestEvictIdle_KeepsRecentlyUsed(t *testing.T) {
	svc := NewCartService(repository.NewMemoryRepository(), nil, nil, zap.NewNop(), WithIdleTTL(time.Minute))
	t.Cleanup(func() { _ = svc.Close() })
	ctx := context.Background()

	_, err := svc.Add(ctx, "old", item(1, "Tee", "", "10", 1))
	require.NoError(t, err)
	cutoff := time.Now().Add(time.Minute)
	time.Sleep(5 * time.Millisecond)
	_, err = svc.Add(ctx, "new", item(1, "Tee", "", "10", 1))
	require.NoError(t, err)

	assert.Equal(t, 1, svc.EvictIdle(cutoff.Add(time.Millisecond)))
	_, stillThere := svc.lookup("new")
	assert.True(t, stillThere)
}

func TestEvictedStoreRefusesTransitions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	store, err := svc.Session(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, svc.EvictIdle(time.Now().Add(DefaultIdleTTL+time.Second)))

	_, ok := store.dispatch(ctx, domain.ClearCart{})
	assert.False(t, ok)

	// the service reloads the session instead of writing to the retired Store
	res, err := svc.Add(ctx, "s1", item(1, "Tee", "", "10", 1))
	require.NoError(t, err)
	assert.Len(t, res.Cart.Items, 1)
	assert.Equal(t, 1, svc.SessionCount())
}

func TestIdleSweeperRuns(t *testing.T) {
	svc := NewCartService(repository.NewMemoryRepository(), nil, nil, zap.NewNop(), WithIdleTTL(10*time.Millisecond))
	t.Cleanup(func() { _ = svc.Close() })

	_, err := svc.Add(context.Background(), "s1", item(1, "Tee", "", "10", 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return svc.SessionCount() == 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestCache_FailureFallsBackToRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	repo := &countingRepository{MemoryRepository: repository.NewMemoryRepository()}
	svc := NewCartService(repo, cache.NewRedisCache(client, 0), nil, zap.NewNop())
	t.Cleanup(func() { _ = svc.Close() })

	res, err := svc.Add(context.Background(), "s1", item(1, "Tee", "", "3", 1))
	require.NoError(t, err)
	assert.Len(t, res.Cart.Items, 1)
	assert.Equal(t, int32(1), repo.gets.Load())
}
