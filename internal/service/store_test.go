package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/cartstate/internal/domain"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls map[string][]domain.Notification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{calls: make(map[string][]domain.Notification)}
}

func (r *recordingNotifier) Notify(_ context.Context, sessionID string, notifications []domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[sessionID] = append(r.calls[sessionID], notifications...)
}

func (r *recordingNotifier) For(sessionID string) []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.calls[sessionID]...)
}

func item(id int64, name, size, price string, quantity int) domain.LineItem {
	return domain.LineItem{ID: id, Name: name, Size: size, Price: decimal.RequireFromString(price), Quantity: quantity}
}

func TestStore_WorkedExample(t *testing.T) {
	notifier := newRecordingNotifier()
	store := NewStore("s1", domain.NewCart(), notifier, nil)
	ctx := context.Background()
	key := domain.ItemKey{ID: 1, Size: "M"}

	res := store.Add(ctx, item(1, "Tee", "M", "10", 2))
	assert.True(t, res.Cart.TotalPrice.Equal(decimal.NewFromInt(20)))

	res = store.Add(ctx, item(1, "Tee", "M", "10", 1))
	assert.Equal(t, 3, res.Cart.Items[0].Quantity)
	assert.True(t, res.Cart.TotalPrice.Equal(decimal.NewFromInt(30)))

	store.Decrease(ctx, key)
	store.Decrease(ctx, key)
	res = store.Decrease(ctx, key)
	assert.Empty(t, res.Cart.Items)
	assert.True(t, res.Cart.TotalPrice.IsZero())

	assert.Equal(t, []domain.Notification{
		domain.ProductAdded("Tee"),
		domain.CartUpdated("Tee"),
	}, notifier.For("s1"))
}

func TestStore_ChangeHookSeesEveryCart(t *testing.T) {
	var seen []domain.Cart
	hook := func(_ context.Context, sessionID string, cart domain.Cart) {
		assert.Equal(t, "s1", sessionID)
		seen = append(seen, cart)
	}
	store := NewStore("s1", domain.NewCart(), nil, hook)
	ctx := context.Background()

	store.Add(ctx, item(1, "Tee", "", "5", 1))
	store.Increase(ctx, domain.ItemKey{ID: 1})
	store.Remove(ctx, domain.ItemKey{ID: 1})
	store.Clear(ctx)

	require.Len(t, seen, 4)
	assert.Equal(t, 1, seen[0].Items[0].Quantity)
	assert.Equal(t, 2, seen[1].Items[0].Quantity)
	assert.Empty(t, seen[2].Items)
	assert.Empty(t, seen[3].Items)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	store := NewStore("s1", domain.NewCart(), nil, nil)
	res := store.Add(context.Background(), item(1, "Tee", "", "5", 1))

	res.Cart.Items[0].Quantity = 99
	snap := store.Snapshot()
	snap.Items[0].Quantity = 42

	assert.Equal(t, 1, store.Snapshot().Items[0].Quantity)
}

func TestStore_SeededCart(t *testing.T) {
	initial := domain.NewCart()
	initial.Items = append(initial.Items, item(3, "Hat", "", "12.5", 1).WithQuantity(2))
	initial.TotalPrice = domain.Total(initial.Items)

	store := NewStore("s1", initial, nil, nil)
	initial.Items[0] = initial.Items[0].WithQuantity(7)

	snap := store.Snapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 2, snap.Items[0].Quantity)
	assert.True(t, snap.TotalPrice.Equal(decimal.NewFromInt(25)))
}

func TestStore_ZeroValueCartStartsEmpty(t *testing.T) {
	store := NewStore("s1", domain.Cart{}, nil, nil)
	snap := store.Snapshot()
	assert.NotNil(t, snap.Items)
	assert.True(t, snap.TotalPrice.IsZero())
}

func TestStore_ConcurrentIncreases(t *testing.T) {
	store := NewStore("s1", domain.NewCart(), nil, nil)
	ctx := context.Background()
	store.Add(ctx, item(1, "Tee", "S", "2", 1))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Increase(ctx, domain.ItemKey{ID: 1, Size: "S"})
		}()
	}
	wg.Wait()

	snap := store.Snapshot()
	assert.Equal(t, 51, snap.Items[0].Quantity)
	assert.True(t, snap.TotalPrice.Equal(decimal.NewFromInt(102)))
}
