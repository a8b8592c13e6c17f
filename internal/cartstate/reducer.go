// Package cartstate holds the cart transitions. Every transition is pure: it takes the
// current cart and a payload and returns the next cart together with the notifications
// the shopper should see. Nothing here performs I/O.
package cartstate

import (
	"github.com/fjod/cartstate/internal/domain"
)

// Result is the outcome of one transition.
type Result struct {
	Cart          domain.Cart
	Notifications []domain.Notification
	// Matched is false when the payload referenced a line that is not in the cart.
	// For Add it reports whether an existing line was updated.
	Matched bool
}

// Add inserts item, or grows the quantity of the line with the same (id, size).
// A non-positive quantity counts as 1.
func Add(cart domain.Cart, item domain.LineItem) Result {
	next := cart.Clone()
	quantity := item.Quantity
	if quantity < 1 {
		quantity = 1
	}

	var note domain.Notification
	idx, found := next.Find(item.Key())
	if found {
		existing := next.Items[idx]
		next.Items[idx] = existing.WithQuantity(existing.Quantity + quantity)
		note = domain.CartUpdated(item.Name)
	} else {
		next.Items = append(next.Items, item.WithQuantity(quantity))
		note = domain.ProductAdded(item.Name)
	}

	return settle(next, found, note)
}

func Increase(cart domain.Cart, key domain.ItemKey) Result {
	next := cart.Clone()
	idx, found := next.Find(key)
	if found {
		item := next.Items[idx]
		next.Items[idx] = item.WithQuantity(item.Quantity + 1)
	}
	return settle(next, found)
}

// Decrease lowers the quantity by one; a line at quantity 1 is removed instead.
func Decrease(cart domain.Cart, key domain.ItemKey) Result {
	next := cart.Clone()
	idx, found := next.Find(key)
	if found {
		item := next.Items[idx]
		if item.Quantity > 1 {
			next.Items[idx] = item.WithQuantity(item.Quantity - 1)
		} else {
			next.Items = without(next.Items, key)
		}
	}
	return settle(next, found)
}

// Remove deletes the line for key. Removing a missing line changes nothing but the
// shopper is still told the product is gone.
func Remove(cart domain.Cart, key domain.ItemKey) Result {
	next := cart.Clone()
	_, found := next.Find(key)
	next.Items = without(next.Items, key)
	return settle(next, found, domain.ProductRemoved())
}

func Clear(domain.Cart) Result {
	return settle(domain.NewCart(), true, domain.CartCleared())
}

// settle recomputes the grand total from the final item list.
func settle(next domain.Cart, matched bool, notes ...domain.Notification) Result {
	next.TotalPrice = domain.Total(next.Items)
	if notes == nil {
		notes = []domain.Notification{}
	}
	return Result{Cart: next, Notifications: notes, Matched: matched}
}

func without(items []domain.LineItem, key domain.ItemKey) []domain.LineItem {
	kept := items[:0]
	for _, item := range items {
		if item.Key() != key {
			kept = append(kept, item)
		}
	}
	return kept
}
