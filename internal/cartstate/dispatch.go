package cartstate

import (
	"github.com/fjod/cartstate/internal/domain"
)

// Reduce applies action to cart. Unknown actions leave the cart as it is.
func Reduce(cart domain.Cart, action domain.Action) Result {
	switch a := action.(type) {
	case domain.AddProduct:
		return Add(cart, a.Item)
	case domain.IncreaseQuantity:
		return Increase(cart, a.Key)
	case domain.DecreaseQuantity:
		return Decrease(cart, a.Key)
	case domain.RemoveProduct:
		return Remove(cart, a.Key)
	case domain.ClearCart:
		return Clear(cart)
	default:
		return settle(cart.Clone(), false)
	}
}
