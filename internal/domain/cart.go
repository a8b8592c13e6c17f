package domain

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

// ItemKey identifies a line item: the same product in another size is another line.
type ItemKey struct {
	ID   int64  `json:"id"`
	Size string `json:"size"`
}

type LineItem struct {
	ID         int64
	Name       string
	Price      decimal.Decimal
	Quantity   int
	Size       string
	TotalPrice decimal.Decimal
	Catalog    Catalog
}

func (i LineItem) Key() ItemKey {
	return ItemKey{ID: i.ID, Size: i.Size}
}

// Subtotal is unit price × quantity.
func (i LineItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// WithQuantity returns a copy of the item holding quantity with its total recomputed.
func (i LineItem) WithQuantity(quantity int) LineItem {
	i.Quantity = quantity
	i.TotalPrice = i.Subtotal()
	return i
}

// Cart is the ordered list of line items and the grand total derived from it.
type Cart struct {
	Items      []LineItem
	TotalPrice decimal.Decimal
}

func NewCart() Cart {
	return Cart{Items: []LineItem{}, TotalPrice: decimal.Zero}
}

// Find returns the index of the line matching key.
func (c Cart) Find(key ItemKey) (int, bool) {
	for i, item := range c.Items {
		if item.Key() == key {
			return i, true
		}
	}
	return -1, false
}

// Clone copies the item slice. Catalog values are immutable and shared.
func (c Cart) Clone() Cart {
	items := make([]LineItem, len(c.Items))
	copy(items, c.Items)
	return Cart{Items: items, TotalPrice: c.TotalPrice}
}

func (c Cart) Len() int {
	return len(c.Items)
}

// Total folds the items into the grand total.
func Total(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

var errLineItemNotObject = errors.New("line item must be a JSON object")

// reservedFields are owned by the line item; every other descriptor field is catalog metadata.
var reservedFields = []string{"id", "name", "price", "quantity", "size", "totalPrice"}

type lineItemFields struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Size     string          `json:"size"`
}

// MarshalJSON renders the item flat, catalog fields side by side with the line fields.
func (i LineItem) MarshalJSON() ([]byte, error) {
	fields := i.Catalog.Fields()

	id, err := json.Marshal(i.ID)
	if err != nil {
		return nil, err
	}
	name, err := json.Marshal(i.Name)
	if err != nil {
		return nil, err
	}
	size, err := json.Marshal(i.Size)
	if err != nil {
		return nil, err
	}
	quantity, err := json.Marshal(i.Quantity)
	if err != nil {
		return nil, err
	}

	fields["id"] = id
	fields["name"] = name
	fields["price"] = json.RawMessage(i.Price.String())
	fields["quantity"] = quantity
	fields["size"] = size
	fields["totalPrice"] = json.RawMessage(i.TotalPrice.String())

	return json.Marshal(fields)
}

// UnmarshalJSON reads a flat product descriptor. The incoming totalPrice is ignored
// and recomputed from price and quantity.
func (i *LineItem) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errLineItemNotObject
	}

	var known lineItemFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	for _, key := range reservedFields {
		delete(fields, key)
	}

	item := LineItem{
		ID:      known.ID,
		Name:    known.Name,
		Price:   known.Price,
		Size:    known.Size,
		Catalog: NewCatalog(fields),
	}
	*i = item.WithQuantity(known.Quantity)
	return nil
}

type cartJSON struct {
	Items      []LineItem      `json:"cart"`
	TotalPrice json.RawMessage `json:"totalPrice"`
}

func (c Cart) MarshalJSON() ([]byte, error) {
	items := c.Items
	if items == nil {
		items = []LineItem{}
	}
	return json.Marshal(cartJSON{
		Items:      items,
		TotalPrice: json.RawMessage(c.TotalPrice.String()),
	})
}

// UnmarshalJSON restores a snapshot. The grand total is derived again from the items
// so a stale stored total can never leak back in.
func (c *Cart) UnmarshalJSON(data []byte) error {
	var raw cartJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	items := raw.Items
	if items == nil {
		items = []LineItem{}
	}
	*c = Cart{Items: items, TotalPrice: Total(items)}
	return nil
}
