package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ActionType string

const (
	ActionAddProduct       ActionType = "cart/addProduct"
	ActionIncreaseQuantity ActionType = "cart/increaseQuantity"
	ActionDecreaseQuantity ActionType = "cart/decreaseQuantity"
	ActionRemoveProduct    ActionType = "cart/removeProduct"
	ActionClearCart        ActionType = "cart/clearCart"
)

// MaxAddQuantity bounds a single add from the storefront.
const MaxAddQuantity = 99

var (
	ErrUnknownAction  = errors.New("unknown action type")
	ErrInvalidPayload = errors.New("invalid action payload")
)

// Action is a payload dispatched by the UI against a cart.
type Action interface {
	Type() ActionType
}

type AddProduct struct {
	Item LineItem
}

type IncreaseQuantity struct {
	Key ItemKey
}

type DecreaseQuantity struct {
	Key ItemKey
}

type RemoveProduct struct {
	Key ItemKey
}

type ClearCart struct{}

func (AddProduct) Type() ActionType       { return ActionAddProduct }
func (IncreaseQuantity) Type() ActionType { return ActionIncreaseQuantity }
func (DecreaseQuantity) Type() ActionType { return ActionDecreaseQuantity }
func (RemoveProduct) Type() ActionType    { return ActionRemoveProduct }
func (ClearCart) Type() ActionType        { return ActionClearCart }

// ValidateNewItem checks a descriptor coming from the storefront before it is added.
func ValidateNewItem(item LineItem) error {
	if item.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidPayload)
	}
	if item.Quantity < 1 || item.Quantity > MaxAddQuantity {
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidPayload, MaxAddQuantity)
	}
	if item.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidPayload)
	}
	return nil
}

// ValidateKey checks an (id, size) payload.
func ValidateKey(key ItemKey) error {
	if key.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidPayload)
	}
	return nil
}

type actionEnvelope struct {
	Type    ActionType      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeAction reads a {"type": ..., "payload": ...} envelope.
func DecodeAction(data []byte) (Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch env.Type {
	case ActionAddProduct:
		var item LineItem
		if err := unmarshalPayload(env.Payload, &item); err != nil {
			return nil, err
		}
		if err := ValidateNewItem(item); err != nil {
			return nil, err
		}
		return AddProduct{Item: item}, nil

	case ActionIncreaseQuantity, ActionDecreaseQuantity, ActionRemoveProduct:
		var key ItemKey
		if err := unmarshalPayload(env.Payload, &key); err != nil {
			return nil, err
		}
		if err := ValidateKey(key); err != nil {
			return nil, err
		}
		switch env.Type {
		case ActionIncreaseQuantity:
			return IncreaseQuantity{Key: key}, nil
		case ActionDecreaseQuantity:
			return DecreaseQuantity{Key: key}, nil
		default:
			return RemoveProduct{Key: key}, nil
		}

	case ActionClearCart:
		return ClearCart{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Type)
	}
}

// EncodeAction is the inverse of DecodeAction.
func EncodeAction(action Action) ([]byte, error) {
	var payload any
	switch a := action.(type) {
	case AddProduct:
		payload = a.Item
	case IncreaseQuantity:
		payload = a.Key
	case DecreaseQuantity:
		payload = a.Key
	case RemoveProduct:
		payload = a.Key
	case ClearCart:
		payload = nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(actionEnvelope{Type: action.Type(), Payload: raw})
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
