package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fjod/cartstate/internal/cartstate"
	"github.com/fjod/cartstate/internal/domain"
	"github.com/fjod/cartstate/internal/logger"
)

// CartStore is what the handler needs from the cart service.
type CartStore interface {
	Snapshot(ctx context.Context, sessionID string) (domain.Cart, error)
	Dispatch(ctx context.Context, sessionID string, action domain.Action) (cartstate.Result, error)
}

type CartHandler struct {
	carts       CartStore
	timeout     time.Duration
	maxBodySize int64
}

func NewCartHandler(carts CartStore, timeout time.Duration, maxBodySize int64) *CartHandler {
	return &CartHandler{
		carts:       carts,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// MutationResponse is returned by every route that changes the cart.
type MutationResponse struct {
	Cart          domain.Cart           `json:"cart"`
	Notifications []domain.Notification `json:"notifications"`
	Matched       bool                  `json:"matched"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.Snapshot(ctx, getSessionID(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, cart)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var item domain.LineItem
	if !h.decodeBody(w, r, &item) {
		return
	}
	if err := domain.ValidateNewItem(item); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	h.dispatch(w, r, domain.AddProduct{Item: item})
}

func (h *CartHandler) IncreaseQuantity(w http.ResponseWriter, r *http.Request) {
	key, ok := itemKeyFromPath(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, domain.IncreaseQuantity{Key: key})
}

func (h *CartHandler) DecreaseQuantity(w http.ResponseWriter, r *http.Request) {
	key, ok := itemKeyFromPath(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, domain.DecreaseQuantity{Key: key})
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	key, ok := itemKeyFromPath(w, r)
	if !ok {
		return
	}
	h.dispatch(w, r, domain.RemoveProduct{Key: key})
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, domain.ClearCart{})
}

// DispatchAction accepts any action as a {"type", "payload"} envelope.
func (h *CartHandler) DispatchAction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return
		}
		respondError(w, r, http.StatusBadRequest, "invalid_request", "could not read request body")
		return
	}

	action, err := domain.DecodeAction(body)
	switch {
	case errors.Is(err, domain.ErrUnknownAction):
		respondError(w, r, http.StatusBadRequest, "unknown_action", err.Error())
		return
	case err != nil:
		respondError(w, r, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	h.dispatch(w, r, action)
}

func (h *CartHandler) dispatch(w http.ResponseWriter, r *http.Request, action domain.Action) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.carts.Dispatch(ctx, getSessionID(r.Context()), action)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if action.Type() == domain.ActionAddProduct {
		status = http.StatusCreated
	}
	respondJSON(w, r, status, MutationResponse{
		Cart:          result.Cart,
		Notifications: result.Notifications,
		Matched:       result.Matched,
	})
}

func (h *CartHandler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err := decoder.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "unexpected data after JSON body")
		return false
	}
	return true
}

func (h *CartHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger.FromContext(r.Context()).Error("cart service error", zap.Error(err))
	if errors.Is(err, context.DeadlineExceeded) {
		respondError(w, r, http.StatusGatewayTimeout, "timeout", "cart service timed out")
		return
	}
	respondError(w, r, http.StatusServiceUnavailable, "service_unavailable", "cart is temporarily unavailable")
}

// itemKeyFromPath reads {id} and the optional {size}. Unsized products use the
// routes without a size segment. chi matches on RawPath when the request carried
// escapes that Path cannot represent, so only then is the segment still encoded.
func itemKeyFromPath(w http.ResponseWriter, r *http.Request) (domain.ItemKey, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, http.StatusBadRequest, "invalid_product_id", "id must be a positive integer")
		return domain.ItemKey{}, false
	}

	size := chi.URLParam(r, "size")
	if r.URL.RawPath != "" {
		size, err = url.PathUnescape(size)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "invalid_size", "size is not a valid path segment")
			return domain.ItemKey{}, false
		}
	}

	return domain.ItemKey{ID: id, Size: size}, true
}
