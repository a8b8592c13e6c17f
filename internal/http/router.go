package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts the cart routes behind the standard middleware chain.
func NewRouter(cartHandler *CartHandler, log *zap.Logger, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RequestLoggerMiddleware(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(SessionMiddleware)

		r.Get("/", cartHandler.GetCart)
		r.Delete("/", cartHandler.ClearCart)
		r.Post("/actions", cartHandler.DispatchAction)

		r.Post("/items", cartHandler.AddItem)
		r.Route("/items/{id}", func(r chi.Router) {
			r.Post("/increase", cartHandler.IncreaseQuantity)
			r.Post("/decrease", cartHandler.DecreaseQuantity)
			r.Delete("/", cartHandler.RemoveItem)

			r.Post("/{size}/increase", cartHandler.IncreaseQuantity)
			r.Post("/{size}/decrease", cartHandler.DecreaseQuantity)
			r.Delete("/{size}", cartHandler.RemoveItem)
		})
	})

	return r
}
