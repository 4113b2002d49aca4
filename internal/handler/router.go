package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/raffle-ledger/internal/middleware"
	"github.com/mmeshcher/raffle-ledger/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса билетов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/balance", h.GetBalance)
			r.Get("/ledger", h.GetLedger)
			r.Post("/tickets/purchase", h.PurchaseTickets)
			r.Get("/entries", h.GetEntries)
		})
	})

	r.Route("/api/raffles", func(r chi.Router) {
		r.Get("/", h.ListRaffles)
		r.Get("/{id}", h.GetRaffle)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/", h.CreateRaffle)
			r.Post("/{id}/entries", h.EnterRaffle)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireRole(h.roleOf, model.RoleAdmin))

		r.Patch("/users/{id}", h.UpdateUser)
		r.Post("/users/{id}/adjustments", h.AdjustBalance)
		r.Get("/users/{id}/reconcile", h.Reconcile)
		r.Post("/raffles/{id}/refund", h.RefundRaffle)
		r.Patch("/raffles/{id}", h.SetRaffleStatus)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
