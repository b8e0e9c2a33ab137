// Package server assembles the HTTP router.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skillsbank/transaction-service/internal/handlers"
	"github.com/skillsbank/transaction-service/internal/middleware"
)

// NewRouter wires the transaction endpoints and operational routes.
func NewRouter(h *handlers.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Prometheus)

	r.Route("/v1/transaction", func(r chi.Router) {
		r.Post("/transfer", h.Transfer)
		r.Get("/list_transaction", h.ListTransactions)
		r.Get("/healthcheck", h.Healthcheck)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
