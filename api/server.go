/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/catalog/*        Catalog item management and CSV import
  /api/patrons/*        Patron management
  /api/loans/*          Checkout, return, extend, search
  /api/settings/*       Loan policy and code format configuration
  /api/reports/*        Histories, statistics, overdue report
  /api/audit            Circulation audit log

SECURITY NOTE:
  No authentication middleware. The system targets single-operator
  deployments behind a trusted network.

SEE ALSO:
  - handlers.go: Handler context and error mapping
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Catalog routes
		r.Route("/catalog", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Get("/count", h.CountItems)
			r.Get("/lookup", h.LookupItem)
			r.Get("/{id}", h.GetItem)
			r.Put("/{id}", h.UpdateItem)
			r.Delete("/{id}", h.DeleteItem)
			r.Put("/{id}/status", h.SetItemStatus)
		})

		// CSV import routes
		r.Route("/import", func(r chi.Router) {
			r.Post("/csv", h.ImportCSV)
			r.Post("/csv/preview", h.PreviewImport)
		})

		// Patron routes
		r.Route("/patrons", func(r chi.Router) {
			r.Get("/", h.ListPatrons)
			r.Post("/", h.CreatePatron)
			r.Get("/count", h.CountPatrons)
			r.Get("/{id}", h.GetPatron)
			r.Put("/{id}", h.UpdatePatron)
			r.Delete("/{id}", h.DeletePatron)
		})

		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Post("/checkout", h.Checkout)
			r.Get("/count", h.CountLoans)
			r.Get("/overdue", h.ListOverdueLoans)
			r.Get("/{id}", h.GetLoan)
			r.Post("/{id}/return", h.ReturnLoan)
			r.Post("/{id}/extend", h.ExtendLoan)
		})

		// Settings routes
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.ListSettings)
			r.Route("/catalog-code", func(r chi.Router) {
				r.Get("/config", h.GetCodeConfig)
				r.Put("/config", h.UpdateCodeConfig)
				r.Post("/preview", h.PreviewCode)
			})
			r.Get("/{key}", h.GetSetting)
			r.Put("/{key}", h.UpdateSetting)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/patrons/{id}", h.PatronHistoryReport)
			r.Get("/catalog/{id}", h.ItemHistoryReport)
			r.Get("/yearly", h.YearlyStatisticsReport)
			r.Get("/overdue", h.OverdueReport)
		})

		// Audit log
		r.Get("/audit", h.QueryAudit)
	})

	return r
}
