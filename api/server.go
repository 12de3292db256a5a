/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route groups. This is
  the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the form frontend

ROUTE GROUPS:
  /api/orders/*      Order creation/edit, receipt, unit queries
  /api/logs/*        Usage records: use, fulfill, edit, delete
  /api/stock         On-hand counts per stock key
  /api/materials/*   Material master
  /api/admin/*       Manual adjustment
  /api/categories    Cascade deletion
  /api/config        Externally-owned supplier/category configuration

SECURITY NOTE:
  No authentication middleware; session handling lives outside this
  service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

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
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Post("/receive", h.ReceiveOrder)
		})

		r.Route("/units", func(r chi.Router) {
			r.Get("/", h.ListUnits)
			r.Delete("/", h.DeleteUnits)
		})

		r.Get("/stock", h.StockLevels)

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", h.ListLogs)
			r.Post("/", h.UseStock)
			r.Get("/{id}", h.GetLog)
			r.Put("/{id}", h.EditLog)
			r.Delete("/{id}", h.DeleteLog)
			r.Post("/{id}/fulfill", h.FulfillLog)
		})

		r.Route("/materials", func(r chi.Router) {
			r.Get("/", h.ListMaterials)
			r.Post("/", h.SaveMaterial)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjust", h.AdjustStock)
		})

		r.Delete("/categories", h.DeleteCategories)

		r.Get("/config", h.GetConfig)
	})

	return r
}
