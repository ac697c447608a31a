/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap access log (includes the request id)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests (preflight answered before auth)
  5. APIKeyAuth: FIB-X-AUTH shared secret, every path

ROUTES:
  POST /api/v1/cash-operation               Deposit / withdraw
  GET  /api/v1/cash-balance                 Daily balance history
  GET  /api/v1/cashiers/{id}/balances       Current balances
  GET  /api/v1/cashiers/{id}/transactions   Transaction log slice
  GET  /api/v1/admin/audit                  Last audit report
  POST /api/v1/admin/audit                  Run an audit now
  GET  /healthz                             Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: auth and access log
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig carries what the router needs beyond the handler.
type RouterConfig struct {
	APIKey         string
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *chi.Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger.With(zap.String("component", "http"))))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", AuthHeader},
		AllowCredentials: true,
	}))
	r.Use(APIKeyAuth(cfg.APIKey))

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/cash-operation", h.CashOperation)
		r.Get("/cash-balance", h.CashBalance)

		r.Route("/cashiers/{id}", func(r chi.Router) {
			r.Get("/balances", h.CashierBalances)
			r.Get("/transactions", h.CashierTransactions)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/audit", h.LastAudit)
			r.Post("/audit", h.RunAudit)
		})
	})

	return r
}
